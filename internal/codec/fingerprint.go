package codec

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"stagehand/internal/state"
)

// Fingerprint returns a digest of r that two peers holding equal data agree
// on. Values are normalized first, so 23 and 23.0 hash alike, and map keys
// are encoded in sorted order.
func Fingerprint(r state.Record) (string, error) {
	canonical, err := json.Marshal(NormalizeRecord(r))
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
