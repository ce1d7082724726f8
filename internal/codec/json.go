package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"stagehand/internal/state"
)

// JSONCodec handles JSON import/export
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

type jsonSeed struct {
	Members map[string]map[string]any `json:"members"`
}

// Parse imports seed data from JSON: {"members": {"0": {...}, ...}}
func (c *JSONCodec) Parse(r io.Reader) (*Seed, error) {
	var js jsonSeed
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	if err := decoder.Decode(&js); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	members := make(state.Record, len(js.Members))
	for k, v := range js.Members {
		if v == nil {
			continue
		}
		members[k] = NormalizeRecord(v)
	}
	seed, err := SeedFromRecord(members)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return seed, nil
}

// Export exports seed data to JSON
func (c *JSONCodec) Export(seed *Seed, w io.Writer) error {
	out := struct {
		Members state.Record `json:"members"`
	}{Members: seed.Record()}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(out); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}

// DecodeRecord decodes a JSON object into a normalized record. The literal
// null decodes to a nil record.
func DecodeRecord(data []byte) (state.Record, error) {
	var raw map[string]any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return NormalizeRecord(raw), nil
}

// EncodeRecord encodes a record as compact JSON with sorted keys
func EncodeRecord(r state.Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}
