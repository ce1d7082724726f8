package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"stagehand/internal/state"
)

// FrameKind tells a receiver how to treat a frame's data
type FrameKind string

const (
	// FrameSnapshot carries the room's full committed data
	FrameSnapshot FrameKind = "snapshot"
	// FrameUpdate carries a group update payload
	FrameUpdate FrameKind = "update"
)

// Frame is the unit sent to peers. Seq increases by one per committed
// update; a snapshot shares the Seq of the last update it includes. Digest
// is the Fingerprint of the sender's committed data after the frame.
type Frame struct {
	ID     string       `json:"id"`
	Kind   FrameKind    `json:"kind"`
	Room   string       `json:"room"`
	Seq    uint64       `json:"seq"`
	Data   state.Record `json:"data"`
	Digest string       `json:"digest"`
	Time   time.Time    `json:"time"`
}

// NewFrameID returns a new sortable frame id
func NewFrameID() string {
	return ulid.Make().String()
}

// Validate checks the fields every receiver relies on
func (f *Frame) Validate() error {
	switch f.Kind {
	case FrameSnapshot, FrameUpdate:
	default:
		return fmt.Errorf("frame %s: unknown kind %q", f.ID, f.Kind)
	}
	if f.Kind == FrameSnapshot && f.Data == nil {
		return fmt.Errorf("frame %s: snapshot without data", f.ID)
	}
	return nil
}

// EncodeFrame encodes a frame as JSON
func EncodeFrame(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// DecodeFrame decodes and validates a frame; its data is normalized
func DecodeFrame(data []byte) (*Frame, error) {
	var raw struct {
		Frame
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	f := raw.Frame
	if len(raw.Data) > 0 {
		rec, err := DecodeRecord(raw.Data)
		if err != nil {
			return nil, fmt.Errorf("decode frame %s: %w", f.ID, err)
		}
		f.Data = rec
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}
