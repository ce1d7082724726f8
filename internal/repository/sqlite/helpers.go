package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"stagehand/internal/codec"
	"stagehand/internal/state"
)

// timeLayout is how timestamps are stored; lexical order is time order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// formatTime renders t in UTC for storage; the zero time is stored as now
func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

// parseTime reads a stored timestamp; unparsable values yield the zero time
func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// marshalRecord encodes record data for a JSON column
func marshalRecord(r state.Record) (string, error) {
	if r == nil {
		r = state.Record{}
	}
	data, err := codec.EncodeRecord(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalRecord decodes a JSON column into a normalized record
func unmarshalRecord(data string) (state.Record, error) {
	if data == "" {
		return state.Record{}, nil
	}
	r, err := codec.DecodeRecord([]byte(data))
	if err != nil {
		return nil, err
	}
	if r == nil {
		r = state.Record{}
	}
	return r, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanFrame reads id, room, seq, data, digest, time columns
func scanFrame(s scanner, kind codec.FrameKind) (*codec.Frame, error) {
	var (
		id, room, data, digest string
		seq                    int64
		at                     sql.NullString
	)
	if err := s.Scan(&id, &room, &seq, &data, &digest, &at); err != nil {
		return nil, err
	}
	rec, err := unmarshalRecord(data)
	if err != nil {
		return nil, fmt.Errorf("frame %s: %w", id, err)
	}
	return &codec.Frame{
		ID:     id,
		Kind:   kind,
		Room:   room,
		Seq:    uint64(seq),
		Data:   rec,
		Digest: digest,
		Time:   parseTime(at),
	}, nil
}
