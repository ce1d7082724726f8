package repository

import (
	"context"
	"errors"

	"stagehand/internal/codec"
)

// ErrNotFound is returned when a room has no stored snapshot
var ErrNotFound = errors.New("repository: not found")

// Repository defines the interface for room persistence
type Repository interface {
	// Snapshots: one per room, replaced on every save
	SaveSnapshot(ctx context.Context, frame *codec.Frame) error
	LoadSnapshot(ctx context.Context, room string) (*codec.Frame, error)

	// Journal: committed update frames in sequence order
	AppendJournal(ctx context.Context, frame *codec.Frame) error
	Journal(ctx context.Context, room string, afterSeq uint64, limit int) ([]*codec.Frame, error)
	TrimJournal(ctx context.Context, room string, throughSeq uint64) (int64, error)

	// Rooms lists every room with a snapshot or journal entry
	Rooms(ctx context.Context) ([]string, error)

	// Close releases resources
	Close() error
}
