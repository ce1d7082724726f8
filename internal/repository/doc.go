// Package repository defines the persistence interface for rooms.
//
// A room is stored as its latest snapshot frame plus a journal of the
// update frames committed after it. Restoring a room loads the snapshot and
// replays the journal entries with a higher sequence number; checkpointing
// saves a new snapshot and trims the journal up to it.
//
// # SQLite Implementation
//
// The sqlite subpackage implements Repository on modernc.org/sqlite (pure
// Go, no cgo) with WAL mode. Record data is stored as JSON and normalized
// on load, so numbers compare equal to the values that were saved.
//
// # Testing
//
// The sqlite repository is tested against in-memory databases.
package repository
