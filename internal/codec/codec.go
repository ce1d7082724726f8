// Package codec converts room data between its in-memory form and the
// formats it travels in: JSON frames on the wire, YAML and JSON seed files
// on disk. Decoded numbers are normalized so that values survive a round
// trip through any codec unchanged.
package codec

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"stagehand/internal/state"
)

// Seed is a set of members keyed by id, as loaded from a seed file or
// exported from a room
type Seed struct {
	Members map[int]state.Record
}

// NewSeed creates an empty seed
func NewSeed() *Seed {
	return &Seed{Members: make(map[int]state.Record)}
}

// IDs returns the member ids in ascending order
func (s *Seed) IDs() []int {
	ids := make([]int, 0, len(s.Members))
	for id := range s.Members {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Record renders the seed the way a group stores it: decimal id keys
func (s *Seed) Record() state.Record {
	out := make(state.Record, len(s.Members))
	for id, data := range s.Members {
		out[strconv.Itoa(id)] = data
	}
	return out
}

// SeedFromRecord is the inverse of Seed.Record. Non-record values are
// rejected.
func SeedFromRecord(r state.Record) (*Seed, error) {
	seed := NewSeed()
	for key, v := range r {
		id, err := strconv.Atoi(key)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid member id %q", key)
		}
		data, ok := state.AsRecord(v)
		if !ok {
			return nil, fmt.Errorf("member %d: expected an object, got %T", id, v)
		}
		seed.Members[id] = data
	}
	return seed, nil
}

// Importer interface for importing seed data from various formats
type Importer interface {
	Parse(r io.Reader) (*Seed, error)
	Format() string
}

// Exporter interface for exporting seed data to various formats
type Exporter interface {
	Export(seed *Seed, w io.Writer) error
	Format() string
}

// Codec both imports and exports
type Codec interface {
	Importer
	Exporter
}

// ForFormat returns the codec registered for a format name or file
// extension ("json", ".yaml", "yml")
func ForFormat(format string) (Codec, error) {
	switch format {
	case "json", ".json":
		return NewJSONCodec(), nil
	case "yaml", "yml", ".yaml", ".yml":
		return NewYAMLCodec(), nil
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// LoadSeed reads a seed file, picking the codec from its extension
func LoadSeed(path string) (*Seed, error) {
	c, err := ForFormat(filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("load seed %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}
	defer f.Close()

	seed, err := c.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("load seed %s: %w", path, err)
	}
	return seed, nil
}
