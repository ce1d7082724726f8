package codec

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"stagehand/internal/state"
)

// YAMLCodec handles YAML seed import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// yamlSeed represents the YAML structure for seed files:
//
//	members:
//	  - id: 0
//	    data: {name: Jon, age: 23}
type yamlSeed struct {
	Members []yamlMember `yaml:"members"`
}

type yamlMember struct {
	ID   int            `yaml:"id"`
	Data map[string]any `yaml:"data"`
}

// Parse imports seed data from YAML
func (c *YAMLCodec) Parse(r io.Reader) (*Seed, error) {
	var ys yamlSeed
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&ys); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	seed := NewSeed()
	for _, ym := range ys.Members {
		if ym.ID < 0 {
			return nil, fmt.Errorf("failed to parse YAML: negative member id %d", ym.ID)
		}
		if _, dup := seed.Members[ym.ID]; dup {
			return nil, fmt.Errorf("failed to parse YAML: duplicate member id %d", ym.ID)
		}
		data := NormalizeRecord(ym.Data)
		if data == nil {
			data = make(state.Record)
		}
		seed.Members[ym.ID] = data
	}

	return seed, nil
}

// Export exports seed data to YAML, members ordered by id
func (c *YAMLCodec) Export(seed *Seed, w io.Writer) error {
	ys := yamlSeed{
		Members: make([]yamlMember, 0, len(seed.Members)),
	}
	for _, id := range seed.IDs() {
		ys.Members = append(ys.Members, yamlMember{
			ID:   id,
			Data: seed.Members[id],
		})
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(&ys); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	return nil
}
