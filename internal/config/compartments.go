package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"wastewatch/internal/core"
)

type compartmentFile struct {
	Compartments []compartmentEntry `yaml:"compartments"`
}

type compartmentEntry struct {
	ID       int    `yaml:"id"`
	Type     string `yaml:"type"`
	Capacity int    `yaml:"capacity"`
	Items    int    `yaml:"items"`
}

// LoadCompartments reads a bin layout such as:
//
//	compartments:
//	  - id: 1
//	    type: Recyclable - Paper
//	    capacity: 120
//
// An empty path yields the default seven-slot layout.
func LoadCompartments(path string) ([]core.Compartment, error) {
	if path == "" {
		return core.DefaultCompartments(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compartments file: %w", err)
	}
	return ParseCompartments(b)
}

func ParseCompartments(b []byte) ([]core.Compartment, error) {
	var f compartmentFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse compartments: %w", err)
	}
	if len(f.Compartments) == 0 {
		return nil, fmt.Errorf("parse compartments: no compartments defined")
	}

	seen := make(map[int]bool, len(f.Compartments))
	out := make([]core.Compartment, 0, len(f.Compartments))
	for i, e := range f.Compartments {
		if e.ID <= 0 {
			return nil, fmt.Errorf("compartment %d: id must be positive", i+1)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("compartment %d: duplicate id %d", i+1, e.ID)
		}
		seen[e.ID] = true

		c := core.Compartment{ID: e.ID, Type: e.Type, Capacity: e.Capacity}
		if c.Capacity <= 0 {
			c.Capacity = core.DefaultCapacity
		}
		c.Grow(e.Items)
		out = append(out, c)
	}
	return out, nil
}
