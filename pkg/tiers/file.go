package tiers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk layout of a tier table:
//
//	tiers:
//	  - name: starter
//	    executions: 50
//	    files: 50
type fileFormat struct {
	Tiers []struct {
		Name       string `yaml:"name"`
		Executions int64  `yaml:"executions"`
		Files      int64  `yaml:"files"`
	} `yaml:"tiers"`
}

// Parse decodes a YAML tier table
func Parse(data []byte) (*Table, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tier table: %w", err)
	}

	entries := make([]Entry, 0, len(f.Tiers))
	for _, t := range f.Tiers {
		entries = append(entries, Entry{
			Name:   Tier(t.Name),
			Limits: Limits{Executions: t.Executions, Files: t.Files},
		})
	}
	return NewTable(entries)
}

// LoadFile reads a YAML tier table from disk
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier table %s: %w", path, err)
	}
	return Parse(data)
}
