package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a descriptor file. The format is selected by
// extension: .yaml/.yml decode as YAML, everything else as JSON (the
// descriptor shipped alongside ledger directories is conventionally
// relationship_schema.json).
//
// Errors:
//   - unreadable file, undecodable content, or a Validate failure. All three
//     are hard errors; a run never proceeds on a partial descriptor.
func Load(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("schema: read descriptor: %w", err)
	}

	var d Descriptor
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &d); err != nil {
			return Descriptor{}, fmt.Errorf("schema: decode %s: %w", filepath.Base(path), err)
		}
	default:
		if err := json.Unmarshal(data, &d); err != nil {
			return Descriptor{}, fmt.Errorf("schema: decode %s: %w", filepath.Base(path), err)
		}
	}

	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Save writes the descriptor as indented JSON. Used by the starter-schema
// generator; hand-maintained descriptors are free to use YAML instead.
func Save(path string, d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("schema: encode descriptor: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("schema: write descriptor: %w", err)
	}
	return nil
}
