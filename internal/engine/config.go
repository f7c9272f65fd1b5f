package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"ledgerfix/internal/infer"
)

// Config drives one run. The zero value is not usable; start from
// DefaultConfig and overlay a file and/or flag values.
type Config struct {
	// TablesDir holds the ledger CSV files.
	TablesDir string `json:"tables_dir" yaml:"tables_dir"`

	// SchemaPath is the relationship descriptor (JSON or YAML by extension).
	SchemaPath string `json:"schema" yaml:"schema"`

	// User is the audit identity recorded on applied changes.
	User string `json:"user" yaml:"user"`

	// LogDir receives the run log and the append-only audit log.
	LogDir string `json:"log_dir" yaml:"log_dir"`

	// Encoding names the CSV charset ("", "utf-8", "latin-1", "windows-1252").
	Encoding string `json:"encoding" yaml:"encoding"`

	Validation ValidationConfig `json:"validation" yaml:"validation"`
	Inference  InferenceConfig  `json:"inference" yaml:"inference"`
	Repair     RepairConfig     `json:"repair" yaml:"repair"`
}

// ValidationConfig tunes schema validation.
type ValidationConfig struct {
	// EmptyThreshold is the tolerated fraction of empty foreign-key cells
	// before a warning fires. 0 warns on any empty cell.
	EmptyThreshold float64 `json:"empty_threshold" yaml:"empty_threshold"`

	// TypeCheck enables the endpoint type-compatibility check.
	TypeCheck bool `json:"type_check" yaml:"type_check"`

	// Synonyms extends the matcher's built-in synonym table.
	Synonyms map[string][]string `json:"synonyms,omitempty" yaml:"synonyms,omitempty"`

	// MinRatio overrides the fuzzy-match similarity floor. 0 keeps the
	// default.
	MinRatio float64 `json:"min_ratio" yaml:"min_ratio"`
}

// InferenceConfig tunes key inference.
type InferenceConfig struct {
	// EvidenceColumns vote in the majority rule alongside sibling keys.
	EvidenceColumns []string `json:"evidence_columns,omitempty" yaml:"evidence_columns,omitempty"`

	// Bands enables the amount-band rule when non-empty.
	Bands []BandConfig `json:"bands,omitempty" yaml:"bands,omitempty"`

	// AmountColumn and NameColumn override the band rule's column names.
	AmountColumn string `json:"amount_column,omitempty" yaml:"amount_column,omitempty"`
	NameColumn   string `json:"name_column,omitempty" yaml:"name_column,omitempty"`
}

// BandConfig declares one amount band. Min and Max are decimal strings so
// money amounts survive config round-trips exactly.
type BandConfig struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Min     string `json:"min" yaml:"min"`
	Max     string `json:"max" yaml:"max"`
}

// RepairConfig tunes the repair pass.
type RepairConfig struct {
	// Threshold is the minimum confidence the auto policy accepts.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// BackupDir receives pre-mutation snapshots and the run manifest.
	BackupDir string `json:"backup_dir" yaml:"backup_dir"`
}

// DefaultConfig returns the conventional desk-side layout: a Tables
// directory next to the descriptor, logs and backups as siblings.
func DefaultConfig() Config {
	return Config{
		TablesDir:  "Tables",
		SchemaPath: "relationship_schema.json",
		User:       "system",
		LogDir:     "logs",
		Repair: RepairConfig{
			Threshold: 0.7,
			BackupDir: "backups",
		},
	}
}

// LoadConfig reads an overrides file on top of DefaultConfig. The format is
// selected by extension: .yaml/.yml decode as YAML, everything else as JSON.
//
// Edge cases:
//   - Keys absent from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("engine: read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("engine: decode %s: %w", filepath.Base(path), err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("engine: decode %s: %w", filepath.Base(path), err)
		}
	}

	return cfg, nil
}

// Validate checks the configuration and returns the first violated rule.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TablesDir) == "" {
		return fmt.Errorf("engine: tables_dir must not be empty")
	}
	if strings.TrimSpace(c.SchemaPath) == "" {
		return fmt.Errorf("engine: schema must not be empty")
	}
	if c.Validation.EmptyThreshold < 0 || c.Validation.EmptyThreshold > 1 {
		return fmt.Errorf("engine: validation.empty_threshold %v outside [0,1]", c.Validation.EmptyThreshold)
	}
	if c.Validation.MinRatio < 0 || c.Validation.MinRatio > 1 {
		return fmt.Errorf("engine: validation.min_ratio %v outside [0,1]", c.Validation.MinRatio)
	}
	if c.Repair.Threshold < 0 || c.Repair.Threshold > 1 {
		return fmt.Errorf("engine: repair.threshold %v outside [0,1]", c.Repair.Threshold)
	}
	if _, err := c.Inference.bands(); err != nil {
		return err
	}
	return nil
}

// bands parses the configured band declarations.
func (c InferenceConfig) bands() ([]infer.Band, error) {
	if len(c.Bands) == 0 {
		return nil, nil
	}
	out := make([]infer.Band, 0, len(c.Bands))
	for i, b := range c.Bands {
		if strings.TrimSpace(b.Pattern) == "" {
			return nil, fmt.Errorf("engine: inference.bands[%d]: empty pattern", i)
		}
		lo, err := decimal.NewFromString(b.Min)
		if err != nil {
			return nil, fmt.Errorf("engine: inference.bands[%d]: min %q: %w", i, b.Min, err)
		}
		hi, err := decimal.NewFromString(b.Max)
		if err != nil {
			return nil, fmt.Errorf("engine: inference.bands[%d]: max %q: %w", i, b.Max, err)
		}
		if lo.GreaterThan(hi) {
			return nil, fmt.Errorf("engine: inference.bands[%d]: min %s exceeds max %s", i, b.Min, b.Max)
		}
		out = append(out, infer.Band{Pattern: b.Pattern, Min: lo, Max: hi})
	}
	return out, nil
}
