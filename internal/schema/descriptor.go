// Package schema holds the declared relationship schema: the tables a
// ledger directory is expected to contain, the columns each table carries,
// and the foreign-key relationships between them.
//
// The descriptor is read-only input for a validation run. Malformed
// descriptors are a hard error class of their own, distinct from
// data-quality findings: Load and Validate fail fast so that validation
// logic downstream can assume a well-formed declaration.
package schema

import (
	"fmt"
	"strings"
)

// Cardinality values accepted in a Relationship declaration.
const (
	OneToMany = "one-to-many"
	ManyToOne = "many-to-one"
)

// TableSchema declares one table: its name, the ordered columns the CSV file
// is expected to carry, and the primary key (one or more declared columns).
type TableSchema struct {
	Name       string   `json:"name" yaml:"name"`
	Columns    []string `json:"columns" yaml:"columns"`
	PrimaryKey []string `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
}

// HasColumn reports whether name is declared on the table. Comparison is
// exact; fuzzy resolution against actual CSV headers is the matcher's job,
// not the descriptor's.
func (t TableSchema) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Relationship declares a foreign-key link between two declared tables.
//
// Cardinality is one of OneToMany or ManyToOne. The "many" side carries the
// foreign key; the "one" side carries the referenced key.
type Relationship struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	FromTable   string `json:"from_table" yaml:"from_table"`
	FromColumn  string `json:"from_column" yaml:"from_column"`
	ToTable     string `json:"to_table" yaml:"to_table"`
	ToColumn    string `json:"to_column" yaml:"to_column"`
	Cardinality string `json:"cardinality" yaml:"cardinality"`
}

// ManySide returns the table and column holding the foreign key.
func (r Relationship) ManySide() (table, column string) {
	if r.Cardinality == OneToMany {
		return r.ToTable, r.ToColumn
	}
	return r.FromTable, r.FromColumn
}

// OneSide returns the referenced table and its key column.
func (r Relationship) OneSide() (table, column string) {
	if r.Cardinality == OneToMany {
		return r.FromTable, r.FromColumn
	}
	return r.ToTable, r.ToColumn
}

// String renders the relationship in a stable human-readable form used in
// issue and evidence messages.
func (r Relationship) String() string {
	mt, mc := r.ManySide()
	ot, oc := r.OneSide()
	return fmt.Sprintf("%s.%s -> %s.%s", mt, mc, ot, oc)
}

// Descriptor is the declared relationship schema for one run: an ordered
// table list plus an ordered relationship list. It is immutable once loaded;
// callers reload per run rather than mutating a shared copy.
type Descriptor struct {
	Tables        []TableSchema  `json:"tables" yaml:"tables"`
	Relationships []Relationship `json:"relationships,omitempty" yaml:"relationships,omitempty"`
}

// Table returns the declared schema for name, if present.
func (d Descriptor) Table(name string) (TableSchema, bool) {
	for _, t := range d.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}

// ForeignKeys returns the relationships whose many side is the named table,
// in declaration order. These are the columns the inference engine may be
// asked to repair, and the sibling keys it draws evidence from.
func (d Descriptor) ForeignKeys(table string) []Relationship {
	var out []Relationship
	for _, r := range d.Relationships {
		if mt, _ := r.ManySide(); mt == table {
			out = append(out, r)
		}
	}
	return out
}

// Validate checks the descriptor's internal consistency and returns the
// first violated rule as an error.
//
// Rules:
//   - at least one table; table names non-empty and unique
//   - every table declares at least one column; column names unique per table
//   - primary_key columns are a subset of the table's columns
//   - every relationship names declared tables and declared columns on both
//     ends, and carries a known cardinality
//
// Errors:
//   - The returned error names the offending table, column, or relationship
//     so operators can fix the descriptor file directly.
func (d Descriptor) Validate() error {
	if len(d.Tables) == 0 {
		return fmt.Errorf("schema: descriptor declares no tables")
	}

	seen := make(map[string]bool, len(d.Tables))
	for i, t := range d.Tables {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("schema: tables[%d]: empty table name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("schema: duplicate table %q", t.Name)
		}
		seen[t.Name] = true

		if len(t.Columns) == 0 {
			return fmt.Errorf("schema: table %q declares no columns", t.Name)
		}
		cols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if strings.TrimSpace(c) == "" {
				return fmt.Errorf("schema: table %q: empty column name", t.Name)
			}
			if cols[c] {
				return fmt.Errorf("schema: table %q: duplicate column %q", t.Name, c)
			}
			cols[c] = true
		}
		for _, pk := range t.PrimaryKey {
			if !cols[pk] {
				return fmt.Errorf("schema: table %q: primary key column %q is not declared", t.Name, pk)
			}
		}
	}

	for i, r := range d.Relationships {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("relationships[%d]", i)
		}
		if r.Cardinality != OneToMany && r.Cardinality != ManyToOne {
			return fmt.Errorf("schema: %s: unknown cardinality %q", label, r.Cardinality)
		}
		from, ok := d.Table(r.FromTable)
		if !ok {
			return fmt.Errorf("schema: %s: from_table %q is not declared", label, r.FromTable)
		}
		if !from.HasColumn(r.FromColumn) {
			return fmt.Errorf("schema: %s: column %q is not declared on table %q", label, r.FromColumn, r.FromTable)
		}
		to, ok := d.Table(r.ToTable)
		if !ok {
			return fmt.Errorf("schema: %s: to_table %q is not declared", label, r.ToTable)
		}
		if !to.HasColumn(r.ToColumn) {
			return fmt.Errorf("schema: %s: column %q is not declared on table %q", label, r.ToColumn, r.ToTable)
		}
	}

	return nil
}
