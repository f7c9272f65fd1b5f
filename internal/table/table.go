// Package table loads, holds, and saves one CSV ledger table.
//
// A Table keeps the header row and data rows positionally, so renaming a
// column touches only the header. Rows are identified by their 0-based
// ordinal, which is the audit identity for CSV data (the files carry no row
// IDs).
package table

import (
	"fmt"
	"strings"
)

// Table is one loaded CSV table. Values are raw strings exactly as read;
// interpretation (missing markers, numeric parsing) happens at the callers.
type Table struct {
	Name    string
	Path    string
	Headers []string
	Rows    [][]string
}

// ColumnIndex returns the position of the exact header name.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, h := range t.Headers {
		if h == name {
			return i, true
		}
	}
	return 0, false
}

// Value returns the raw cell at (row, column). The second return is false
// when the column does not exist or the row is out of range.
func (t *Table) Value(row int, column string) (string, bool) {
	i, ok := t.ColumnIndex(column)
	if !ok || row < 0 || row >= len(t.Rows) {
		return "", false
	}
	return t.Rows[row][i], true
}

// SetValue overwrites the raw cell at (row, column).
func (t *Table) SetValue(row int, column, value string) error {
	i, ok := t.ColumnIndex(column)
	if !ok {
		return fmt.Errorf("table: %s has no column %q", t.Name, column)
	}
	if row < 0 || row >= len(t.Rows) {
		return fmt.Errorf("table: %s row %d out of range", t.Name, row)
	}
	t.Rows[row][i] = value
	return nil
}

// RenameColumn changes a header in place. Data rows are untouched; the
// column keeps its position.
func (t *Table) RenameColumn(from, to string) error {
	if _, exists := t.ColumnIndex(to); exists && from != to {
		return fmt.Errorf("table: %s already has a column %q", t.Name, to)
	}
	i, ok := t.ColumnIndex(from)
	if !ok {
		return fmt.Errorf("table: %s has no column %q", t.Name, from)
	}
	t.Headers[i] = to
	return nil
}

// Column returns all values of one column in row order, or nil when the
// column does not exist.
func (t *Table) Column(name string) []string {
	i, ok := t.ColumnIndex(name)
	if !ok {
		return nil
	}
	out := make([]string, len(t.Rows))
	for r := range t.Rows {
		out[r] = t.Rows[r][i]
	}
	return out
}

// IsMissing reports whether a raw cell counts as a missing value: empty,
// whitespace-only, or the literal string "nan" in any case (the null marker
// these exports produce).
func IsMissing(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "nan")
}
