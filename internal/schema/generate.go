package schema

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// GenerateOptions bounds the sampling performed by Generate.
type GenerateOptions struct {
	// SampleRows caps how many data rows are read per CSV when computing
	// uniqueness. If <= 0, defaults to 200.
	SampleRows int
}

// Generate builds a starter descriptor by sampling the CSV files in dir.
//
// For each *.csv file it records the header as the declared column list,
// guesses a primary key from column naming and sample uniqueness, and then
// proposes many-to-one relationships wherever a key-like column in one table
// matches another table's primary key by name.
//
// The output is a draft for operators to review, not a trusted declaration:
// guesses are conservative and deterministic (files walked in sorted order,
// candidate columns in header order), and the result always passes Validate.
//
// Edge cases:
//   - A directory with no CSV files is an error.
//   - Files with an empty or unreadable header are skipped with an error so
//     operators notice rather than silently losing a table.
func Generate(ctx context.Context, dir string, opts GenerateOptions) (Descriptor, error) {
	sampleRows := opts.SampleRows
	if sampleRows <= 0 {
		sampleRows = 200
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Descriptor{}, fmt.Errorf("schema: read tables dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return Descriptor{}, fmt.Errorf("schema: no CSV files in %s", dir)
	}

	var d Descriptor
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return Descriptor{}, err
		}
		t, err := sampleTable(filepath.Join(dir, name), sampleRows)
		if err != nil {
			return Descriptor{}, err
		}
		d.Tables = append(d.Tables, t)
	}

	d.Relationships = guessRelationships(d.Tables)

	if err := d.Validate(); err != nil {
		return Descriptor{}, fmt.Errorf("schema: generated descriptor invalid: %w", err)
	}
	return d, nil
}

// sampleTable reads the header and a bounded row sample, returning the
// table declaration with a primary-key guess.
func sampleTable(path string, sampleRows int) (TableSchema, error) {
	f, err := os.Open(path)
	if err != nil {
		return TableSchema{}, fmt.Errorf("schema: open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return TableSchema{}, fmt.Errorf("schema: read header of %s: %w", filepath.Base(path), err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
		if cols[i] == "" {
			cols[i] = fmt.Sprintf("column_%d", i+1)
		}
	}

	// Bounded distinct counting per column. Sets are capped implicitly by the
	// row cap; CSV samples of this size are cheap to hold.
	distinct := make([]map[string]struct{}, len(cols))
	for i := range distinct {
		distinct[i] = make(map[string]struct{})
	}
	rows := 0
	for rows < sampleRows {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return TableSchema{}, fmt.Errorf("schema: sample %s: %w", filepath.Base(path), err)
		}
		for i := range cols {
			v := ""
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			distinct[i][v] = struct{}{}
		}
		rows++
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return TableSchema{
		Name:       name,
		Columns:    cols,
		PrimaryKey: guessPrimaryKey(cols, distinct, rows),
	}, nil
}

// guessPrimaryKey picks the most plausible key column: a key-like name that
// was unique across the sample, then any unique first column. Returns nil
// when nothing qualifies; the descriptor remains valid without a key.
func guessPrimaryKey(cols []string, distinct []map[string]struct{}, rows int) []string {
	unique := func(i int) bool {
		return rows > 0 && len(distinct[i]) == rows
	}
	for i, c := range cols {
		if keyLikeName(c) && unique(i) {
			return []string{c}
		}
	}
	// Header order keeps this deterministic; id-style columns conventionally
	// come first in these exports.
	if len(cols) > 0 && unique(0) {
		return []string{cols[0]}
	}
	return nil
}

func keyLikeName(col string) bool {
	n := normalizeName(col)
	if n == "id" || n == "uuid" || n == "guid" {
		return true
	}
	return strings.HasSuffix(n, "_id") ||
		strings.HasSuffix(n, "_number") ||
		strings.HasSuffix(n, "_no")
}

// guessRelationships proposes many-to-one links wherever a column on one
// table matches another table's single-column primary key by normalized
// name. A table never references its own key.
func guessRelationships(tables []TableSchema) []Relationship {
	var rels []Relationship
	for _, t := range tables {
		for _, c := range t.Columns {
			for _, ref := range tables {
				if ref.Name == t.Name || len(ref.PrimaryKey) != 1 {
					continue
				}
				if normalizeName(c) != normalizeName(ref.PrimaryKey[0]) {
					continue
				}
				rels = append(rels, Relationship{
					Name:        fmt.Sprintf("%s_%s", t.Name, c),
					FromTable:   t.Name,
					FromColumn:  c,
					ToTable:     ref.Name,
					ToColumn:    ref.PrimaryKey[0],
					Cardinality: ManyToOne,
				})
			}
		}
	}
	return rels
}

// normalizeName lowercases and squeezes separators to underscores, the same
// canonical form used for loose table-file resolution.
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	prevUnderscore := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		default:
			if !prevUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				prevUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
