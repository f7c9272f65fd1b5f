package table

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// ErrNotFound marks a table whose CSV file does not exist in the directory.
// Callers branch on it to tell "file absent" apart from "file unreadable".
var ErrNotFound = errors.New("table: file not found")

// Options controls CSV loading.
type Options struct {
	// Encoding names the source charset. Empty or "utf-8" reads bytes as-is;
	// "latin-1"/"iso-8859-1" and "windows-1252"/"cp1252" are decoded, since
	// desk-side spreadsheet exports frequently arrive in them.
	Encoding string
}

// Load reads the CSV file for a declared table name from dir.
//
// File resolution is forgiving the way the source directories are: first
// "<name>.csv" exactly, then a case-insensitive scan where separators are
// ignored ("Vendor allocation.csv" satisfies "vendor_allocation").
//
// Shape handling:
//   - the first header cell has any UTF-8 BOM stripped
//   - headers are whitespace-trimmed; data values are kept raw
//   - short records are padded with empty cells; overlong records extend the
//     header with generated "column_N" names so no data is dropped
//
// Errors:
//   - a missing file, unreadable content, or an empty header. All are I/O
//     class failures; data-quality judgments belong to the validator.
func Load(ctx context.Context, dir, name string, opts Options) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := resolveFile(dir, name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("table: open %s: %w", name, err)
	}
	defer f.Close()

	src, err := decodeReader(f, opts.Encoding)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(src)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("table: %s is empty", name)
	}
	if err != nil {
		return nil, fmt.Errorf("table: read header of %s: %w", name, err)
	}
	header[0] = strings.TrimPrefix(header[0], "\uFEFF")

	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = strings.TrimSpace(h)
	}

	var rows [][]string
	width := len(headers)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("table: read %s row %d: %w", name, len(rows)+1, err)
		}
		if len(rec) > width {
			width = len(rec)
		}
		row := make([]string, len(rec))
		copy(row, rec)
		rows = append(rows, row)
	}

	for len(headers) < width {
		headers = append(headers, fmt.Sprintf("column_%d", len(headers)+1))
	}
	for i, row := range rows {
		if len(row) < width {
			padded := make([]string, width)
			copy(padded, row)
			rows[i] = padded
		}
	}

	return &Table{Name: name, Path: path, Headers: headers, Rows: rows}, nil
}

// Save writes the table back to its source path. The write goes to a
// temporary file in the same directory first and is renamed into place, so a
// failed write never leaves a truncated table behind.
func Save(ctx context.Context, t *Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.Path == "" {
		return fmt.Errorf("table: %s has no source path", t.Name)
	}

	dir := filepath.Dir(t.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(t.Path)+".tmp*")
	if err != nil {
		return fmt.Errorf("table: save %s: %w", t.Name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write(t.Headers); err != nil {
		tmp.Close()
		return fmt.Errorf("table: save %s: %w", t.Name, err)
	}
	for _, row := range t.Rows {
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("table: save %s: %w", t.Name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("table: save %s: %w", t.Name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("table: save %s: %w", t.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("table: save %s: %w", t.Name, err)
	}
	if err := os.Rename(tmpName, t.Path); err != nil {
		return fmt.Errorf("table: save %s: %w", t.Name, err)
	}
	return nil
}

// resolveFile finds the CSV file backing a declared table name.
func resolveFile(dir, name string) (string, error) {
	exact := filepath.Join(dir, name+".csv")
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("table: read dir %s: %w", dir, err)
	}
	want := canonicalName(name)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if canonicalName(base) == want {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("table: no CSV file for table %q in %s: %w", name, dir, ErrNotFound)
}

// canonicalName lowercases and drops separator runs, so "Vendor allocation"
// and "vendor_allocation" resolve to the same file.
func canonicalName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "latin-1", "latin1", "iso-8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("table: unsupported encoding %q", encoding)
	}
}
