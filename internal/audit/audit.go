// Package audit carries the repair trail. Every change the engine makes to
// a table, a cell fill or a header rename, becomes one immutable Record,
// and the Writer appends them to a shared CSV so a reviewer can answer
// "who changed what, when, and on what grounds" without the run log.
package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Rule names recorded on audit rows.
const (
	RuleColumnRename = "column_rename"
)

// Record is one applied change. RowIndex is the zero-based data row the
// change touched; header renames use -1 and carry the old header name in
// Column. Records are never mutated after creation.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	User       string    `json:"user"`
	Table      string    `json:"table"`
	RowIndex   int       `json:"row_index"`
	Column     string    `json:"column"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	Rule       string    `json:"rule"`
	Confidence float64   `json:"confidence"`
}

// IsRename reports whether r records a header rename rather than a cell edit.
func (r Record) IsRename() bool { return r.RowIndex < 0 }

// Writer appends Records to an audit CSV, creating it (header included) on
// first use. The file stays closed between appends so a crashed run never
// holds it open.
type Writer struct {
	Path  string
	User  string
	RunID string

	// Now is a test seam; nil means time.Now.
	Now func() time.Time
}

var auditHeader = []string{
	"timestamp", "run_id", "user", "table", "row_index",
	"column", "old_value", "new_value", "rule", "confidence",
}

// Append stamps and writes records. Zero Timestamp, User and RunID fields
// are filled from the Writer before writing; populated fields are kept.
func (w *Writer) Append(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if w.Path == "" {
		return fmt.Errorf("audit: no file path configured")
	}

	now := w.Now
	if now == nil {
		now = time.Now
	}

	if dir := filepath.Dir(w.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("audit: create dir: %w", err)
		}
	}

	f, err := os.OpenFile(w.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", w.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("audit: stat %s: %w", w.Path, err)
	}

	cw := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := cw.Write(auditHeader); err != nil {
			return fmt.Errorf("audit: write header: %w", err)
		}
	}

	for _, r := range records {
		if r.Timestamp.IsZero() {
			r.Timestamp = now()
		}
		if r.User == "" {
			r.User = w.User
		}
		if r.RunID == "" {
			r.RunID = w.RunID
		}
		row := []string{
			r.Timestamp.Format(time.RFC3339),
			r.RunID,
			r.User,
			r.Table,
			strconv.Itoa(r.RowIndex),
			r.Column,
			r.OldValue,
			r.NewValue,
			r.Rule,
			fmt.Sprintf("%.2f", r.Confidence),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("audit: write record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("audit: flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	return nil
}
