package audit

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	return rows
}

func TestAppend_CreatesFileWithHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "repair_audit.csv")
	fixed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	w := &Writer{
		Path:  path,
		User:  "bursar",
		RunID: "run-1",
		Now:   func() time.Time { return fixed },
	}

	err := w.Append([]Record{
		{Table: "invoices", RowIndex: 4, Column: "fund_id", NewValue: "F3", Rule: "direct_sibling", Confidence: 0.95},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows := readAll(t, path)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(rows))
	}
	if rows[0][0] != "timestamp" || rows[0][3] != "table" {
		t.Fatalf("header = %v", rows[0])
	}
	got := rows[1]
	if got[0] != fixed.Format(time.RFC3339) {
		t.Fatalf("timestamp = %q", got[0])
	}
	if got[1] != "run-1" || got[2] != "bursar" || got[3] != "invoices" || got[4] != "4" {
		t.Fatalf("row = %v", got)
	}
	if got[8] != "direct_sibling" || got[9] != "0.95" {
		t.Fatalf("rule/confidence = %v", got)
	}
}

func TestAppend_DoesNotDuplicateHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repair_audit.csv")
	w := &Writer{Path: path, User: "u", RunID: "r"}

	if err := w.Append([]Record{{Table: "funds", RowIndex: 0, Column: "fund_id"}}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := w.Append([]Record{{Table: "funds", RowIndex: 1, Column: "fund_id"}}); err != nil {
		t.Fatalf("second append: %v", err)
	}

	rows := readAll(t, path)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[1][0] == "timestamp" || rows[2][0] == "timestamp" {
		t.Fatalf("header repeated: %v", rows)
	}
}

func TestAppend_KeepsPrestampedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repair_audit.csv")
	stamped := time.Date(2023, 12, 24, 8, 0, 0, 0, time.UTC)
	w := &Writer{Path: path, User: "writer-user", RunID: "writer-run"}

	err := w.Append([]Record{{
		Timestamp: stamped,
		RunID:     "earlier-run",
		User:      "earlier-user",
		Table:     "vendors",
		RowIndex:  -1,
		Column:    "Vendor Name",
		OldValue:  "Vendor Name",
		NewValue:  "vendor_name",
		Rule:      RuleColumnRename,
	}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows := readAll(t, path)
	got := rows[1]
	if got[0] != stamped.Format(time.RFC3339) || got[1] != "earlier-run" || got[2] != "earlier-user" {
		t.Fatalf("prestamped fields overwritten: %v", got)
	}
	if got[4] != "-1" {
		t.Fatalf("rename row index = %q", got[4])
	}
}

func TestAppend_EmptyIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repair_audit.csv")
	w := &Writer{Path: path}
	if err := w.Append(nil); err != nil {
		t.Fatalf("Append(nil): %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("empty append should not create the file")
	}
}

func TestIsRename(t *testing.T) {
	if !(Record{RowIndex: -1}).IsRename() {
		t.Fatalf("RowIndex -1 should be a rename")
	}
	if (Record{RowIndex: 0}).IsRename() {
		t.Fatalf("RowIndex 0 is a cell edit")
	}
}
