package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"ledgerfix/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - Everything is stored with TEXT affinity; the CSV file is the source of
//     truth and values must round-trip unchanged.
//   - modernc.org/sqlite caps bound variables per statement, so ReplaceTable
//     chunks its inserts.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables creates destination tables that do not exist yet. Repeated
// runs are no-ops.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ReplaceTable deletes the destination rows and inserts the given rows in one
// transaction.
//
// Errors:
//   - Any row whose length differs from len(columns).
//   - Any SQL failure; the transaction rolls back and the destination keeps
//     its previous contents.
func (r *Repo) ReplaceTable(ctx context.Context, table string, columns []string, rows [][]string) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: replace %s: no columns", table)
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("sqlite: replace %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+tableIdent(table)); err != nil {
		return 0, fmt.Errorf("sqlite: clear table %s: %w", table, err)
	}

	var written int64
	chunk := maxBindVars / len(columns)
	if chunk < 1 {
		chunk = 1
	}
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		q, args := buildInsertSQL(table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

// maxBindVars stays below modernc.org/sqlite's default variable limit with
// headroom for wide tables.
const maxBindVars = 30000

// buildCreateSQL generates CREATE TABLE IF NOT EXISTS DDL for one table.
// Every column is TEXT; the declared primary key becomes a table constraint.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("sqlite: table %s has no columns", t.Name)
	}

	configured := make(map[string]bool, len(t.Columns))
	parts := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		parts = append(parts, sqlIdent(c)+" TEXT")
		configured[c] = true
	}

	if len(t.PrimaryKey) > 0 {
		cols := make([]string, 0, len(t.PrimaryKey))
		for _, c := range t.PrimaryKey {
			if !configured[c] {
				return "", fmt.Errorf("sqlite: table %s primary key column %q not in columns", t.Name, c)
			}
			cols = append(cols, sqlIdent(c))
		}
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(cols, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", tableIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

// buildInsertSQL constructs a single multi-row INSERT and its args.
//
// Why this exists:
//   - It is pure and deterministic, so placeholder layout is unit-testable
//     without a database.
func buildInsertSQL(table string, columns []string, rows [][]string) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tableIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			args = append(args, v)
		}
	}

	return b.String(), args
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// tableIdent quotes a possibly schema-qualified name part by part, so
// "aux.invoices" becomes "aux"."invoices".
func tableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = sqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
