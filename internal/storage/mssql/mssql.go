package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"ledgerfix/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// SQL Server specifics handled here:
//   - A statement can bind at most 2100 parameters, so ReplaceTable chunks
//     its inserts.
//   - NVARCHAR(MAX) columns cannot participate in a primary key (900-byte
//     index key limit), so key columns are declared NVARCHAR(450) instead.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New constructs a Repo using database/sql and the "sqlserver" driver.
//
// This method validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates destination tables that do not exist yet.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ReplaceTable deletes the destination rows and inserts the given rows in one
// transaction.
func (r *Repo) ReplaceTable(ctx context.Context, table string, columns []string, rows [][]string) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("mssql: replace %s: no columns", table)
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("mssql: replace %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+mssqlTableIdent(table)); err != nil {
		return 0, fmt.Errorf("mssql: clear table %s: %w", table, err)
	}

	var written int64
	chunk := maxParams / len(columns)
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
			return 0, fmt.Errorf("mssql: insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

// maxParams stays below SQL Server's 2100 parameters-per-statement limit.
const maxParams = 2000

// buildCreateSQL generates IF NOT EXISTS DDL for one table. Primary-key
// columns are NVARCHAR(450) because of the index key size limit; everything
// else is NVARCHAR(MAX).
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", t.Name)
	}

	keyCols := make(map[string]bool, len(t.PrimaryKey))
	for _, c := range t.PrimaryKey {
		keyCols[c] = true
	}

	configured := make(map[string]bool, len(t.Columns))
	parts := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		typ := "NVARCHAR(MAX)"
		if keyCols[c] {
			typ = "NVARCHAR(450) NOT NULL"
		}
		parts = append(parts, mssqlIdent(c)+" "+typ)
		configured[c] = true
	}

	if len(t.PrimaryKey) > 0 {
		cols := make([]string, 0, len(t.PrimaryKey))
		for _, c := range t.PrimaryKey {
			if !configured[c] {
				return "", fmt.Errorf("mssql: table %s primary key column %q not in columns", t.Name, c)
			}
			cols = append(cols, mssqlIdent(c))
		}
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(cols, ", ")))
	}

	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (\n  %s\n);",
		escapeSQLString(t.Name),
		mssqlTableIdent(t.Name),
		strings.Join(parts, ",\n  "),
	), nil
}

// buildInsertSQL constructs a single multi-row INSERT and its args using
// @pN placeholders. Pure and deterministic for unit testing.
func buildInsertSQL(table string, columns []string, rows [][]string) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, mssqlIdent(c))
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified
// names.
//
// Example:
//
//	"dbo.invoices" -> [dbo].[invoices]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
