package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledgerfix/internal/storage"
)

// Repo implements storage.Repository for Postgres.
//
// ReplaceTable uses COPY for the bulk load: there is no parameter-count limit
// to work around and it is the fastest path pgx offers for row streams.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed Repo.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates destination tables that do not exist yet.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ReplaceTable deletes the destination rows and COPYs the given rows in one
// transaction.
func (r *Repo) ReplaceTable(ctx context.Context, table string, columns []string, rows [][]string) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("postgres: replace %s: no columns", table)
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("postgres: replace %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM "+tableIdent(table)); err != nil {
		return 0, fmt.Errorf("postgres: clear table %s: %w", table, err)
	}

	written, err := tx.CopyFrom(ctx, copyIdentifier(table), columns, pgx.CopyFromRows(copyRows(rows)))
	if err != nil {
		return 0, fmt.Errorf("postgres: copy into %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return written, nil
}

// buildCreateSQL generates CREATE TABLE IF NOT EXISTS DDL for one table.
// Every column is TEXT; the declared primary key becomes a table constraint.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("postgres: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("postgres: table %s has no columns", t.Name)
	}

	configured := make(map[string]bool, len(t.Columns))
	parts := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		parts = append(parts, pgIdent(c)+" TEXT")
		configured[c] = true
	}

	if len(t.PrimaryKey) > 0 {
		cols := make([]string, 0, len(t.PrimaryKey))
		for _, c := range t.PrimaryKey {
			if !configured[c] {
				return "", fmt.Errorf("postgres: table %s primary key column %q not in columns", t.Name, c)
			}
			cols = append(cols, pgIdent(c))
		}
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(cols, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", tableIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

// copyRows widens string rows into the []any rows pgx's COPY source expects.
func copyRows(rows [][]string) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		vals := make([]any, len(row))
		for j, v := range row {
			vals[j] = v
		}
		out[i] = vals
	}
	return out
}

// copyIdentifier splits a possibly schema-qualified name into the identifier
// parts pgx quotes itself.
func copyIdentifier(name string) pgx.Identifier {
	parts := strings.Split(name, ".")
	out := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// tableIdent quotes a possibly schema-qualified name part by part, so
// "public.invoices" becomes "public"."invoices".
func tableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = pgIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
