package storage

import (
	"context"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to open a mirror repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// TableSpec describes one destination table for the mirror.
//
// Columns are stored as text in every backend: the source of truth for these
// tables is the CSV file, and the mirror must round-trip values byte-for-byte
// rather than guess at types.
type TableSpec struct {
	Name       string
	Columns    []string
	PrimaryKey []string
}

// Repository is a backend-agnostic interface for mirroring validated tables
// into a relational database.
//
// IMPORTANT: This interface is intentionally minimal and focused on the
// operations the mirror needs. Each backend implements the semantics in its
// own idiomatic way (Postgres COPY, SQLite batched inserts, etc).
type Repository interface {
	// Close releases any backend resources (connections, pools, etc).
	//
	// Edge cases:
	//   - Callers should treat Close as "call once" at process shutdown.
	Close()

	// EnsureTables creates destination tables as needed
	// ("create-if-not-exists" semantics, so repeated runs are idempotent).
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// ReplaceTable replaces the destination table's rows with the given rows
	// in a single transaction and reports how many rows were written. Every
	// row must have exactly len(columns) values.
	ReplaceTable(ctx context.Context, table string, columns []string, rows [][]string) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a mirror backend under a kind (e.g. "postgres",
// "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by New.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. New takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds reports the registered backend kinds. Useful for CLI help and error
// messages; order is unspecified.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
