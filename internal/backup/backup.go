// Package backup writes pre-mutation copies of table files. A snapshot is
// a byte-for-byte copy, synced to disk before the caller is allowed to
// touch the original; if the copy cannot be made durable the repair pass
// for that table must not start.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Entry describes one written snapshot.
type Entry struct {
	Table     string    `json:"table"`
	Source    string    `json:"source"`
	Path      string    `json:"path"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshotter copies table files into Dir, named by table and timestamp.
type Snapshotter struct {
	Dir string

	// Now is a test seam; nil means time.Now.
	Now func() time.Time
}

// Snapshot copies the file at source into the backup directory as
// <table>_<YYYYMMDD_HHMMSS>.csv and syncs it before returning. Calling it
// again with an unchanged source produces a byte-identical duplicate, which
// is not an error.
func (s *Snapshotter) Snapshot(ctx context.Context, source, tableName string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if s.Dir == "" {
		return Entry{}, fmt.Errorf("backup: no directory configured")
	}

	now := s.Now
	if now == nil {
		now = time.Now
	}
	stamp := now()

	src, err := os.Open(source)
	if err != nil {
		return Entry{}, fmt.Errorf("backup: open source for %s: %w", tableName, err)
	}
	defer src.Close()

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("backup: create dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s.csv", tableName, stamp.Format("20060102_150405"))
	path := filepath.Join(s.Dir, name)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Entry{}, fmt.Errorf("backup: create %s: %w", name, err)
	}

	n, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		os.Remove(path)
		return Entry{}, fmt.Errorf("backup: copy %s: %w", tableName, err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(path)
		return Entry{}, fmt.Errorf("backup: sync %s: %w", name, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return Entry{}, fmt.Errorf("backup: close %s: %w", name, err)
	}

	return Entry{
		Table:     tableName,
		Source:    source,
		Path:      path,
		Bytes:     n,
		CreatedAt: stamp,
	}, nil
}
