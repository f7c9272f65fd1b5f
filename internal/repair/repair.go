// Package repair applies accepted key suggestions to a table, under the
// backup-then-mutate discipline: decide everything first, snapshot the
// file, mutate in memory, save once. Any failure before the save leaves
// the table file byte-identical to how it was found.
package repair

import (
	"context"
	"fmt"

	"ledgerfix/internal/audit"
	"ledgerfix/internal/backup"
	"ledgerfix/internal/infer"
	"ledgerfix/internal/table"
)

// DefaultThreshold gates automatic acceptance.
const DefaultThreshold = 0.7

// AcceptFunc decides one suggestion. Returning an error aborts the table's
// repair pass before any file is touched.
type AcceptFunc func(infer.Suggestion) (bool, error)

// AutoPolicy accepts every suggestion with confidence at or above
// threshold. Rejected suggestions are reported, not failures.
func AutoPolicy(threshold float64) AcceptFunc {
	return func(s infer.Suggestion) (bool, error) {
		return s.Confidence >= threshold, nil
	}
}

// Logger is the minimal logging surface the applier needs.
type Logger interface {
	Printf(format string, v ...any)
}

type discard struct{}

func (discard) Printf(string, ...any) {}

// TableOutcome reports what one table's repair pass did.
type TableOutcome struct {
	Table string

	// Applied holds the audit records persisted for this table, header
	// renames first, then cell repairs in suggestion order.
	Applied []audit.Record

	// Skipped holds suggestions the policy declined. They carry no
	// failure weight.
	Skipped []infer.Suggestion

	// Backup is set once a snapshot was written.
	Backup *backup.Entry

	Saved bool
}

// Applier runs repair passes. One Applier serves a whole run; each
// ApplyTable call is the unit of isolation for its table.
type Applier struct {
	Snapshots *backup.Snapshotter
	Accept    AcceptFunc
	Logger    Logger

	// save is a test seam; nil means table.Save.
	save func(context.Context, *table.Table) error
}

// New builds an Applier. A nil accept falls back to the default auto
// policy.
func New(snapshots *backup.Snapshotter, accept AcceptFunc, logger Logger) *Applier {
	if accept == nil {
		accept = AutoPolicy(DefaultThreshold)
	}
	if logger == nil {
		logger = discard{}
	}
	return &Applier{Snapshots: snapshots, Accept: accept, Logger: logger}
}

// ApplyTable repairs one table: suggestions are decided in order, then the
// file is snapshotted, accepted values written into the in-memory rows, and
// the table saved once. pendingRenames are header renames already applied
// in memory that this save will persist; they are included in the audit
// records.
//
// Errors:
//   - acceptance callback failures, backup failures, and save failures all
//     abort the pass with the table file untouched. Other tables are
//     unaffected; the caller decides whether to continue with them.
func (a *Applier) ApplyTable(ctx context.Context, tbl *table.Table, suggestions []infer.Suggestion, pendingRenames []audit.Record) (TableOutcome, error) {
	out := TableOutcome{Table: tbl.Name}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	accept := a.Accept
	if accept == nil {
		accept = AutoPolicy(DefaultThreshold)
	}
	logger := a.Logger
	if logger == nil {
		logger = discard{}
	}

	var accepted []infer.Suggestion
	for _, s := range suggestions {
		ok, err := accept(s)
		if err != nil {
			return TableOutcome{Table: tbl.Name}, fmt.Errorf("repair: decide %s row %d: %w", s.Table, s.RowIndex, err)
		}
		if !ok {
			logger.Printf("repair: leaving %s row %d %s as-is (%s, confidence %.2f)",
				s.Table, s.RowIndex, s.Column, s.Rule, s.Confidence)
			out.Skipped = append(out.Skipped, s)
			continue
		}
		accepted = append(accepted, s)
	}

	if len(accepted) == 0 && len(pendingRenames) == 0 {
		return out, nil
	}

	entry, err := a.Snapshots.Snapshot(ctx, tbl.Path, tbl.Name)
	if err != nil {
		return TableOutcome{Table: tbl.Name, Skipped: out.Skipped}, err
	}
	out.Backup = &entry
	logger.Printf("repair: backed up %s to %s", tbl.Name, entry.Path)

	out.Applied = append(out.Applied, pendingRenames...)
	for _, s := range accepted {
		old, _ := tbl.Value(s.RowIndex, s.Column)
		if err := tbl.SetValue(s.RowIndex, s.Column, s.ProposedValue); err != nil {
			return TableOutcome{Table: tbl.Name, Skipped: out.Skipped, Backup: out.Backup},
				fmt.Errorf("repair: apply %s row %d: %w", s.Table, s.RowIndex, err)
		}
		logger.Printf("repair: %s row %d %s: %q -> %q (%s, confidence %.2f)",
			s.Table, s.RowIndex, s.Column, old, s.ProposedValue, s.Rule, s.Confidence)
		out.Applied = append(out.Applied, audit.Record{
			Table:      s.Table,
			RowIndex:   s.RowIndex,
			Column:     s.Column,
			OldValue:   old,
			NewValue:   s.ProposedValue,
			Rule:       s.Rule,
			Confidence: s.Confidence,
		})
	}

	save := a.save
	if save == nil {
		save = table.Save
	}
	if err := save(ctx, tbl); err != nil {
		return TableOutcome{Table: tbl.Name, Skipped: out.Skipped, Backup: out.Backup}, err
	}
	out.Saved = true
	return out, nil
}
