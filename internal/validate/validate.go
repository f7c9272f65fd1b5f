// Package validate walks a relationship descriptor against the loaded
// tables and reports structural drift: tables that never arrived, columns
// the matcher had to guess at, relationships pointing at nothing, and
// foreign-key columns with holes in them.
package validate

import (
	"fmt"

	"ledgerfix/internal/audit"
	"ledgerfix/internal/match"
	"ledgerfix/internal/schema"
	"ledgerfix/internal/table"
)

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one validation finding. SuggestedFix, when set, names the actual
// header a declared column resolved to and is safe to apply as a rename.
type Issue struct {
	Severity     string `json:"severity"`
	Table        string `json:"table"`
	Column       string `json:"column,omitempty"`
	Message      string `json:"message"`
	SuggestedFix string `json:"suggested_fix,omitempty"`
}

// Logger is the minimal logging surface the validator needs.
type Logger interface {
	Printf(format string, v ...any)
}

type discard struct{}

func (discard) Printf(string, ...any) {}

// Options configures a validation run.
type Options struct {
	// AutoFix applies every rename the matcher suggests directly to the
	// in-memory table headers before returning.
	AutoFix bool

	// EmptyThreshold is the tolerated fraction of empty foreign-key values
	// per column. The default 0 flags any empty value.
	EmptyThreshold float64

	// TypeCheck compares the coarse value type on each end of a
	// relationship and warns on mismatch.
	TypeCheck bool

	// Matcher resolves declared column names. Nil uses default settings.
	Matcher *match.Matcher

	// LoadErrors carries per-table load failures so a table that exists
	// but would not parse reads differently from one that is absent.
	LoadErrors map[string]error

	Logger Logger
}

// Result is a full validation pass. Renames holds the header renames
// applied in auto-fix mode, ready for the audit trail.
type Result struct {
	Issues  []Issue
	Renames []audit.Record
}

// Errors counts error-severity issues.
func (r Result) Errors() int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Warnings counts warning-severity issues.
func (r Result) Warnings() int {
	return len(r.Issues) - r.Errors()
}

// Run validates tables against desc.
//
// Issues come out grouped by declared table in declaration order; inside a
// table's group, column findings precede relationship findings. A table
// that is missing entirely gets one error and no further checks.
func Run(desc schema.Descriptor, tables map[string]*table.Table, opts Options) Result {
	if opts.Matcher == nil {
		opts.Matcher = match.New(match.Options{})
	}
	if opts.Logger == nil {
		opts.Logger = discard{}
	}

	var res Result

	// resolved maps table name -> declared column -> actual header.
	resolved := make(map[string]map[string]string, len(desc.Tables))
	columnIssues := make(map[string][]Issue, len(desc.Tables))
	relIssues := make(map[string][]Issue, len(desc.Tables))

	for _, ts := range desc.Tables {
		tbl, ok := tables[ts.Name]
		if !ok || tbl == nil {
			msg := fmt.Sprintf("table %q has no CSV file in the tables directory", ts.Name)
			if err, failed := opts.LoadErrors[ts.Name]; failed {
				msg = fmt.Sprintf("table %q could not be loaded: %v", ts.Name, err)
			}
			columnIssues[ts.Name] = append(columnIssues[ts.Name], Issue{
				Severity: SeverityError,
				Table:    ts.Name,
				Message:  msg,
			})
			continue
		}

		resolved[ts.Name] = make(map[string]string, len(ts.Columns))
		for _, col := range ts.Columns {
			m, ok := opts.Matcher.Match(col, tbl.Headers)
			if !ok {
				columnIssues[ts.Name] = append(columnIssues[ts.Name], Issue{
					Severity: SeverityError,
					Table:    ts.Name,
					Column:   col,
					Message:  fmt.Sprintf("column %q not found in table %q", col, ts.Name),
				})
				continue
			}
			if m.Confidence >= 1.0 {
				resolved[ts.Name][col] = m.Column
				continue
			}

			columnIssues[ts.Name] = append(columnIssues[ts.Name], Issue{
				Severity:     SeverityWarning,
				Table:        ts.Name,
				Column:       col,
				Message:      fmt.Sprintf("column %q not found; header %q matches (%s, confidence %.2f)", col, m.Column, m.Tier, m.Confidence),
				SuggestedFix: m.Column,
			})

			if !opts.AutoFix {
				resolved[ts.Name][col] = m.Column
				continue
			}
			if err := tbl.RenameColumn(m.Column, col); err != nil {
				opts.Logger.Printf("validate: cannot rename %q to %q in %s: %v", m.Column, col, ts.Name, err)
				resolved[ts.Name][col] = m.Column
				continue
			}
			opts.Logger.Printf("validate: renamed header %q to %q in %s", m.Column, col, ts.Name)
			resolved[ts.Name][col] = col
			res.Renames = append(res.Renames, audit.Record{
				Table:      ts.Name,
				RowIndex:   -1,
				Column:     m.Column,
				OldValue:   m.Column,
				NewValue:   col,
				Rule:       audit.RuleColumnRename,
				Confidence: m.Confidence,
			})
		}
	}

	// Relationship checks group under the table that carries the foreign
	// key. Resolution for both endpoints is complete at this point, so
	// declaration order of the referenced table does not matter.
	for _, r := range desc.Relationships {
		manyTable, fkCol := r.ManySide()
		oneTable, pkCol := r.OneSide()

		if _, ok := resolved[manyTable]; !ok {
			// The carrying table is already reported missing.
			continue
		}

		fkActual, fkOK := resolved[manyTable][fkCol]
		pkActual, pkOK := "", false
		if cols, ok := resolved[oneTable]; ok {
			pkActual, pkOK = cols[pkCol]
		}
		if !fkOK || !pkOK {
			relIssues[manyTable] = append(relIssues[manyTable], Issue{
				Severity: SeverityError,
				Table:    manyTable,
				Message:  fmt.Sprintf("relationship %s references missing column", r.String()),
			})
			continue
		}

		fkValues := tables[manyTable].Column(fkActual)
		missing := 0
		for _, v := range fkValues {
			if table.IsMissing(v) {
				missing++
			}
		}
		if total := len(fkValues); total > 0 && missing > 0 {
			fraction := float64(missing) / float64(total)
			if fraction > opts.EmptyThreshold {
				relIssues[manyTable] = append(relIssues[manyTable], Issue{
					Severity: SeverityWarning,
					Table:    manyTable,
					Column:   fkCol,
					Message:  fmt.Sprintf("foreign key %q is empty in %d of %d rows", fkCol, missing, total),
				})
			}
		}

		if opts.TypeCheck {
			fkType := coarseType(fkValues)
			pkType := coarseType(tables[oneTable].Column(pkActual))
			if fkType != "" && pkType != "" && !typesCompatible(fkType, pkType) {
				relIssues[manyTable] = append(relIssues[manyTable], Issue{
					Severity: SeverityWarning,
					Table:    manyTable,
					Column:   fkCol,
					Message: fmt.Sprintf("foreign key %s.%s holds %s values but %s.%s holds %s values, consider converting %s.%s to %s",
						manyTable, fkCol, fkType, oneTable, pkCol, pkType, manyTable, fkCol, pkType),
				})
			}
		}
	}

	for _, ts := range desc.Tables {
		res.Issues = append(res.Issues, columnIssues[ts.Name]...)
		res.Issues = append(res.Issues, relIssues[ts.Name]...)
	}
	return res
}
