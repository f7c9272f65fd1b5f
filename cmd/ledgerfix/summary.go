package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"ledgerfix/internal/engine"
)

// printSummary renders the human report: one block per table with its
// findings, then a totals line. Clean tables collapse to a single "ok".
func printSummary(w io.Writer, res engine.Result) {
	fmt.Fprintf(w, "run %s mode=%s duration=%s\n", res.RunID, res.Mode, res.Duration.Truncate(time.Millisecond))

	for _, tr := range res.Tables {
		if tableClean(tr) {
			fmt.Fprintf(w, "%s: ok\n", tr.Table)
			continue
		}
		fmt.Fprintf(w, "%s:\n", tr.Table)
		for _, is := range tr.Issues {
			fmt.Fprintf(w, "  %s: %s\n", is.Severity, is.Message)
		}
		for _, s := range tr.Suggestions {
			fmt.Fprintf(w, "  suggest row %d: %s %q -> %q (%s, confidence %.2f)\n",
				s.RowIndex, s.Column, s.CurrentValue, s.ProposedValue, s.Rule, s.Confidence)
		}
		for _, g := range tr.Gaps {
			fmt.Fprintf(w, "  gap row %d: %s %q has no candidate\n", g.RowIndex, g.Column, g.CurrentValue)
		}
		for _, rec := range tr.Applied {
			if rec.IsRename() {
				fmt.Fprintf(w, "  applied: renamed column %q to %q\n", rec.OldValue, rec.NewValue)
				continue
			}
			fmt.Fprintf(w, "  applied row %d: %s = %q\n", rec.RowIndex, rec.Column, rec.NewValue)
		}
		for _, s := range tr.Skipped {
			fmt.Fprintf(w, "  skipped row %d: %s -> %q (%s, confidence %.2f)\n",
				s.RowIndex, s.Column, s.ProposedValue, s.Rule, s.Confidence)
		}
		if tr.Backup != nil {
			fmt.Fprintf(w, "  backup: %s\n", tr.Backup.Path)
		}
		if tr.Error != "" {
			fmt.Fprintf(w, "  failed: %s\n", tr.Error)
		}
	}

	if res.AuditError != "" {
		fmt.Fprintf(w, "audit log: %s\n", res.AuditError)
	}
	fmt.Fprintf(w, "%d errors, %d warnings, %d suggestions, %d gaps, %d applied\n",
		res.Errors(), res.Warnings(), res.Suggestions(), res.Gaps(), res.Applied())
}

func tableClean(tr engine.TableReport) bool {
	return tr.Present && len(tr.Issues) == 0 && len(tr.Suggestions) == 0 &&
		len(tr.Gaps) == 0 && len(tr.Applied) == 0 && len(tr.Skipped) == 0 && tr.Error == ""
}

func printJSON(w io.Writer, res engine.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
