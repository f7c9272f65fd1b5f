package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ledgerfix/internal/engine"
	"ledgerfix/internal/infer"
	"ledgerfix/internal/repair"
)

var (
	flagThreshold   float64
	flagBackupDir   string
	flagInteractive bool
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Apply accepted repairs with per-table backups and an audit trail",
	Long: `repair runs the same checks as validate and then persists the
accepted changes. Every table is snapshotted before its file is touched,
each applied change lands in the audit log, and a failure on one table
leaves its file untouched without blocking the others.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var accept repair.AcceptFunc
		if flagInteractive {
			accept = promptAccept(os.Stdin, os.Stderr)
		}
		return runEngine(cmd, engine.ModeRepair, accept)
	},
}

func init() {
	repairCmd.Flags().Float64Var(&flagThreshold, "threshold", repair.DefaultThreshold, "minimum confidence accepted automatically")
	repairCmd.Flags().StringVar(&flagBackupDir, "backup-dir", "backups", "directory receiving pre-repair snapshots")
	repairCmd.Flags().BoolVar(&flagInteractive, "interactive", false, "confirm each suggestion on the terminal")
}

// promptAccept asks about each suggestion on the terminal, defaulting to
// no. EOF declines the remaining suggestions instead of failing a
// half-finished session.
func promptAccept(in io.Reader, out io.Writer) repair.AcceptFunc {
	r := bufio.NewReader(in)
	return func(s infer.Suggestion) (bool, error) {
		fmt.Fprintf(out, "%s row %d: set %s to %q (%s, confidence %.2f)? [y/N] ",
			s.Table, s.RowIndex, s.Column, s.ProposedValue, s.Rule, s.Confidence)
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
