package main

import (
	"github.com/spf13/cobra"

	"ledgerfix/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check tables against the declared schema and preview repairs",
	Long: `validate loads every declared table, reports schema violations, and
previews the missing-key values a repair run would fill in. No file is
modified; drifted headers are fixed in memory only so later checks can
address columns by their declared names.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngine(cmd, engine.ModeValidate, nil)
	},
}
