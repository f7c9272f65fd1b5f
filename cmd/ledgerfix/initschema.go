package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ledgerfix/internal/schema"
)

var (
	flagSampleRows int
	flagForce      bool
)

var initSchemaCmd = &cobra.Command{
	Use:   "init-schema",
	Short: "Generate a draft relationship descriptor from the CSV files",
	Long: `init-schema samples the tables directory and writes a descriptor
with guessed primary keys and relationships. The draft is a starting point
for review, not a trusted declaration.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		if !flagForce {
			if _, err := os.Stat(cfg.SchemaPath); err == nil {
				return fmt.Errorf("%s already exists; use --force to overwrite", cfg.SchemaPath)
			}
		}
		desc, err := schema.Generate(cmd.Context(), cfg.TablesDir, schema.GenerateOptions{SampleRows: flagSampleRows})
		if err != nil {
			return err
		}
		if err := schema.Save(cfg.SchemaPath, desc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d tables, %d relationships\n",
			cfg.SchemaPath, len(desc.Tables), len(desc.Relationships))
		return nil
	},
}

func init() {
	initSchemaCmd.Flags().IntVar(&flagSampleRows, "sample-rows", 0, "rows sampled per table for key guessing (0 uses the default)")
	initSchemaCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite an existing descriptor")
}
