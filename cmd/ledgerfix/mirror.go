package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"ledgerfix/internal/match"
	"ledgerfix/internal/schema"
	"ledgerfix/internal/storage"
	"ledgerfix/internal/table"
	"ledgerfix/internal/validate"

	// register all backends with the storage factory.
	_ "ledgerfix/internal/storage/all"
)

var (
	flagDriver string
	flagDSN    string
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Copy the current CSV state into a SQL database",
	Long: `mirror loads every declared table, aligns drifted headers in
memory, and replaces the contents of the matching database tables. The
database is a derived copy for querying and reporting; the CSV files stay
the source of truth.`,
	Args: cobra.NoArgs,
	RunE: runMirror,
}

func init() {
	drivers := storage.Kinds()
	sort.Strings(drivers)
	mirrorCmd.Flags().StringVar(&flagDriver, "driver", "sqlite", "database driver, one of: "+strings.Join(drivers, ", "))
	mirrorCmd.Flags().StringVar(&flagDSN, "dsn", "", "database connection string")
}

func runMirror(cmd *cobra.Command, args []string) error {
	if flagDSN == "" {
		return fmt.Errorf("--dsn is required")
	}
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	logger, closeLog, err := openRunLog(cfg.LogDir, flagVerbose)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := cmd.Context()
	desc, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return err
	}

	tables := make(map[string]*table.Table, len(desc.Tables))
	for _, ts := range desc.Tables {
		tbl, err := table.Load(ctx, cfg.TablesDir, ts.Name, table.Options{Encoding: cfg.Encoding})
		if errors.Is(err, table.ErrNotFound) {
			logger.Printf("mirror: table=%s missing, skipped", ts.Name)
			continue
		}
		if err != nil {
			return err
		}
		tables[ts.Name] = tbl
	}

	// Align drifted headers with their declared names before deriving the
	// database column lists.
	validate.Run(desc, tables, validate.Options{
		AutoFix: true,
		Matcher: match.New(match.Options{
			Synonyms: cfg.Validation.Synonyms,
			MinRatio: cfg.Validation.MinRatio,
		}),
		Logger: logger,
	})

	repo, err := storage.New(ctx, storage.Config{Kind: flagDriver, DSN: flagDSN})
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.EnsureTables(ctx, mirrorSpecs(desc, tables)); err != nil {
		return err
	}
	for _, ts := range desc.Tables {
		tbl := tables[ts.Name]
		if tbl == nil {
			continue
		}
		n, err := repo.ReplaceTable(ctx, storage.NormalizeName(ts.Name), normalizeColumns(tbl.Headers), tbl.Rows)
		if err != nil {
			return fmt.Errorf("mirror %s: %w", ts.Name, err)
		}
		logger.Printf("mirror: table=%s rows=%d", ts.Name, n)
	}
	return nil
}

// mirrorSpecs derives one table spec per loaded table. Columns come from
// the actual CSV headers so undeclared extras survive the mirror; the
// primary key comes from the descriptor when every key column is present.
func mirrorSpecs(desc schema.Descriptor, tables map[string]*table.Table) []storage.TableSpec {
	var specs []storage.TableSpec
	for _, ts := range desc.Tables {
		tbl := tables[ts.Name]
		if tbl == nil {
			continue
		}
		spec := storage.TableSpec{
			Name:    storage.NormalizeName(ts.Name),
			Columns: normalizeColumns(tbl.Headers),
		}
		pk := make([]string, 0, len(ts.PrimaryKey))
		complete := true
		for _, col := range ts.PrimaryKey {
			if _, ok := tbl.ColumnIndex(col); !ok {
				complete = false
				break
			}
			pk = append(pk, storage.NormalizeName(col))
		}
		if complete && len(pk) > 0 {
			spec.PrimaryKey = pk
		}
		specs = append(specs, spec)
	}
	return specs
}

func normalizeColumns(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = storage.NormalizeName(h)
	}
	return out
}
