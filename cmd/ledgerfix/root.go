package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"ledgerfix/internal/engine"
	"ledgerfix/internal/metrics"
	"ledgerfix/internal/metrics/datadog"
	"ledgerfix/internal/metrics/prompush"
	"ledgerfix/internal/repair"
)

var (
	flagConfig         string
	flagTablesDir      string
	flagSchema         string
	flagUser           string
	flagLogDir         string
	flagEncoding       string
	flagEmptyThreshold float64
	flagTypeCheck      bool
	flagJSON           bool
	flagMetricsBackend string
	flagPushGatewayURL string
	flagVerbose        bool
)

// exitCode is what main exits with once deferred cleanups have run.
// Findings set it through Result.ExitCode; invocation errors exit 1 via
// cobra directly.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "ledgerfix",
	Short: "Validate and repair relational CSV ledgers",
	Long: `ledgerfix checks a directory of CSV tables against a declared
relationship schema, proposes values for missing foreign keys, and can
apply them with per-table backups and an audit trail.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file overriding the defaults (JSON or YAML)")
	pf.StringVar(&flagTablesDir, "tables-dir", "Tables", "directory holding the ledger CSV files")
	pf.StringVar(&flagSchema, "schema", "relationship_schema.json", "relationship descriptor path")
	pf.StringVar(&flagUser, "user", "system", "identity recorded in the audit log")
	pf.StringVar(&flagLogDir, "log-dir", "logs", "directory for run and audit logs")
	pf.StringVar(&flagEncoding, "encoding", "", "CSV charset (utf-8, latin-1, windows-1252)")
	pf.Float64Var(&flagEmptyThreshold, "empty-threshold", 0, "tolerated fraction of empty foreign-key cells before warning")
	pf.BoolVar(&flagTypeCheck, "type-check", false, "warn when the two ends of a relationship hold different value types")
	pf.BoolVar(&flagJSON, "json", false, "print the full report as JSON instead of a summary")
	pf.StringVar(&flagMetricsBackend, "metrics-backend", "", "metrics backend to use (pushgateway, datadog, none)")
	pf.StringVar(&flagPushGatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "mirror the run log to stderr")

	rootCmd.AddCommand(validateCmd, repairCmd, mirrorCmd, initSchemaCmd)
}

// buildConfig resolves the effective configuration: defaults, then the
// --config file, then any flag the user set explicitly.
func buildConfig(cmd *cobra.Command) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if flagConfig != "" {
		loaded, err := engine.LoadConfig(flagConfig)
		if err != nil {
			return engine.Config{}, err
		}
		cfg = loaded
	}

	fl := cmd.Flags()
	if fl.Changed("tables-dir") {
		cfg.TablesDir = flagTablesDir
	}
	if fl.Changed("schema") {
		cfg.SchemaPath = flagSchema
	}
	if fl.Changed("user") {
		cfg.User = flagUser
	}
	if fl.Changed("log-dir") {
		cfg.LogDir = flagLogDir
	}
	if fl.Changed("encoding") {
		cfg.Encoding = flagEncoding
	}
	if fl.Changed("empty-threshold") {
		cfg.Validation.EmptyThreshold = flagEmptyThreshold
	}
	if fl.Changed("type-check") {
		cfg.Validation.TypeCheck = flagTypeCheck
	}
	if fl.Changed("threshold") {
		cfg.Repair.Threshold = flagThreshold
	}
	if fl.Changed("backup-dir") {
		cfg.Repair.BackupDir = flagBackupDir
	}
	return cfg, nil
}

// openRunLog creates the timestamped run log under dir. Engine output always
// lands in the file; --verbose mirrors it to stderr so stdout stays a clean
// report stream.
func openRunLog(dir string, verbose bool) (*log.Logger, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("schema_fix_%s.log", time.Now().Format("20060102_150405"))
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, nil, fmt.Errorf("create run log: %w", err)
	}
	var w io.Writer = f
	if verbose {
		w = io.MultiWriter(f, os.Stderr)
	}
	return log.New(w, "", log.LstdFlags), func() { f.Close() }, nil
}

// initMetrics installs the selected metrics backend and returns its
// shutdown hook. Selection follows the flag, then METRICS_BACKEND; a
// backend that fails to initialize downgrades to disabled metrics rather
// than failing the run.
func initMetrics(logger *log.Logger) func() {
	backendName := flagMetricsBackend
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		gwURL := flagPushGatewayURL
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend("ledgerfix", gwURL)
		if err != nil {
			logger.Printf("metrics: pushgateway init: %v; metrics disabled", err)
			return func() {}
		}
		logger.Printf("metrics: backend=%s url=%s", backendName, gwURL)
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				logger.Printf("metrics: flush: %v", err)
			}
		}

	case "datadog":
		tags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName:    "ledgerfix",
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			logger.Printf("metrics: datadog init: %v; metrics disabled", err)
			return func() {}
		}
		logger.Printf("metrics: backend=%s tags=%v", backendName, tags)
		metrics.SetBackend(b)
		return func() {
			// Close stops the periodic flush loop and submits one final
			// time.
			if err := b.Close(); err != nil {
				logger.Printf("metrics: datadog close: %v", err)
			}
		}

	case "", "none":
		return func() {}

	default:
		logger.Printf("metrics: unknown backend %q; metrics disabled", backendName)
		return func() {}
	}
}

// runEngine is the shared body of the validate and repair commands.
func runEngine(cmd *cobra.Command, mode engine.Mode, accept repair.AcceptFunc) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	logger, closeLog, err := openRunLog(cfg.LogDir, flagVerbose)
	if err != nil {
		return err
	}
	defer closeLog()
	stopMetrics := initMetrics(logger)
	defer stopMetrics()

	e := &engine.Engine{Config: cfg, Mode: mode, Logger: logger, Accept: accept}
	res, err := e.Run(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		if err := printJSON(os.Stdout, res); err != nil {
			return err
		}
	} else {
		printSummary(os.Stdout, res)
	}
	exitCode = res.ExitCode()
	return nil
}
