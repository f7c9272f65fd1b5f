package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"ledgerfix/internal/audit"
	"ledgerfix/internal/backup"
	"ledgerfix/internal/infer"
	"ledgerfix/internal/match"
	"ledgerfix/internal/metrics"
	"ledgerfix/internal/repair"
	"ledgerfix/internal/schema"
	"ledgerfix/internal/table"
	"ledgerfix/internal/validate"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Mode selects how far a run goes.
type Mode string

const (
	// ModeValidate reports issues and previews suggestions without
	// touching any file.
	ModeValidate Mode = "validate"

	// ModeRepair additionally persists accepted suggestions and header
	// renames, each table backed up first.
	ModeRepair Mode = "repair"
)

// auditLogName is the append-only change log inside LogDir.
const auditLogName = "audit_log.csv"

// Engine runs the validate-infer-repair pipeline over one tables directory.
type Engine struct {
	Config Config
	Mode   Mode
	Logger Logger

	// Accept overrides the repair acceptance policy. Nil accepts
	// automatically at the configured threshold.
	Accept repair.AcceptFunc

	// now and newRunID are test seams; nil means time.Now and a random
	// UUID.
	now      func() time.Time
	newRunID func() string
}

// TableReport collects everything the run found and did for one declared
// table, in declaration order.
type TableReport struct {
	Table   string `json:"table"`
	Present bool   `json:"present"`

	Issues      []validate.Issue   `json:"issues,omitempty"`
	Suggestions []infer.Suggestion `json:"suggestions,omitempty"`
	Gaps        []infer.Gap        `json:"gaps,omitempty"`

	// Applied and Skipped are filled in repair mode only.
	Applied []audit.Record     `json:"applied,omitempty"`
	Skipped []infer.Suggestion `json:"skipped,omitempty"`
	Backup  *backup.Entry      `json:"backup,omitempty"`

	// Error is set when this table's repair pass aborted. The table file
	// is untouched in that case.
	Error string `json:"error,omitempty"`
}

// Result is one full run.
type Result struct {
	RunID     string        `json:"run_id"`
	Mode      Mode          `json:"mode"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Tables []TableReport `json:"tables"`

	// Renames holds every header rename applied in memory this run. In
	// validate mode they preview what repair would persist; in repair mode
	// the persisted ones also appear under their table's Applied records.
	Renames []audit.Record `json:"renames,omitempty"`

	// AuditError is set when repairs saved but the audit log could not be
	// appended.
	AuditError string `json:"audit_error,omitempty"`
}

// Errors counts error-severity issues plus tables whose repair pass failed,
// plus a failed audit append.
func (r Result) Errors() int {
	n := 0
	for _, t := range r.Tables {
		for _, is := range t.Issues {
			if is.Severity == validate.SeverityError {
				n++
			}
		}
		if t.Error != "" {
			n++
		}
	}
	if r.AuditError != "" {
		n++
	}
	return n
}

// Warnings counts warning-severity issues.
func (r Result) Warnings() int {
	n := 0
	for _, t := range r.Tables {
		for _, is := range t.Issues {
			if is.Severity == validate.SeverityWarning {
				n++
			}
		}
	}
	return n
}

// Gaps counts rows no inference rule could answer.
func (r Result) Gaps() int {
	n := 0
	for _, t := range r.Tables {
		n += len(t.Gaps)
	}
	return n
}

// Suggestions counts proposed repairs across all tables.
func (r Result) Suggestions() int {
	n := 0
	for _, t := range r.Tables {
		n += len(t.Suggestions)
	}
	return n
}

// Applied counts persisted changes, header renames included.
func (r Result) Applied() int {
	n := 0
	for _, t := range r.Tables {
		n += len(t.Applied)
	}
	return n
}

// Clean reports whether the run found nothing at all: no issues of either
// severity, no gaps, no failures.
func (r Result) Clean() bool {
	return r.Errors() == 0 && r.Warnings() == 0 && r.Gaps() == 0
}

// ExitCode maps the result to a process exit status. Validation tolerates
// gaps (there is nothing to persist yet); repair treats a row it could not
// fill as a failed contract.
func (r Result) ExitCode() int {
	if r.Errors() > 0 {
		return 1
	}
	if r.Mode == ModeRepair && r.Gaps() > 0 {
		return 1
	}
	return 0
}

// Run executes one pass: load the descriptor and tables, validate with
// header auto-fix, infer missing keys per relationship, and in repair mode
// persist accepted changes table by table with backups, an audit trail and
// a backup manifest.
//
// Errors:
//   - a bad config, unreadable descriptor or missing tables directory is
//     fatal and returns before any table is read.
//   - everything after that is reported per table in the Result; one
//     table's repair failure never blocks another's.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if err := e.Config.Validate(); err != nil {
		return Result{}, err
	}
	mode := e.Mode
	if mode == "" {
		mode = ModeValidate
	}
	nowFn := e.now
	if nowFn == nil {
		nowFn = time.Now
	}
	idFn := e.newRunID
	if idFn == nil {
		idFn = uuid.NewString
	}
	logf := e.logger()
	cfg := e.Config

	start := nowFn()
	res := Result{RunID: idFn(), Mode: mode, StartedAt: start}
	logf("run=%s mode=%s tables_dir=%s schema=%s user=%s",
		res.RunID, mode, cfg.TablesDir, cfg.SchemaPath, cfg.User)

	desc, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return Result{}, err
	}
	if _, err := os.Stat(cfg.TablesDir); err != nil {
		return Result{}, fmt.Errorf("engine: tables directory: %w", err)
	}
	bands, err := cfg.Inference.bands()
	if err != nil {
		return Result{}, err
	}

	// Load every declared table. Absent files are legal (the validator
	// reports them); unreadable ones are carried as load errors so the
	// report tells the two apart.
	loadStart := time.Now()
	tables := make(map[string]*table.Table, len(desc.Tables))
	loadErrs := make(map[string]error)
	missing := 0
	for _, ts := range desc.Tables {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		tbl, err := table.Load(ctx, cfg.TablesDir, ts.Name, table.Options{Encoding: cfg.Encoding})
		switch {
		case err == nil:
			tables[ts.Name] = tbl
			metrics.IncCounter(metrics.TablesTotal, 1, metrics.Labels{"status": "loaded"})
		case errors.Is(err, table.ErrNotFound):
			missing++
			metrics.IncCounter(metrics.TablesTotal, 1, metrics.Labels{"status": "missing"})
		default:
			loadErrs[ts.Name] = err
			metrics.IncCounter(metrics.TablesTotal, 1, metrics.Labels{"status": "failed"})
			logf("table=%s load failed: %v", ts.Name, err)
		}
	}
	logf("stage=load ok loaded=%d missing=%d failed=%d duration=%s",
		len(tables), missing, len(loadErrs), durMS(loadStart))

	// Validate with auto-fix always on: later stages address columns by
	// their declared names, so drifted headers are renamed in memory here.
	// Whether the rename reaches disk is the repair stage's call.
	valStart := time.Now()
	vres := validate.Run(desc, tables, validate.Options{
		AutoFix:        true,
		EmptyThreshold: cfg.Validation.EmptyThreshold,
		TypeCheck:      cfg.Validation.TypeCheck,
		Matcher: match.New(match.Options{
			Synonyms: cfg.Validation.Synonyms,
			MinRatio: cfg.Validation.MinRatio,
		}),
		LoadErrors: loadErrs,
		Logger:     e.Logger,
	})
	res.Renames = vres.Renames
	for _, is := range vres.Issues {
		metrics.IncCounter(metrics.IssuesTotal, 1, metrics.Labels{"table": is.Table, "severity": is.Severity})
	}
	logf("stage=validate ok issues=%d renames=%d duration=%s",
		len(vres.Issues), len(vres.Renames), durMS(valStart))

	// Infer missing keys relationship by relationship, in declaration
	// order. Validate mode gets the same suggestions as repair mode; they
	// just stay a preview.
	inferStart := time.Now()
	inferOpts := infer.Options{
		EvidenceColumns: cfg.Inference.EvidenceColumns,
		Bands:           bands,
		AmountColumn:    cfg.Inference.AmountColumn,
		NameColumn:      cfg.Inference.NameColumn,
	}
	sugsByTable := make(map[string][]infer.Suggestion)
	gapsByTable := make(map[string][]infer.Gap)
	nSugs, nGaps := 0, 0
	for _, rel := range desc.Relationships {
		ires := infer.Run(desc, rel, tables, inferOpts)
		for _, s := range ires.Suggestions {
			sugsByTable[s.Table] = append(sugsByTable[s.Table], s)
			metrics.IncCounter(metrics.SuggestionsTotal, 1, metrics.Labels{"table": s.Table, "rule": s.Rule})
		}
		for _, g := range ires.Gaps {
			gapsByTable[g.Table] = append(gapsByTable[g.Table], g)
			metrics.IncCounter(metrics.GapsTotal, 1, metrics.Labels{"table": g.Table})
		}
		nSugs += len(ires.Suggestions)
		nGaps += len(ires.Gaps)
	}
	logf("stage=infer ok suggestions=%d gaps=%d duration=%s", nSugs, nGaps, durMS(inferStart))

	outcomes := make(map[string]repair.TableOutcome)
	repairErrs := make(map[string]error)
	if mode == ModeRepair {
		repairStart := time.Now()
		accept := e.Accept
		if accept == nil {
			accept = repair.AutoPolicy(cfg.Repair.Threshold)
		}
		applier := repair.New(&backup.Snapshotter{Dir: cfg.Repair.BackupDir, Now: nowFn}, accept, e.Logger)

		renamesByTable := make(map[string][]audit.Record)
		for _, rec := range vres.Renames {
			renamesByTable[rec.Table] = append(renamesByTable[rec.Table], rec)
		}

		var records []audit.Record
		var entries []backup.Entry
		applied, skipped := 0, 0
		for _, ts := range desc.Tables {
			tbl := tables[ts.Name]
			if tbl == nil {
				continue
			}
			sugs := sugsByTable[ts.Name]
			pending := renamesByTable[ts.Name]
			if len(sugs) == 0 && len(pending) == 0 {
				continue
			}
			out, err := applier.ApplyTable(ctx, tbl, sugs, pending)
			if err != nil {
				repairErrs[ts.Name] = err
				logf("table=%s repair aborted: %v", ts.Name, err)
				continue
			}
			outcomes[ts.Name] = out
			applied += len(out.Applied)
			skipped += len(out.Skipped)
			for _, rec := range out.Applied {
				metrics.IncCounter(metrics.RepairsTotal, 1, metrics.Labels{"table": rec.Table, "rule": rec.Rule})
			}
			if out.Backup != nil {
				entries = append(entries, *out.Backup)
			}
			records = append(records, out.Applied...)
		}

		// The repairs are on disk at this point. A broken audit log or
		// manifest is reported loudly but does not roll anything back.
		if len(records) > 0 {
			w := &audit.Writer{
				Path:  filepath.Join(cfg.LogDir, auditLogName),
				User:  cfg.User,
				RunID: res.RunID,
				Now:   nowFn,
			}
			if err := w.Append(records); err != nil {
				res.AuditError = err.Error()
				logf("audit append failed, repairs are already saved: %v", err)
			}
		}
		if len(entries) > 0 {
			manifest := backup.Manifest{
				RunID:     res.RunID,
				User:      cfg.User,
				CreatedAt: nowFn(),
				Entries:   entries,
			}
			path := filepath.Join(cfg.Repair.BackupDir, "manifest_"+res.RunID+".json")
			if err := backup.WriteManifest(path, manifest); err != nil {
				logf("backup manifest failed: %v", err)
			}
		}
		logf("stage=repair ok applied=%d skipped=%d failed_tables=%d duration=%s",
			applied, skipped, len(repairErrs), durMS(repairStart))
	}

	issuesByTable := make(map[string][]validate.Issue)
	for _, is := range vres.Issues {
		issuesByTable[is.Table] = append(issuesByTable[is.Table], is)
	}
	for _, ts := range desc.Tables {
		rep := TableReport{
			Table:       ts.Name,
			Present:     tables[ts.Name] != nil,
			Issues:      issuesByTable[ts.Name],
			Suggestions: sugsByTable[ts.Name],
			Gaps:        gapsByTable[ts.Name],
		}
		if out, ok := outcomes[ts.Name]; ok {
			rep.Applied = out.Applied
			rep.Skipped = out.Skipped
			rep.Backup = out.Backup
		}
		if err := repairErrs[ts.Name]; err != nil {
			rep.Error = err.Error()
		}
		res.Tables = append(res.Tables, rep)
	}

	res.Duration = nowFn().Sub(start)
	status := "ok"
	if !res.Clean() {
		status = "issues"
	}
	metrics.ObserveHistogram(metrics.RunDurationSeconds, res.Duration.Seconds(),
		metrics.Labels{"mode": string(mode), "status": status})
	logf("run=%s done errors=%d warnings=%d gaps=%d duration=%s",
		res.RunID, res.Errors(), res.Warnings(), res.Gaps(), res.Duration.Truncate(time.Millisecond))
	return res, nil
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return e.Logger.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
