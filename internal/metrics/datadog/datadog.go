// Package datadog implements a Datadog backend for the internal/metrics package.
//
// NOTE ABOUT FLUSHING:
// A validation run is usually short, but repair passes over large table sets
// can take a while, and a single submit at exit turns a dashboard into one
// spike. Therefore this backend:
//   - buffers metrics in-memory (fast, lock-protected)
//   - periodically Flush()es on a ticker (default: once per minute)
//   - Flush()es one final time on Close()
//
// Concurrency model:
//   - engine code can call IncCounter/ObserveHistogram at any time
//   - Flush snapshots+resets buffers under a mutex, then submits out-of-lock
//   - the flush loop calls Flush() periodically; Close() stops the loop
//
// If the process dies with SIGKILL, Close() never runs; buffered points from
// the last window are lost.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"ledgerfix/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "ledgerfix".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "service:ledgerfix"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// The following fields are unexported test seams. Production code never
	// sets them; unit tests use them to avoid real network submission and
	// nondeterministic clocks/tickers.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal interface needed to submit metrics.
//
// The Datadog SDK exposes a concrete *datadogV2.MetricsApi, which cannot be
// stubbed without real HTTP. Backend depends on this interface instead, so
// tests can run against a fake.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	// now and newTicker are injected for deterministic tests. Production
	// uses time.Now and time.NewTicker.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	issueCounts      map[string]float64 // table\x00severity -> count
	suggestionCounts map[string]float64 // table\x00rule -> count
	repairCounts     map[string]float64 // table\x00rule -> count
	gapCounts        map[string]float64 // table -> count
	tableCounts      map[string]float64 // status -> count
	runDurations     map[string][]float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush().
//
// Errors:
//   - Returns any error from the final Flush() submission.
//   - Calling Close twice panics (stopCh closed twice). Process-lifetime
//     backends close once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// NewBackend constructs a Datadog backend using the official client.
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "ledgerfix".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
//
// Errors:
//   - Returns an error only if internal initialization fails; network errors
//     surface later during Flush().
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "ledgerfix"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	envTag := resolveEnvTag()
	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, envTag, "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		cfg := dd.NewConfiguration()
		client := dd.NewAPIClient(cfg)
		submitter = datadogV2.NewMetricsApi(client)
	}

	ctx := dd.NewDefaultContext(parent)

	b := &Backend{
		api:        submitter,
		ctx:        ctx,
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),

		baseTags: baseTags,

		now:       nowFn,
		newTicker: newTicker,

		issueCounts:      make(map[string]float64),
		suggestionCounts: make(map[string]float64),
		repairCounts:     make(map[string]float64),
		gapCounts:        make(map[string]float64),
		tableCounts:      make(map[string]float64),
		runDurations:     make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.IssuesTotal:
		k := pairKey(labels["table"], labels["severity"])
		b.issueCounts[k] += delta

	case metrics.SuggestionsTotal:
		k := pairKey(labels["table"], labels["rule"])
		b.suggestionCounts[k] += delta

	case metrics.RepairsTotal:
		k := pairKey(labels["table"], labels["rule"])
		b.repairCounts[k] += delta

	case metrics.GapsTotal:
		tableName := labels["table"]
		if tableName == "" {
			tableName = "unknown"
		}
		b.gapCounts[tableName] += delta

	case metrics.TablesTotal:
		status := labels["status"]
		if status == "" {
			status = "unknown"
		}
		b.tableCounts[status] += delta

	default:
		// Unknown counters are ignored.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.RunDurationSeconds:
		k := pairKey(labels["mode"], labels["status"])
		b.runDurations[k] = append(b.runDurations[k], value)

	default:
		// Unknown histograms are ignored.
	}
}

// snapshot is the buffered metric state a flush submits. Flush() must reset
// buffers under the lock but submit out-of-lock; snapshot separates
// collect+reset from payload building.
type snapshot struct {
	issueCounts      map[string]float64
	suggestionCounts map[string]float64
	repairCounts     map[string]float64
	gapCounts        map[string]float64
	tableCounts      map[string]float64
	runDurations     map[string][]float64
}

// snapshotAndReset grabs current buffered metrics and resets the buffers.
// Takes the lock internally and returns detached maps.
func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		issueCounts:      b.issueCounts,
		suggestionCounts: b.suggestionCounts,
		repairCounts:     b.repairCounts,
		gapCounts:        b.gapCounts,
		tableCounts:      b.tableCounts,
		runDurations:     b.runDurations,
	}

	b.issueCounts = make(map[string]float64)
	b.suggestionCounts = make(map[string]float64)
	b.repairCounts = make(map[string]float64)
	b.gapCounts = make(map[string]float64)
	b.tableCounts = make(map[string]float64)
	b.runDurations = make(map[string][]float64)

	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.issueCounts) == 0 &&
		len(s.suggestionCounts) == 0 &&
		len(s.repairCounts) == 0 &&
		len(s.gapCounts) == 0 &&
		len(s.tableCounts) == 0 &&
		len(s.runDurations) == 0
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Errors:
//   - Returns any error from Datadog submission.
//   - Returns nil if there is nothing to submit.
//
// Edge cases:
//   - Safe to call concurrently with IncCounter/ObserveHistogram.
//   - Buffers reset even if submission fails, so a dead intake cannot grow
//     memory without bound; the points of that window are lost.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	nowUnix := b.now().Unix()

	series := b.buildSeries(snap, nowUnix)
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs Datadog series for a snapshot at a fixed timestamp.
// It is pure (no locks, no network, no clocks), which keeps naming and
// tagging behavior unit-testable; the names below are an operational
// contract with the dashboards.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	addCount := func(metric string, value float64, tags []string) datadogV2.MetricSeries {
		return datadogV2.MetricSeries{
			Metric: metric,
			Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
			Points: []datadogV2.MetricPoint{
				{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
			},
			Tags: tags,
		}
	}

	series := make([]datadogV2.MetricSeries, 0, len(s.issueCounts)+len(s.repairCounts)+16)

	for k, v := range s.issueCounts {
		if v == 0 {
			continue
		}
		tableName, severity := splitPairKey(k)
		tags := withTags(b.baseTags, "table:"+tableName, "severity:"+severity)
		series = append(series, addCount("ledgerfix.issues.total", v, tags))
	}

	for k, v := range s.suggestionCounts {
		if v == 0 {
			continue
		}
		tableName, rule := splitPairKey(k)
		tags := withTags(b.baseTags, "table:"+tableName, "rule:"+rule)
		series = append(series, addCount("ledgerfix.suggestions.total", v, tags))
	}

	for k, v := range s.repairCounts {
		if v == 0 {
			continue
		}
		tableName, rule := splitPairKey(k)
		tags := withTags(b.baseTags, "table:"+tableName, "rule:"+rule)
		series = append(series, addCount("ledgerfix.repairs.total", v, tags))
	}

	for tableName, v := range s.gapCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "table:"+tableName)
		series = append(series, addCount("ledgerfix.gaps.total", v, tags))
	}

	for status, v := range s.tableCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "status:"+status)
		series = append(series, addCount("ledgerfix.tables.total", v, tags))
	}

	for k, samples := range s.runDurations {
		addPercentiles(&series, b.baseTags, "ledgerfix.run.duration_seconds", k, samples, nowUnix)
	}

	return series
}

// addPercentiles appends a fixed set of percentile gauges for a sample set.
//
// Edge cases:
//   - If samples is empty, it does nothing.
//   - It sorts a copy of samples (does not mutate input).
func addPercentiles(series *[]datadogV2.MetricSeries, baseTags []string, metricPrefix, key string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	mode, status := splitPairKey(key)
	tags := withTags(baseTags, "mode:"+mode, "status:"+status)

	*series = append(*series, gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix))
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func splitPairKey(k string) (a, b string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:ledgerfix".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// wrapInitErr keeps a stable prefix on init failures.
func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
