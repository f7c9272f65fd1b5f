package datadog

import (
	"context"
	"errors"
	"net/http"
	"os"
	"reflect"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"ledgerfix/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

// TestResolveEnvTag verifies environment-tag precedence and defaults.
//
// Edge cases:
//   - ENV wins over DD_ENV.
//   - Whitespace-only env vars are ignored.
//   - If neither is set, "env:unknown" is returned.
func TestResolveEnvTag(t *testing.T) {
	oldENV := os.Getenv("ENV")
	oldDDENV := os.Getenv("DD_ENV")
	t.Cleanup(func() {
		_ = os.Setenv("ENV", oldENV)
		_ = os.Setenv("DD_ENV", oldDDENV)
	})

	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_ = os.Setenv("ENV", tc.env)
			_ = os.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

// TestWrapInitErr verifies error wrapping behavior.
func TestWrapInitErr(t *testing.T) {
	if got := wrapInitErr(nil); got != nil {
		t.Fatalf("wrapInitErr(nil)=%v, want nil", got)
	}

	in := errors.New("boom")
	got := wrapInitErr(in)
	if got == nil {
		t.Fatalf("wrapInitErr(err)=nil, want non-nil")
	}
	if !errors.Is(got, in) {
		t.Fatalf("wrapped error does not match original")
	}
}

func TestPairKeyRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
	}{
		{name: "normal", a: "invoices", b: "error"},
		{name: "empty_first", a: "", b: "warning"},
		{name: "empty_second", a: "funds", b: ""},
		{name: "both_empty", a: "", b: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			k := pairKey(tc.a, tc.b)
			a, b := splitPairKey(k)
			if a != tc.a || b != tc.b {
				t.Fatalf("roundtrip got=(%q,%q), want=(%q,%q)", a, b, tc.a, tc.b)
			}
		})
	}

	t.Run("split_without_separator_defaults_unknown", func(t *testing.T) {
		a, b := splitPairKey("no-sep")
		if a != "no-sep" || b != "unknown" {
			t.Fatalf("splitPairKey()=(%q,%q), want=(%q,%q)", a, b, "no-sep", "unknown")
		}
	})
}

// TestWithTags verifies tag concatenation and immutability.
func TestWithTags(t *testing.T) {
	base := []string{"env:test", "job:ledgerfix"}
	extras := []string{"table:invoices", "severity:error"}
	got := withTags(base, extras...)
	want := []string{"env:test", "job:ledgerfix", "table:invoices", "severity:error"}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("withTags()=%v, want %v", got, want)
	}
	if !reflect.DeepEqual(base, []string{"env:test", "job:ledgerfix"}) {
		t.Fatalf("withTags mutated base: %v", base)
	}
	got[0] = "env:mutated"
	if base[0] == "env:mutated" {
		t.Fatalf("withTags output aliases base slice; base should not change when output is modified")
	}
}

// TestPercentileNearestRank verifies percentile behavior.
func TestPercentileNearestRank(t *testing.T) {
	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.50, want: 0},
		{name: "single", s: []float64{7}, p: 0.95, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.50, want: 3},
		{name: "p90_small_n", s: []float64{1, 2, 3, 4, 5}, p: 0.90, want: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
				t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
			}
		})
	}
}

// TestGaugeSeries verifies gaugeSeries timestamps and values.
func TestGaugeSeries(t *testing.T) {
	now := int64(1234567)
	s := gaugeSeries("ledgerfix.test.gauge", 3.14, []string{"env:test"}, now)

	if s.Metric != "ledgerfix.test.gauge" {
		t.Fatalf("Metric=%q, want %q", s.Metric, "ledgerfix.test.gauge")
	}
	if s.Type == nil || *s.Type != datadogV2.METRICINTAKETYPE_GAUGE {
		t.Fatalf("Type=%v, want GAUGE", s.Type)
	}
	if len(s.Points) != 1 {
		t.Fatalf("Points.len=%d, want 1", len(s.Points))
	}
	if s.Points[0].Timestamp == nil || *s.Points[0].Timestamp != now {
		t.Fatalf("Timestamp=%v, want %d", s.Points[0].Timestamp, now)
	}
	if s.Points[0].Value == nil || *s.Points[0].Value != 3.14 {
		t.Fatalf("Value=%v, want 3.14", s.Points[0].Value)
	}
}

// TestAddPercentiles verifies addPercentiles produces the expected series
// and does not mutate input.
func TestAddPercentiles(t *testing.T) {
	now := int64(999)
	base := []string{"env:test", "job:ledgerfix"}
	key := pairKey("repair", "ok")

	orig := []float64{5, 1, 3, 2, 4}
	in := append([]float64(nil), orig...)

	var series []datadogV2.MetricSeries
	addPercentiles(&series, base, "ledgerfix.run.duration_seconds", key, in, now)

	// p50, p90, p95, p99, max, samples.
	if len(series) != 6 {
		t.Fatalf("series.len=%d, want 6", len(series))
	}
	if !reflect.DeepEqual(in, orig) {
		t.Fatalf("samples mutated: got %v, want %v", in, orig)
	}

	var foundSamples bool
	for _, s := range series {
		if !contains(s.Tags, "mode:repair") || !contains(s.Tags, "status:ok") {
			t.Fatalf("series %q missing mode/status tags: %v", s.Metric, s.Tags)
		}
		if s.Metric == "ledgerfix.run.duration_seconds.samples" {
			foundSamples = true
			if s.Points[0].Value == nil || *s.Points[0].Value != 5 {
				t.Fatalf("samples gauge value=%v, want 5", s.Points[0].Value)
			}
		}
	}
	if !foundSamples {
		t.Fatalf("did not find samples gauge series")
	}
}

// TestNewBackend_Defaults verifies defaults and initialization behavior
// without real HTTP.
func TestNewBackend_Defaults(t *testing.T) {
	fs := &fakeSubmitter{}
	opts := Options{
		JobName:    "", // should default
		FlushEvery: 0,  // should default
		Tags:       []string{"service:ledgerfix"},
		submitter:  fs,
		now:        func() time.Time { return time.Unix(123, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}

	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend() err=%v, want nil", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:ledgerfix") {
		t.Fatalf("baseTags missing job:ledgerfix: %v", b.baseTags)
	}
	if !contains(b.baseTags, "service:ledgerfix") {
		t.Fatalf("baseTags missing service:ledgerfix: %v", b.baseTags)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

// TestFlush_SubmitsAndResets verifies Flush submits buffered metrics and
// resets buffers.
func TestFlush_SubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	opts := Options{
		JobName:    "nightly",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(1000, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}

	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.IssuesTotal, 2, metrics.Labels{"table": "invoices", "severity": "error"})
	b.IncCounter(metrics.SuggestionsTotal, 3, metrics.Labels{"table": "invoices", "rule": "direct_sibling"})
	b.IncCounter(metrics.RepairsTotal, 1, metrics.Labels{"table": "invoices", "rule": "direct_sibling"})
	b.IncCounter(metrics.GapsTotal, 1, metrics.Labels{"table": "allocations"})
	b.IncCounter(metrics.TablesTotal, 4, metrics.Labels{"status": "loaded"})
	b.ObserveHistogram(metrics.RunDurationSeconds, 0.5, metrics.Labels{"mode": "repair", "status": "ok"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}

	if len(b.issueCounts) != 0 || len(b.suggestionCounts) != 0 || len(b.repairCounts) != 0 ||
		len(b.gapCounts) != 0 || len(b.tableCounts) != 0 || len(b.runDurations) != 0 {
		t.Fatalf("buffers not reset after Flush")
	}

	payload, ok := fs.last()
	if !ok {
		t.Fatalf("missing payload")
	}

	var metricNames []string
	for _, s := range payload.Series {
		metricNames = append(metricNames, s.Metric)
	}
	sort.Strings(metricNames)

	wantContains := []string{
		"ledgerfix.issues.total",
		"ledgerfix.suggestions.total",
		"ledgerfix.repairs.total",
		"ledgerfix.gaps.total",
		"ledgerfix.tables.total",
		"ledgerfix.run.duration_seconds.p50",
		"ledgerfix.run.duration_seconds.samples",
	}
	for _, w := range wantContains {
		if !contains(metricNames, w) {
			t.Fatalf("payload missing metric %q; got=%v", w, metricNames)
		}
	}
}

// TestFlush_NoDataDoesNotSubmit verifies Flush returns nil and does not
// submit when empty.
func TestFlush_NoDataDoesNotSubmit(t *testing.T) {
	fs := &fakeSubmitter{}
	opts := Options{
		JobName:    "nightly",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(1000, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}

	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 0 {
		t.Fatalf("unexpected submission count=%d, want 0", fs.count())
	}
}

// TestLoopAndClose verifies the background loop flushes periodically and
// Close performs a final flush.
func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}

	opts := Options{
		JobName:    "nightly",
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
		// Real ticker so the loop is exercised.
	}

	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.TablesTotal, 1, metrics.Labels{"status": "loaded"})

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		if fs.count() >= 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected at least one background Flush submission; got %d", fs.count())
	}

	b.IncCounter(metrics.TablesTotal, 1, metrics.Labels{"status": "loaded"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v, want nil", err)
	}

	if fs.count() < 2 {
		t.Fatalf("expected at least 2 submissions after Close; got %d", fs.count())
	}
}

// TestBackend_ConcurrentAccess verifies thread-safety of buffering.
func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	opts := Options{
		JobName:    "nightly",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(3000, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}
	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	workers := runtime.GOMAXPROCS(0) * 4
	iters := 2000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				b.IncCounter(metrics.IssuesTotal, 1, metrics.Labels{"table": "invoices", "severity": "warning"})
				b.IncCounter(metrics.RepairsTotal, 1, metrics.Labels{"table": "invoices", "rule": "majority_vote"})
				b.IncCounter(metrics.GapsTotal, 1, metrics.Labels{"table": "allocations"})
				b.ObserveHistogram(metrics.RunDurationSeconds, 0.01, metrics.Labels{"mode": "repair", "status": "ok"})
			}
		}()
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
}

// TestIncCounterAndObserveHistogram_EdgeCases verifies ignored paths and
// defaults.
func TestIncCounterAndObserveHistogram_EdgeCases(t *testing.T) {
	fs := &fakeSubmitter{}
	opts := Options{
		JobName:    "nightly",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(4000, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}
	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	// Non-positive counter should be ignored.
	b.IncCounter(metrics.IssuesTotal, 0, nil)
	// Unknown metric should be ignored.
	b.IncCounter("unknown_total", 1, metrics.Labels{"x": "y"})
	// Negative histogram should be ignored.
	b.ObserveHistogram(metrics.RunDurationSeconds, -1, metrics.Labels{"mode": "repair", "status": "ok"})
	// Missing labels should default "unknown".
	b.IncCounter(metrics.TablesTotal, 1, metrics.Labels{})
	b.IncCounter(metrics.GapsTotal, 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}

	payload, ok := fs.last()
	if !ok {
		t.Fatalf("missing payload")
	}

	var sawTables, sawGaps bool
	for _, s := range payload.Series {
		if s.Metric == "ledgerfix.tables.total" && contains(s.Tags, "status:unknown") {
			sawTables = true
		}
		if s.Metric == "ledgerfix.gaps.total" && contains(s.Tags, "table:unknown") {
			sawGaps = true
		}
	}
	if !sawTables {
		t.Fatalf("expected ledgerfix.tables.total for status:unknown")
	}
	if !sawGaps {
		t.Fatalf("expected ledgerfix.gaps.total for table:unknown")
	}
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "empty_returns_nil",
			in:   "",
			want: nil,
		},
		{
			name: "trims_and_skips_empty_segments",
			in:   " env:prod , ,service:ledgerfix,  ,team:finance ",
			want: []string{"env:prod", "service:ledgerfix", "team:finance"},
		},
		{
			name: "single_tag",
			in:   "service:ledgerfix",
			want: []string{"service:ledgerfix"},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ParseTagsCSV(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
