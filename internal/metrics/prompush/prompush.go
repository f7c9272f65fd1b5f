// Package prompush implements a Prometheus Pushgateway backend for the
// internal/metrics package.
//
// Push model:
//   - counters and histogram samples buffer in-memory (lock-protected)
//   - Flush() renders one text-exposition payload and PUTs it to
//     <gateway>/metrics/job/<job>
//   - a CLI run is short, so the facade's Flush() at exit is usually the
//     only submission
//
// PUT replaces every metric under the job grouping key, so a repeated run
// overwrites the previous run's state instead of accumulating stale series.
package prompush

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ledgerfix/internal/metrics"
)

// Backend implements metrics.Backend against a Prometheus Pushgateway.
type Backend struct {
	pushURL string
	client  *http.Client

	mu sync.Mutex

	// counters: metric name -> rendered label set -> value.
	counters map[string]map[string]float64

	// durations: metric name -> rendered label set -> samples.
	durations map[string]map[string][]float64
}

// NewBackend builds a Pushgateway backend.
//
// Edge cases:
//   - If jobName is empty, defaults to "ledgerfix".
//
// Errors:
//   - Empty or unparseable gwURL.
//   - URL scheme other than http/https.
func NewBackend(jobName, gwURL string) (*Backend, error) {
	if jobName == "" {
		jobName = "ledgerfix"
	}
	if strings.TrimSpace(gwURL) == "" {
		return nil, fmt.Errorf("prompush: empty pushgateway url")
	}

	u, err := url.Parse(gwURL)
	if err != nil {
		return nil, fmt.Errorf("prompush: parse pushgateway url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("prompush: unsupported scheme %q in pushgateway url", u.Scheme)
	}

	base := strings.TrimRight(u.String(), "/")

	return &Backend{
		pushURL:   base + "/metrics/job/" + url.PathEscape(jobName),
		client:    &http.Client{Timeout: 10 * time.Second},
		counters:  make(map[string]map[string]float64),
		durations: make(map[string]map[string][]float64),
	}, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if name == "" || delta <= 0 {
		return
	}
	key := formatLabels(labels)

	b.mu.Lock()
	defer b.mu.Unlock()

	series, ok := b.counters[name]
	if !ok {
		series = make(map[string]float64)
		b.counters[name] = series
	}
	series[key] += delta
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name == "" || value < 0 {
		return
	}
	key := formatLabels(labels)

	b.mu.Lock()
	defer b.mu.Unlock()

	series, ok := b.durations[name]
	if !ok {
		series = make(map[string][]float64)
		b.durations[name] = series
	}
	series[key] = append(series[key], value)
}

type snapshot struct {
	counters  map[string]map[string]float64
	durations map[string]map[string][]float64
}

// snapshotAndReset grabs current buffered metrics and resets the buffers.
// Takes the lock internally and returns detached maps.
func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		counters:  b.counters,
		durations: b.durations,
	}
	b.counters = make(map[string]map[string]float64)
	b.durations = make(map[string]map[string][]float64)
	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.counters) == 0 && len(s.durations) == 0
}

// Flush pushes buffered metrics to the gateway and resets local buffers.
//
// Errors:
//   - Returns any transport error or non-2xx gateway response.
//   - Returns nil if there is nothing to push.
//
// Edge cases:
//   - Safe to call concurrently with IncCounter/ObserveHistogram.
//   - Buffers reset even if the push fails; that window's points are lost.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := renderPayload(snap)

	req, err := http.NewRequest(http.MethodPut, b.pushURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("prompush: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; version=0.0.4")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("prompush: push to gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("prompush: gateway returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// renderPayload builds a text-exposition payload for a snapshot. It is pure
// (no locks, no network), which keeps formatting unit-testable. Output order
// is deterministic: metric names sorted, then label sets sorted.
func renderPayload(s snapshot) []byte {
	var buf bytes.Buffer

	names := make([]string, 0, len(s.counters))
	for name := range s.counters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(&buf, "# TYPE %s counter\n", name)
		for _, key := range sortedKeys(s.counters[name]) {
			fmt.Fprintf(&buf, "%s%s %s\n", name, key, formatValue(s.counters[name][key]))
		}
	}

	histNames := make([]string, 0, len(s.durations))
	for name := range s.durations {
		histNames = append(histNames, name)
	}
	sort.Strings(histNames)

	// The gateway holds one scrape-shaped state per job, so histograms are
	// collapsed to sum/count/max gauges rather than native buckets.
	for _, name := range histNames {
		series := s.durations[name]
		keys := make([]string, 0, len(series))
		for key := range series {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(&buf, "# TYPE %s_sum gauge\n", name)
		for _, key := range keys {
			fmt.Fprintf(&buf, "%s_sum%s %s\n", name, key, formatValue(sumOf(series[key])))
		}
		fmt.Fprintf(&buf, "# TYPE %s_count gauge\n", name)
		for _, key := range keys {
			fmt.Fprintf(&buf, "%s_count%s %s\n", name, key, formatValue(float64(len(series[key]))))
		}
		fmt.Fprintf(&buf, "# TYPE %s_max gauge\n", name)
		for _, key := range keys {
			fmt.Fprintf(&buf, "%s_max%s %s\n", name, key, formatValue(maxOf(series[key])))
		}
	}

	return buf.Bytes()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sumOf(s []float64) float64 {
	var total float64
	for _, v := range s {
		total += v
	}
	return total
}

func maxOf(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	m := s[0]
	for _, v := range s[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// formatLabels renders a label set as `{k1="v1",k2="v2"}` with keys sorted,
// or "" when the set is empty. Values are escaped per the exposition format.
func formatLabels(labels metrics.Labels) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		if k == "" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(escapeLabelValue(labels[k]))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	return v
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var _ metrics.Backend = (*Backend)(nil)
var _ metrics.Flusher = (*Backend)(nil)
