// Package metrics is the thin seam between the engine and whatever metrics
// sink a run is pointed at. Core code records counters and histogram
// samples against the package-level backend and never links a vendor SDK;
// backends live in subpackages and are installed by the command layer.
//
// The default backend is a nop, so library use without metrics costs two
// map-free calls per event.
package metrics

import "sync"

// Labels attach dimensions to a metric event.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer events and can submit
// them on demand.
type Flusher interface {
	Flush() error
}

// Metric names the engine emits. Backends route on these.
const (
	IssuesTotal        = "ledgerfix_issues_total"         // labels: table, severity
	SuggestionsTotal   = "ledgerfix_suggestions_total"    // labels: table, rule
	RepairsTotal       = "ledgerfix_repairs_total"        // labels: table, rule
	GapsTotal          = "ledgerfix_gaps_total"           // labels: table
	TablesTotal        = "ledgerfix_tables_total"         // labels: status
	RunDurationSeconds = "ledgerfix_run_duration_seconds" // labels: mode, status
)

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b as the process-wide backend. Nil restores the nop.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nop{}
		return
	}
	backend = b
}

// IncCounter adds delta to a counter on the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample on the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.ObserveHistogram(name, value, labels)
}

// Flush submits buffered events if the installed backend supports it.
func Flush() error {
	mu.RLock()
	b := backend
	mu.RUnlock()
	if f, ok := b.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
