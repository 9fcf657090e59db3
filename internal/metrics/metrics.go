// Package metrics is the backend-neutral metrics facade used by the
// generator. Concrete backends live in subpackages (metrics/datadog).
package metrics

import "sync"

// Metric names emitted by csvtypes.
const (
	// RowsTotal counts data rows read from the input.
	RowsTotal = "csvtypes_rows_total"
	// ColumnsTotal counts decided columns, labelled by "shape".
	ColumnsTotal = "csvtypes_columns_total"
	// MixedColumnsTotal counts columns that fell back to categorical.
	MixedColumnsTotal = "csvtypes_mixed_columns_total"
	// StageDurationSeconds observes per-stage wall time, labelled by "stage".
	StageDurationSeconds = "csvtypes_stage_duration_seconds"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives counters and histogram observations.
//
// Implementations must be safe for concurrent use. Flush pushes buffered
// data; Close stops background work and flushes one last time.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Flush() error                             { return nil }
func (Nop) Close() error                             { return nil }

// Memory keeps counter totals and observations in process. Tests use it to
// check what a component reported; the profile command uses it to print a
// run summary.
type Memory struct {
	mu           sync.Mutex
	counters     map[string]float64
	observations map[string][]float64
}

// NewMemory returns an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{
		counters:     make(map[string]float64),
		observations: make(map[string][]float64),
	}
}

// Key joins a metric name and one label into the lookup key used by
// Counter and Observations. An empty label key selects the bare name.
func Key(name, labelKey, labelValue string) string {
	if labelKey == "" {
		return name
	}
	return name + "{" + labelKey + "=" + labelValue + "}"
}

func (m *Memory) IncCounter(name string, delta float64, labels Labels) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
	for k, v := range labels {
		m.counters[Key(name, k, v)] += delta
	}
}

func (m *Memory) ObserveHistogram(name string, value float64, labels Labels) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations[name] = append(m.observations[name], value)
	for k, v := range labels {
		key := Key(name, k, v)
		m.observations[key] = append(m.observations[key], value)
	}
}

// Counter returns the total for a key built with Key.
func (m *Memory) Counter(key string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key]
}

// Observations returns a copy of the samples for a key built with Key.
func (m *Memory) Observations(key string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.observations[key]...)
}

func (m *Memory) Flush() error { return nil }
func (m *Memory) Close() error { return nil }

var (
	_ Backend = Nop{}
	_ Backend = (*Memory)(nil)
)
