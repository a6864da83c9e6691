// Package metrics is the process-wide metrics facade.
//
// Ingest code records through the package functions; a backend chosen at
// startup (see internal/metrics/datadog) receives them. Until SetBackend is
// called every call is a no-op.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metric names recorded by the ingest pipeline.
const (
	StepTotal           = "ingest_step_total"
	StepDurationSeconds = "ingest_step_duration_seconds"
	RowsTotal           = "ingest_rows_total"
	BatchesTotal        = "ingest_batches_total"
)

// Row kinds for RowsTotal.
const (
	KindLoaded      = "loaded"
	KindMalformed   = "malformed"
	KindCoercedNull = "coerced_null"
	KindCopied      = "copied"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives recorded metrics.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer.
type Flusher interface {
	Flush() error
}

type holder struct{ b Backend }

var current atomic.Pointer[holder]

func init() {
	current.Store(&holder{b: nop{}})
}

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nop{}
	}
	current.Store(&holder{b: b})
}

func backend() Backend { return current.Load().b }

func IncCounter(name string, delta float64, labels Labels) {
	backend().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	backend().ObserveHistogram(name, value, labels)
}

// Flush flushes the current backend if it buffers.
func Flush() error {
	if f, ok := backend().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep counts one finished pipeline phase and its duration.
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// AddRows counts rows of the given kind.
func AddRows(kind string, n int64) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"kind": kind})
}

// AddBatch counts one written batch.
func AddBatch() {
	IncCounter(BatchesTotal, 1, nil)
}

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}
