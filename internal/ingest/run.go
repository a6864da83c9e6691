package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tabload/internal/datasource/file"
	"tabload/internal/metrics"
	"tabload/internal/storage"
)

// ErrPhaseFailed is returned by Run when at least one phase failed.
var ErrPhaseFailed = errors.New("ingest: phase failed")

// Phase names used in logs, metrics and reports.
const (
	PhaseIngest       = "ingest"
	PhaseSchema       = "schema"
	PhaseAnalyze      = "analyze"
	PhaseRetype       = "retype"
	PhaseDistribution = "distribution"
)

// Phase statuses.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusCanceled = "canceled"
)

// PhaseResult records how one phase ended.
type PhaseResult struct {
	Name     string        `json:"name" yaml:"name"`
	Status   string        `json:"status" yaml:"status"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report collects the outputs of a Run. Fields of phases that did not run
// or failed are nil.
type Report struct {
	Table              string           `json:"table" yaml:"table"`
	Phases             []PhaseResult    `json:"phases" yaml:"phases"`
	Ingest             *IngestResult    `json:"ingest,omitempty" yaml:"ingest,omitempty"`
	Columns            []storage.Column `json:"columns,omitempty" yaml:"columns,omitempty"`
	Analysis           *Analysis        `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	Retype             *RetypeResult    `json:"retype,omitempty" yaml:"retype,omitempty"`
	DistributionColumn string           `json:"distribution_column,omitempty" yaml:"distribution_column,omitempty"`
	Distribution       []storage.Bucket `json:"distribution,omitempty" yaml:"distribution,omitempty"`
}

// Failed returns the names of phases that did not end ok.
func (r *Report) Failed() []string {
	var out []string
	for _, p := range r.Phases {
		if p.Status != StatusOK {
			out = append(out, p.Name)
		}
	}
	return out
}

// Run executes ingest, schema, analyze, retype (when retype.enabled) and
// distribution (when report.distribution_column is set) in order.
//
// A phase error is logged and recorded, and the next phase still runs.
// Missing input (file.ErrNoInput) stops the run before anything touches the
// store. The returned error wraps ErrPhaseFailed when any phase failed.
// Buffered metrics are flushed before Run returns.
func (i *Ingestor) Run(ctx context.Context) (*Report, error) {
	rep := &Report{Table: i.Table(), DistributionColumn: i.cfg.Report.DistributionColumn}
	defer func() {
		if err := metrics.Flush(); err != nil {
			i.log.Warn("metrics flush failed", "err", err)
		}
	}()

	err := i.phase(ctx, rep, PhaseIngest, func(ctx context.Context) error {
		res, err := i.Ingest(ctx)
		rep.Ingest = res
		return err
	})
	if errors.Is(err, file.ErrNoInput) {
		return rep, err
	}

	_ = i.phase(ctx, rep, PhaseSchema, func(ctx context.Context) error {
		cols, err := i.Schema(ctx)
		rep.Columns = cols
		return err
	})
	_ = i.phase(ctx, rep, PhaseAnalyze, func(ctx context.Context) error {
		a, err := i.Analyze(ctx)
		rep.Analysis = a
		return err
	})
	if i.cfg.Retype.Enabled {
		_ = i.phase(ctx, rep, PhaseRetype, func(ctx context.Context) error {
			res, err := i.Retype(ctx, false)
			rep.Retype = res
			return err
		})
	}
	if i.cfg.Report.DistributionColumn != "" {
		_ = i.phase(ctx, rep, PhaseDistribution, func(ctx context.Context) error {
			b, err := i.Distribution(ctx, "")
			rep.Distribution = b
			return err
		})
	}

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if failed := rep.Failed(); len(failed) > 0 {
		return rep, fmt.Errorf("%w: %s", ErrPhaseFailed, strings.Join(failed, ", "))
	}
	return rep, nil
}

// phase runs fn, then logs, meters and records its outcome. A canceled
// context skips fn.
func (i *Ingestor) phase(ctx context.Context, rep *Report, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		rep.Phases = append(rep.Phases, PhaseResult{Name: name, Status: StatusCanceled, Error: err.Error()})
		return err
	}

	start := time.Now()
	err := fn(ctx)
	dur := since(start)

	pr := PhaseResult{Name: name, Status: StatusOK, Duration: dur}
	switch {
	case err == nil:
		i.log.Info("phase done", "stage", name, "status", pr.Status, "duration", dur)
	case errors.Is(err, context.Canceled):
		pr.Status, pr.Error = StatusCanceled, err.Error()
		i.log.Warn("phase canceled", "stage", name, "duration", dur)
	default:
		pr.Status, pr.Error = StatusError, err.Error()
		i.log.Error("phase failed", "stage", name, "status", pr.Status, "duration", dur, "err", err)
	}
	metrics.RecordStep(name, pr.Status, dur)
	rep.Phases = append(rep.Phases, pr)
	return err
}
