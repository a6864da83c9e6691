package ingest

import (
	"context"
	"fmt"

	"tabload/internal/schema"
	"tabload/internal/storage"
)

// Analysis is the sample-based type recommendation for the table.
type Analysis struct {
	Table           string                  `json:"table" yaml:"table"`
	Sampled         int                     `json:"sampled" yaml:"sampled"`
	TextColumns     int                     `json:"text_columns" yaml:"text_columns"`
	Recommendations []schema.Recommendation `json:"columns" yaml:"columns"`
}

// DTypes returns the suggested type per column name, the map a later run can
// reuse as a fixed schema.
func (a *Analysis) DTypes() map[string]schema.ColumnType {
	out := make(map[string]schema.ColumnType, len(a.Recommendations))
	for _, r := range a.Recommendations {
		out[r.Column] = r.Suggested
	}
	return out
}

// Schema returns the declared columns of the table.
func (i *Ingestor) Schema(ctx context.Context) ([]storage.Column, error) {
	var cols []storage.Column
	err := i.withRepo(ctx, func(repo storage.Repository) error {
		var err error
		cols, err = repo.Columns(ctx, i.Table())
		return err
	})
	return cols, err
}

// Analyze samples the first infer.sample_size rows and recommends a type per
// column. The same sample yields the per-column null counts.
func (i *Ingestor) Analyze(ctx context.Context) (*Analysis, error) {
	var a *Analysis
	err := i.withRepo(ctx, func(repo storage.Repository) error {
		cols, err := repo.Columns(ctx, i.Table())
		if err != nil {
			return err
		}
		a, err = i.analyze(ctx, repo, cols)
		return err
	})
	return a, err
}

func (i *Ingestor) analyze(ctx context.Context, repo storage.Repository, cols []storage.Column) (*Analysis, error) {
	names := storage.Names(cols)
	sample, err := repo.Sample(ctx, i.Table(), names, i.cfg.Infer.SampleSize)
	if err != nil {
		return nil, err
	}
	recs := schema.Infer(names, storage.Types(cols), sample)
	i.log.Debug("sample analyzed", "table", i.Table(), "rows", len(sample), "columns", len(cols))
	return &Analysis{
		Table:           i.Table(),
		Sampled:         len(sample),
		TextColumns:     schema.TextCount(recs),
		Recommendations: recs,
	}, nil
}

// Distribution counts the values of column (report.distribution_column when
// empty), least frequent first.
func (i *Ingestor) Distribution(ctx context.Context, column string) ([]storage.Bucket, error) {
	if column == "" {
		column = i.cfg.Report.DistributionColumn
	}
	if column == "" {
		return nil, ErrNoColumn
	}
	var out []storage.Bucket
	err := i.withRepo(ctx, func(repo storage.Repository) error {
		cols, err := repo.Columns(ctx, i.Table())
		if err != nil {
			return err
		}
		found := false
		for _, c := range cols {
			if c.Name == column {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %q not in table %s", ErrNoColumn, column, i.Table())
		}
		out, err = repo.Distribution(ctx, i.Table(), column)
		return err
	})
	return out, err
}
