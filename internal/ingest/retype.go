package ingest

import (
	"context"
	"fmt"
	"time"

	"tabload/internal/metrics"
	"tabload/internal/schema"
	"tabload/internal/storage"
)

// RetypeResult summarizes the type-correction phase.
type RetypeResult struct {
	Table        string   `json:"table" yaml:"table"`
	Skipped      bool     `json:"skipped" yaml:"skipped"`
	Reason       string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	TextColumns  int      `json:"text_columns" yaml:"text_columns"`
	Changed      []string `json:"changed,omitempty" yaml:"changed,omitempty"`
	Rows         int64    `json:"rows" yaml:"rows"`
	CoercedNulls int64    `json:"coerced_nulls" yaml:"coerced_nulls"`
	LeftoverDrop bool     `json:"leftover_dropped,omitempty" yaml:"leftover_dropped,omitempty"`
}

// NewTableName returns the name of the rebuild target for table.
func NewTableName(table string) string { return table + "_new" }

// Retype rebuilds the table with the recommended column types.
//
// It proceeds only when at least retype.min_text_columns columns are
// declared text (force skips this check) and at least one recommendation
// differs from its declared type. The rebuild drops a leftover <table>_new,
// creates it with the new types, copies every row converting each value,
// checks both tables hold the same number of rows, drops the table and
// renames <table>_new over it. Values that do not
// convert are stored as null and counted. There is no rollback: a failure
// after the create leaves the old table and possibly <table>_new.
func (i *Ingestor) Retype(ctx context.Context, force bool) (*RetypeResult, error) {
	res := &RetypeResult{Table: i.Table()}
	err := i.withRepo(ctx, func(repo storage.Repository) error {
		cols, err := repo.Columns(ctx, i.Table())
		if err != nil {
			return err
		}
		a, err := i.analyze(ctx, repo, cols)
		if err != nil {
			return err
		}
		res.TextColumns = a.TextColumns

		if reason := i.skipReason(a, force); reason != "" {
			res.Skipped, res.Reason = true, reason
			i.log.Info("retype skipped", "table", i.Table(), "reason", reason)
			return nil
		}
		return i.rebuild(ctx, repo, a.Recommendations, res)
	})
	return res, err
}

func (i *Ingestor) skipReason(a *Analysis, force bool) string {
	threshold := i.cfg.Retype.MinTextColumns
	if !force && a.TextColumns < threshold {
		return fmt.Sprintf("%d text columns, fewer than %d", a.TextColumns, threshold)
	}
	if !schema.AnyChanged(a.Recommendations) {
		return "declared types already match the sample"
	}
	return ""
}

func (i *Ingestor) rebuild(ctx context.Context, repo storage.Repository, recs []schema.Recommendation, res *RetypeResult) error {
	table, tmp := i.Table(), NewTableName(i.Table())
	start := time.Now()

	leftover, err := repo.TableExists(ctx, tmp)
	if err != nil {
		return err
	}
	if leftover {
		if err := repo.DropTable(ctx, tmp); err != nil {
			return fmt.Errorf("drop leftover %s: %w", tmp, err)
		}
		res.LeftoverDrop = true
		i.log.Warn("dropped leftover table from an earlier run", "table", tmp)
	}

	names := make([]string, len(recs))
	types := schema.Suggested(recs)
	defs := make([]storage.ColumnDef, len(recs))
	for c, r := range recs {
		names[c] = r.Column
		defs[c] = storage.ColumnDef{Name: r.Column, Type: r.Suggested}
		if r.Changed() {
			res.Changed = append(res.Changed, r.Column)
		}
	}
	if err := repo.CreateTable(ctx, tmp, defs); err != nil {
		return err
	}

	err = repo.ScanBatches(ctx, table, names, i.cfg.Retype.BatchSize, func(page [][]any) error {
		var lost int64
		out := make([][]any, len(page))
		for r, row := range page {
			conv := make([]any, len(types))
			for c, t := range types {
				v, ok := schema.Coerce(row[c], t)
				if !ok {
					lost++
				}
				conv[c] = v
			}
			out[r] = conv
		}
		n, err := repo.InsertRows(ctx, tmp, names, out)
		if err != nil {
			return fmt.Errorf("copy into %s: %w", tmp, err)
		}
		res.Rows += n
		res.CoercedNulls += lost
		metrics.AddBatch()
		metrics.AddRows(metrics.KindCopied, n)
		metrics.AddRows(metrics.KindCoercedNull, lost)
		i.log.Debug("batch copied", "table", tmp, "rows", n, "total", res.Rows)
		return nil
	})
	if err != nil {
		return err
	}

	want, err := repo.CountRows(ctx, table)
	if err != nil {
		return err
	}
	got, err := repo.CountRows(ctx, tmp)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: %s holds %d rows, %s holds %d", ErrRowCount, tmp, got, table, want)
	}

	if err := repo.DropTable(ctx, table); err != nil {
		return err
	}
	if err := repo.RenameTable(ctx, tmp, table); err != nil {
		return err
	}
	i.log.Info("table retyped", "stage", "retype", "table", table, "changed", len(res.Changed),
		"rows", res.Rows, "coerced_nulls", res.CoercedNulls, "duration", since(start))
	return nil
}
