package ingest

import (
	"context"
	"fmt"
	"time"

	"tabload/internal/datasource/file"
	"tabload/internal/metrics"
	"tabload/internal/schema"
	"tabload/internal/storage"
	"tabload/internal/transformer"
)

// IngestResult summarizes the ingest phase.
type IngestResult struct {
	Table     string   `json:"table" yaml:"table"`
	Sources   []string `json:"sources" yaml:"sources"`
	Extracted int      `json:"extracted" yaml:"extracted"`
	Columns   []string `json:"columns" yaml:"columns"`
	Rows      int64    `json:"rows" yaml:"rows"`
	TableRows int64    `json:"table_rows" yaml:"table_rows"`
	Malformed int64    `json:"malformed" yaml:"malformed"`
	Skipped   bool     `json:"skipped" yaml:"skipped"`
}

// Ingest prepares the source directory, discovers the master schema, creates
// the target table with every column declared text and appends every source
// in order.
//
// When the table already exists nothing is written and the result has
// Skipped set. After the load the table is counted and ErrRowCount is
// returned when it disagrees with the rows written. file.ErrNoInput is returned before the store is opened.
func (i *Ingestor) Ingest(ctx context.Context) (*IngestResult, error) {
	table := i.Table()
	res := &IngestResult{Table: table}

	prep, err := file.Prepare(i.cfg.Source.Dir, i.cfg.Source.Archive, i.cfg.Source.Patterns)
	if err != nil {
		return res, err
	}
	res.Extracted = prep.Extracted
	if prep.Extracted > 0 {
		i.log.Info("archive extracted", "archive", i.cfg.Source.Archive, "files", prep.Extracted)
	}
	for _, s := range prep.Sources {
		res.Sources = append(res.Sources, s.Name())
	}

	err = i.withRepo(ctx, func(repo storage.Repository) error {
		exists, err := repo.TableExists(ctx, table)
		if err != nil {
			return err
		}
		if exists {
			res.Skipped = true
			i.log.Info("table exists, skipping ingestion", "table", table)
			return nil
		}

		start := time.Now()
		master, err := i.DiscoverSchema(ctx, prep.Sources)
		if err != nil {
			return fmt.Errorf("discover schema: %w", err)
		}
		if master.Len() == 0 {
			return fmt.Errorf("discover schema: no columns in %d sources", len(prep.Sources))
		}
		res.Columns = master.Columns
		i.log.Info("schema discovered", "stage", "discover", "sources", len(prep.Sources),
			"columns", master.Len(), "duration", since(start))

		defs := make([]storage.ColumnDef, master.Len())
		for c, name := range master.Columns {
			defs[c] = storage.ColumnDef{Name: name, Type: schema.Text}
		}
		if err := repo.CreateTable(ctx, table, defs); err != nil {
			return err
		}

		for _, src := range prep.Sources {
			st, err := i.loadSource(ctx, repo, table, master, src)
			res.Rows += st.rows
			res.Malformed += st.malformed
			if err != nil {
				return fmt.Errorf("load %s: %w", src.Name(), err)
			}
		}

		n, err := repo.CountRows(ctx, table)
		if err != nil {
			return err
		}
		res.TableRows = n
		if n != res.Rows {
			return fmt.Errorf("%w: %s holds %d rows, %d were loaded", ErrRowCount, table, n, res.Rows)
		}
		return nil
	})
	return res, err
}

type loadStats struct {
	rows      int64
	malformed int64
}

// loadSource streams one source into table. A producer goroutine reads rows
// into a bounded channel; this goroutine groups them into chunks and appends
// each chunk in one call.
//
// Ownership: rows received from the channel belong to the consumer and are
// freed with their chunk. Rows received after a write failure are freed
// while the producer unwinds.
func (i *Ingestor) loadSource(ctx context.Context, repo storage.Repository, table string, master schema.Master, src file.Source) (loadStats, error) {
	var st loadStats
	start := time.Now()

	_, stream, err := i.stream(src.Format)
	if err != nil {
		return st, err
	}
	rc, err := src.Open()
	if err != nil {
		return st, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	rows := make(chan *transformer.Row, max(i.cfg.Load.ChannelBuffer, 1))
	prodErr := make(chan error, 1)

	// malformed is written by the producer only and read after prodErr.
	var malformed int64
	onErr := func(line int, err error) {
		malformed++
		i.log.Warn("malformed record stored as nulls", "file", src.Name(), "line", line, "err", err)
	}
	go func() {
		defer close(rows)
		prodErr <- stream(ctx, rc, master, i.cfg.Source.ParserOptions(), rows, onErr)
	}()

	chunk := transformer.NewChunk(i.cfg.Load.ChunkSize)
	flush := func() error {
		if chunk.Len() == 0 {
			return nil
		}
		n, err := repo.InsertRows(ctx, table, master.Columns, chunk.Values())
		size := chunk.Len()
		chunk.Reset()
		if err != nil {
			return err
		}
		st.rows += n
		metrics.AddBatch()
		metrics.AddRows(metrics.KindLoaded, n)
		i.log.Debug("chunk appended", "file", src.Name(), "rows", size, "total", st.rows)
		return nil
	}

	var werr error
	for r := range rows {
		if werr != nil {
			r.Free()
			continue
		}
		if chunk.Add(r) {
			if werr = flush(); werr != nil {
				cancel(werr)
			}
		}
	}
	if werr == nil {
		werr = flush()
	}

	perr := <-prodErr
	st.malformed = malformed
	metrics.AddRows(metrics.KindMalformed, malformed)

	if werr != nil {
		return st, werr
	}
	if perr != nil {
		return st, perr
	}
	i.log.Info("source loaded", "stage", "load", "file", src.Name(), "rows", st.rows,
		"malformed", st.malformed, "duration", since(start))
	return st, nil
}

func since(t time.Time) time.Duration { return time.Since(t).Truncate(time.Millisecond) }
