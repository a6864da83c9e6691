// Package ingest loads a directory of heterogeneous tabular files into one
// relational table and optionally corrects its column types afterwards.
//
// The work is split into phases that each open and close their own storage
// connection:
//
//	Ingest   archive pre-step, header discovery, table creation, chunked load
//	Schema   declared columns of the table
//	Analyze  sample-based type recommendation and null report
//	Retype   full-table rewrite through <table>_new
//	Distribution  value counts of one column
//
// Run chains them the way a scheduled job would, containing each phase's
// failure so later independent phases still run.
package ingest

import (
	"context"
	"errors"
	"log/slog"

	"tabload/internal/config"
	"tabload/internal/storage"
)

// ErrNoColumn is returned by Distribution when no column was given or
// configured, or the table lacks it.
var ErrNoColumn = errors.New("ingest: no distribution column")

// ErrRowCount is returned when a table holds a different number of rows
// than were written to it.
var ErrRowCount = errors.New("ingest: row count mismatch")

// OpenFunc opens a storage backend.
type OpenFunc func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

// Ingestor runs ingest phases for one configuration.
type Ingestor struct {
	cfg    config.Config
	log    *slog.Logger
	open   OpenFunc
	stream streamSelector
}

// Option customizes an Ingestor.
type Option func(*Ingestor)

// WithOpen replaces the storage factory (storage.New by default).
func WithOpen(open OpenFunc) Option {
	return func(i *Ingestor) { i.open = open }
}

// New returns an Ingestor for cfg. cfg should already be resolved and
// validated. A nil logger discards output.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Ingestor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	i := &Ingestor{
		cfg:    cfg,
		log:    logger,
		open:   storage.New,
		stream: defaultStreams,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Table returns the target table name.
func (i *Ingestor) Table() string { return i.cfg.Storage.Table }

func (i *Ingestor) connect(ctx context.Context) (storage.Repository, error) {
	return i.open(ctx, storage.Config{Kind: i.cfg.Storage.Kind, DSN: i.cfg.Storage.DSN})
}

// withRepo runs fn on a connection that is closed when fn returns.
func (i *Ingestor) withRepo(ctx context.Context, fn func(repo storage.Repository) error) error {
	repo, err := i.connect(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(repo)
}
