package ingest

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"tabload/internal/config"
	"tabload/internal/datasource/file"
	csvparser "tabload/internal/parser/csv"
	htmlparser "tabload/internal/parser/html"
	jsonparser "tabload/internal/parser/json"
	"tabload/internal/schema"
	"tabload/internal/transformer"
)

type (
	headerFunc func(src io.Reader, opt config.ParserOptions) ([]string, error)
	streamFunc func(ctx context.Context, src io.ReadCloser, master schema.Master, opt config.ParserOptions,
		out chan<- *transformer.Row, onErr func(line int, err error)) error
)

// streamSelector picks the reader pair for a source format.
type streamSelector func(f file.Format) (headerFunc, streamFunc, error)

func defaultStreams(f file.Format) (headerFunc, streamFunc, error) {
	switch f {
	case file.FormatCSV:
		return csvparser.ReadHeader, csvparser.StreamRows, nil
	case file.FormatHTML:
		return htmlparser.ReadHeader, htmlparser.StreamRows, nil
	case file.FormatJSON:
		return jsonparser.ReadHeader, jsonparser.StreamRows, nil
	}
	return nil, nil, fmt.Errorf("unsupported source format %q", f)
}

// DiscoverSchema reads the header of every source and returns the sorted
// union of the normalized column names. Headers are read on up to
// load.discover_workers goroutines; the result does not depend on order.
func (i *Ingestor) DiscoverSchema(ctx context.Context, sources []file.Source) (schema.Master, error) {
	headers := make([][]string, len(sources))
	opt := i.cfg.Source.ParserOptions()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(i.cfg.Load.DiscoverWorkers, 1))
	for idx, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := i.readHeader(src, opt)
			if err != nil {
				return err
			}
			headers[idx] = h
			i.log.Debug("header read", "file", src.Name(), "columns", len(h))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return schema.Master{}, err
	}
	return schema.Union(headers...), nil
}

func (i *Ingestor) readHeader(src file.Source, opt config.ParserOptions) ([]string, error) {
	read, _, err := i.stream(src.Format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Name(), err)
	}
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	h, err := read(rc, opt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Name(), err)
	}
	return h, nil
}
