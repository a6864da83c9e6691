// Package csv reads delimited text sources: the header row alone for schema
// discovery, and the data rows reindexed onto the master column order.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"tabload/internal/config"
	"tabload/internal/parser"
	"tabload/internal/schema"
)

func newReader(r io.Reader, opt config.ParserOptions) *csv.Reader {
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return cr
}

// ReadHeader reads only the first record of src and returns it normalized
// (see schema.NormalizeHeader). An empty source yields an empty header.
func ReadHeader(src io.Reader, opt config.ParserOptions) ([]string, error) {
	r, err := parser.NewDecodingReader(src, opt.Encoding)
	if err != nil {
		return nil, err
	}
	cr := newReader(r, opt)
	rec, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return schema.NormalizeHeader(rec), nil
}
