package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"tabload/internal/config"
	"tabload/internal/parser"
	"tabload/internal/schema"
	"tabload/internal/transformer"
)

// StreamRows streams the data records of src into pooled rows aligned to the
// master column order.
//
//   - master columns the file lacks are nil;
//   - file columns outside the master are dropped;
//   - empty cells are nil;
//   - a record the reader cannot parse is reported through onErr and still
//     emitted as an all-nil row, so every data line of the file yields
//     exactly one row.
//
// On ctx cancellation in-flight rows are dropped, not pooled: a downstream
// consumer may still be reading them.
func StreamRows(
	ctx context.Context,
	src io.ReadCloser,
	master schema.Master,
	opt config.ParserOptions,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	r, err := parser.DecodeReadCloser(src, opt.Encoding)
	if err != nil {
		return err
	}
	cr := newReader(r, opt)

	var line int
	readRec := func() ([]string, error) {
		rec, err := cr.Read()
		var pe *csv.ParseError
		switch {
		case err == nil:
			line, _ = cr.FieldPos(0)
		case errors.As(err, &pe):
			line = pe.StartLine
		default:
			line++
		}
		return rec, err
	}

	hdr, err := readRec()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		if onErr != nil {
			onErr(line, fmt.Errorf("read header: %w", err))
		}
		return fmt.Errorf("read header: %w", err)
	}
	pos := master.Positions(schema.NormalizeHeader(hdr))
	width := master.Len()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if errors.Is(err, io.EOF) {
			return nil
		}

		row := transformer.GetRow(width)
		row.Line = line

		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
		} else {
			for si, v := range rec {
				if si >= len(pos) || pos[si] < 0 {
					continue
				}
				if opt.TrimSpace && hasEdgeSpace(v) {
					v = strings.TrimSpace(v)
				}
				if v != "" {
					row.V[pos[si]] = v
				}
			}
		}

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
}

func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return isSpace(s[0]) || isSpace(s[len(s)-1])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
