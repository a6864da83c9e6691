// Package html reads one table out of an HTML page as a tabular source: the
// header cells name the columns and every following row with data cells is
// a record.
package html

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"tabload/internal/config"
	"tabload/internal/parser"
	"tabload/internal/schema"
	"tabload/internal/transformer"
)

type table struct {
	header []string
	rows   [][]string
	lines  []int
}

// parseTable selects the first element matching opt.TableSelector. The
// header is the first row holding <th> cells, or the first row when the
// table has none.
func parseTable(src io.Reader, opt config.ParserOptions) (*table, error) {
	r, err := parser.NewDecodingReader(src, opt.Encoding)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("html: parse: %w", err)
	}
	sel := opt.TableSelector
	if sel == "" {
		sel = config.DefaultHTMLTableSelector
	}
	tbl := doc.Find(sel).First()
	if tbl.Length() == 0 {
		return &table{}, nil
	}

	out := &table{}
	headerAt := -1
	trs := tbl.Find("tr")
	trs.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if tr.Find("th").Length() > 0 {
			headerAt = i
			return false
		}
		return true
	})
	if headerAt < 0 && trs.Length() > 0 {
		headerAt = 0
	}

	trs.Each(func(i int, tr *goquery.Selection) {
		switch {
		case i < headerAt:
			return
		case i == headerAt:
			out.header = schema.NormalizeHeader(cellTexts(tr))
		default:
			cells := cellTexts(tr)
			if len(cells) == 0 {
				return
			}
			out.rows = append(out.rows, cells)
			out.lines = append(out.lines, i+1)
		}
	})
	return out, nil
}

// cellTexts returns the trimmed text of the <th> and <td> cells of tr in
// document order.
func cellTexts(tr *goquery.Selection) []string {
	cells := tr.ChildrenFiltered("th, td")
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		out = append(out, strings.TrimSpace(c.Text()))
	})
	return out
}

// ReadHeader returns the normalized header of the selected table. A page
// without a matching table yields an empty header.
func ReadHeader(src io.Reader, opt config.ParserOptions) ([]string, error) {
	t, err := parseTable(src, opt)
	if err != nil {
		return nil, err
	}
	return t.header, nil
}

// StreamRows emits the data rows of the selected table aligned to the master
// column order, with the same null and reindexing rules as the CSV reader.
// The page is parsed in full before the first row is sent.
func StreamRows(
	ctx context.Context,
	src io.ReadCloser,
	master schema.Master,
	opt config.ParserOptions,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	t, err := parseTable(src, opt)
	if err != nil {
		if onErr != nil {
			onErr(0, err)
		}
		return err
	}
	pos := master.Positions(t.header)
	width := master.Len()

	for ri, cells := range t.rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := transformer.GetRow(width)
		row.Line = t.lines[ri]
		for ci, v := range cells {
			if ci >= len(pos) || pos[ci] < 0 || v == "" {
				continue
			}
			row.V[pos[ci]] = v
		}
		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
	return nil
}
