// Package transformer holds the row containers that travel between the source
// readers and the storage loader.
//
// Rows are pooled: a wide source (80+ columns, millions of records) would
// otherwise allocate one []any per record for the whole load.
package transformer

import "sync"

// Row is a positional record aligned to the master column order.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time; sending it on a channel
//     transfers ownership.
//   - The final consumer calls Free once it no longer reads r.V (after the
//     chunk holding it was written).
//   - On cancellation paths use Drop: a canceled consumer may still be
//     reading the row while the reader unwinds.
type Row struct {
	V    []any
	Line int // 1-based source line of the record, 0 when unknown
}

var rowPool sync.Pool

// GetRow returns a Row with len(V) == colCount and every value nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		clear(r.V)
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop releases the Row without pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
