package storage

// RowsPerStatement returns how many rows of ncols values fit in one
// multi-row INSERT under a bind-parameter limit and an optional row cap
// (maxRows <= 0 means uncapped). It returns 0 when a single row already
// exceeds maxParams.
func RowsPerStatement(ncols, maxParams, maxRows int) int {
	if ncols <= 0 {
		return 0
	}
	n := maxParams / ncols
	if maxRows > 0 && n > maxRows {
		n = maxRows
	}
	return n
}

// Split cuts rows into consecutive groups of at most size rows. The groups
// alias rows.
func Split(rows [][]any, size int) [][][]any {
	if size <= 0 || len(rows) == 0 {
		return nil
	}
	out := make([][][]any, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}
