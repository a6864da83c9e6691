package transformer

// Chunk collects rows until the loader flushes them as one append.
type Chunk struct {
	rows []*Row
	size int
}

// NewChunk returns an empty chunk that reports Full at size rows.
// size <= 0 means a single-row chunk.
func NewChunk(size int) *Chunk {
	if size <= 0 {
		size = 1
	}
	return &Chunk{rows: make([]*Row, 0, min(size, 4096)), size: size}
}

// Add appends r and reports whether the chunk reached its size.
func (c *Chunk) Add(r *Row) bool {
	c.rows = append(c.rows, r)
	return len(c.rows) >= c.size
}

// Len returns the number of buffered rows.
func (c *Chunk) Len() int { return len(c.rows) }

// Values returns the buffered rows as the [][]any shape storage backends
// insert. The inner slices alias the pooled rows and are only valid until
// Reset.
func (c *Chunk) Values() [][]any {
	out := make([][]any, len(c.rows))
	for i, r := range c.rows {
		out[i] = r.V
	}
	return out
}

// Reset frees every buffered row back to the pool and empties the chunk.
func (c *Chunk) Reset() {
	for i, r := range c.rows {
		r.Free()
		c.rows[i] = nil
	}
	c.rows = c.rows[:0]
}
