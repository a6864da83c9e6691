// Package duckdb stores ingested tables in a local DuckDB file.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/marcboeker/go-duckdb"

	"tabload/internal/schema"
	"tabload/internal/storage"
)

// maxParams bounds one INSERT; DuckDB has no hard limit but very long
// statements plan slowly.
const maxParams = 32766

// Repo implements storage.Repository for DuckDB.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("duckdb", New)
}

// New opens the database file named by cfg.DSN. An empty DSN is an
// in-memory database.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	path := cfg.DSN
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) TableExists(ctx context.Context, table string) (bool, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?`,
		table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("duckdb: table exists %s: %w", table, err)
	}
	return n > 0, nil
}

func (r *Repo) CreateTable(ctx context.Context, table string, cols []storage.ColumnDef) error {
	q, err := buildCreateTableSQL(table, cols)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("duckdb: create table %s: %w", table, err)
	}
	return nil
}

func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	per := storage.RowsPerStatement(len(columns), maxParams, 0)
	if per == 0 {
		return 0, fmt.Errorf("duckdb: %d columns exceed the %d parameter limit", len(columns), maxParams)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, part := range storage.Split(rows, per) {
		q, args := buildInsertSQL(table, columns, part)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("duckdb: insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return total, err
	}
	return total, nil
}

func (r *Repo) Columns(ctx context.Context, table string) ([]storage.Column, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ?
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("duckdb: columns %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.Column
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		out = append(out, storage.Column{Name: name, DeclaredType: typ, Type: coarseType(typ)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", storage.ErrTableMissing, table)
	}
	return out, nil
}

func (r *Repo) Sample(ctx context.Context, table string, columns []string, limit int) ([][]any, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY rowid LIMIT ?`, joinIdentList(columns), quoteIdent(table))
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("duckdb: sample %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out [][]any
	for rows.Next() {
		vals, err := scanRow(rows, len(columns), false)
		if err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

// ScanBatches pages by rowid; each page is closed before fn runs.
func (r *Repo) ScanBatches(ctx context.Context, table string, columns []string, batch int, fn func([][]any) error) error {
	if batch <= 0 {
		batch = 1
	}
	q := fmt.Sprintf(`SELECT rowid, %s FROM %s WHERE rowid > ? ORDER BY rowid LIMIT ?`,
		joinIdentList(columns), quoteIdent(table))

	var last int64 = -1
	for {
		page, lastID, err := r.readPage(ctx, q, last, batch, len(columns))
		if err != nil {
			return fmt.Errorf("duckdb: scan %s: %w", table, err)
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < batch {
			return nil
		}
		last = lastID
	}
}

func (r *Repo) readPage(ctx context.Context, q string, after int64, limit, ncols int) ([][]any, int64, error) {
	rows, err := r.db.QueryContext(ctx, q, after, limit)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	out := make([][]any, 0, limit)
	var last int64
	for rows.Next() {
		vals, err := scanRow(rows, ncols, true)
		if err != nil {
			return nil, 0, err
		}
		id, ok := vals[0].(int64)
		if !ok {
			return nil, 0, fmt.Errorf("unexpected rowid type %T", vals[0])
		}
		last = id
		out = append(out, vals[1:])
	}
	return out, last, rows.Err()
}

func (r *Repo) DropTable(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(table)); err != nil {
		return fmt.Errorf("duckdb: drop %s: %w", table, err)
	}
	return nil
}

func (r *Repo) RenameTable(ctx context.Context, from, to string) error {
	q := fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, quoteIdent(from), quoteIdent(to))
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("duckdb: rename %s to %s: %w", from, to, err)
	}
	return nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+quoteIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("duckdb: count %s: %w", table, err)
	}
	return n, nil
}

func (r *Repo) Distribution(ctx context.Context, table, column string) ([]storage.Bucket, error) {
	rows, err := r.db.QueryContext(ctx, buildDistributionSQL(table, column))
	if err != nil {
		return nil, fmt.Errorf("duckdb: distribution %s.%s: %w", table, column, err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.Bucket
	for rows.Next() {
		var b storage.Bucket
		if err := rows.Scan(&b.Value, &b.Count); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// scanRow reads ncols values, plus a leading rowid when withID is set.
func scanRow(rows *sql.Rows, ncols int, withID bool) ([]any, error) {
	if withID {
		ncols++
	}
	vals := make([]any, ncols)
	dest := make([]any, ncols)
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	for i, v := range vals {
		vals[i] = plainValue(v)
	}
	return vals, nil
}

// plainValue turns DECIMAL values into float64; HUGEINT arrives as *big.Int,
// which the schema package converts itself.
func plainValue(v any) any {
	if d, ok := v.(duckdb.Decimal); ok {
		return d.Float64()
	}
	return v
}

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, quoteIdent(c))
	}
	return strings.Join(out, ", ")
}

func declaredType(t schema.ColumnType) string {
	switch t {
	case schema.Integer:
		return "BIGINT"
	case schema.Real:
		return "DOUBLE"
	default:
		return "VARCHAR"
	}
}

// coarseType maps information_schema.columns.data_type.
func coarseType(dataType string) schema.ColumnType {
	d := strings.ToUpper(dataType)
	switch {
	case strings.Contains(d, "INT"):
		return schema.Integer
	case d == "DOUBLE", d == "FLOAT", d == "REAL", strings.HasPrefix(d, "DECIMAL"):
		return schema.Real
	default:
		return schema.Text
	}
}

func buildCreateTableSQL(table string, cols []storage.ColumnDef) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("duckdb: table name is empty")
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("duckdb: table %s has no columns", table)
	}
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, quoteIdent(c.Name)+" "+declaredType(c.Type))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(parts, ", ")), nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	placeholders := "(" + strings.TrimRight(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", quoteIdent(table), joinIdentList(columns))
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}

func buildDistributionSQL(table, column string) string {
	c := quoteIdent(column)
	return fmt.Sprintf(`SELECT %s, COUNT(*) AS n FROM %s GROUP BY %s ORDER BY n ASC, %s NULLS FIRST`, c, quoteIdent(table), c, c)
}
