package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabload/internal/schema"
	"tabload/internal/storage"
)

/*
Repo implements storage.Repository for Postgres.

Appends go through COPY FROM, which has no bind-parameter limit, so a chunk
is one round trip regardless of its width. Tables live in the connection's
current schema; names are passed unquoted and quoted here.
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pool for cfg.DSN and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

func (r *Repo) TableExists(ctx context.Context, table string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, tableExistsSQL, table).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: table exists %s: %w", table, err)
	}
	return ok, nil
}

const tableExistsSQL = `SELECT EXISTS (
  SELECT 1 FROM information_schema.tables
  WHERE table_schema = current_schema() AND table_name = $1
)`

func (r *Repo) CreateTable(ctx context.Context, table string, cols []storage.ColumnDef) error {
	q, err := buildCreateTableSQL(table, cols)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", table, err)
	}
	return nil
}

// InsertRows appends rows with a single COPY, which is atomic on its own.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("postgres: copy into %s: %w", table, err)
	}
	return n, nil
}

func (r *Repo) Columns(ctx context.Context, table string) ([]storage.Column, error) {
	rows, err := r.pool.Query(ctx, columnsSQL, table)
	if err != nil {
		return nil, fmt.Errorf("postgres: columns %s: %w", table, err)
	}
	defer rows.Close()

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

const columnsSQL = `SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`

func (r *Repo) Sample(ctx context.Context, table string, columns []string, limit int) ([][]any, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s LIMIT $1`, joinIdentList(columns), pgIdent(table))
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: sample %s: %w", table, err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

// ScanBatches streams the table through one cursor. fn runs while the
// cursor is open; its writes go through other pool connections.
func (r *Repo) ScanBatches(ctx context.Context, table string, columns []string, batch int, fn func([][]any) error) error {
	if batch <= 0 {
		batch = 1
	}
	q := fmt.Sprintf(`SELECT %s FROM %s`, joinIdentList(columns), pgIdent(table))
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("postgres: scan %s: %w", table, err)
	}
	defer rows.Close()

	page := make([][]any, 0, batch)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return err
		}
		page = append(page, vals)
		if len(page) == batch {
			if err := fn(page); err != nil {
				return err
			}
			page = make([][]any, 0, batch)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: scan %s: %w", table, err)
	}
	if len(page) > 0 {
		return fn(page)
	}
	return nil
}

func (r *Repo) DropTable(ctx context.Context, table string) error {
	if _, err := r.pool.Exec(ctx, `DROP TABLE IF EXISTS `+pgIdent(table)); err != nil {
		return fmt.Errorf("postgres: drop %s: %w", table, err)
	}
	return nil
}

func (r *Repo) RenameTable(ctx context.Context, from, to string) error {
	q := fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, pgIdent(from), pgIdent(to))
	if _, err := r.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres: rename %s to %s: %w", from, to, err)
	}
	return nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+pgIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count %s: %w", table, err)
	}
	return n, nil
}

func (r *Repo) Distribution(ctx context.Context, table, column string) ([]storage.Bucket, error) {
	rows, err := r.pool.Query(ctx, buildDistributionSQL(table, column))
	if err != nil {
		return nil, fmt.Errorf("postgres: distribution %s.%s: %w", table, column, err)
	}
	defer rows.Close()

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

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, pgIdent(c))
	}
	return strings.Join(out, ", ")
}

func declaredType(t schema.ColumnType) string {
	switch t {
	case schema.Integer:
		return "BIGINT"
	case schema.Real:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// coarseType maps information_schema.columns.data_type.
func coarseType(dataType string) schema.ColumnType {
	switch strings.ToLower(dataType) {
	case "bigint", "integer", "smallint":
		return schema.Integer
	case "double precision", "real", "numeric":
		return schema.Real
	default:
		return schema.Text
	}
}

func buildCreateTableSQL(table string, cols []storage.ColumnDef) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("postgres: table name is empty")
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("postgres: table %s has no columns", table)
	}
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("%s %s", pgIdent(c.Name), declaredType(c.Type)))
	}
	return fmt.Sprintf(`CREATE TABLE %s (%s);`, pgIdent(table), strings.Join(parts, ", ")), nil
}

func buildDistributionSQL(table, column string) string {
	c := pgIdent(column)
	return fmt.Sprintf(`SELECT %s, COUNT(*) AS n FROM %s GROUP BY %s ORDER BY n ASC, %s`, c, pgIdent(table), c, c)
}
