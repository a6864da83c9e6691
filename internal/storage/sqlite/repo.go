package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"tabload/internal/schema"
	"tabload/internal/storage"
)

// maxParams is SQLite's SQLITE_MAX_VARIABLE_NUMBER since 3.32.
const maxParams = 32766

// Repo implements storage.Repository for SQLite (modernc.org/sqlite).
//
// The handle is limited to one connection: SQLite serializes writers anyway,
// and a single connection keeps "read a page, then write it elsewhere" free
// of SQLITE_BUSY between our own statements.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database file named by cfg.DSN, creating it if needed.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: table exists %s: %w", table, err)
	}
	return n > 0, nil
}

func (r *Repo) CreateTable(ctx context.Context, table string, cols []storage.ColumnDef) error {
	q, err := buildCreateTableSQL(table, cols)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("sqlite: create table %s: %w", table, err)
	}
	return nil
}

// InsertRows writes rows in one transaction using multi-row INSERTs sized to
// the parameter limit.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	per := storage.RowsPerStatement(len(columns), maxParams, 0)
	if per == 0 {
		return 0, fmt.Errorf("sqlite: %d columns exceed the %d parameter limit", len(columns), maxParams)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Full-size groups share one prepared statement.
	var full *sql.Stmt
	var total int64
	for _, part := range storage.Split(rows, per) {
		q, args := buildInsertSQL(table, columns, part)
		var res sql.Result
		if len(part) == per {
			if full == nil {
				if full, err = tx.PrepareContext(ctx, q); err != nil {
					return total, fmt.Errorf("sqlite: prepare insert %s: %w", table, err)
				}
				defer full.Close()
			}
			res, err = full.ExecContext(ctx, args...)
		} else {
			res, err = tx.ExecContext(ctx, q, args...)
		}
		if err != nil {
			return total, fmt.Errorf("sqlite: insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return total, err
	}
	return total, nil
}

// Columns reads PRAGMA table_info.
func (r *Repo) Columns(ctx context.Context, table string) ([]storage.Column, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, sqlIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("sqlite: table_info %s: %w", table, err)
	}
	defer rows.Close()

	var out []storage.Column
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		out = append(out, storage.Column{Name: name, DeclaredType: typ, Type: affinity(typ)})
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
	q := fmt.Sprintf(`SELECT %s FROM %s LIMIT ?`, joinIdentList(columns), sqlIdent(table))
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: sample %s: %w", table, err)
	}
	defer rows.Close()
	return scanAll(rows, len(columns), limit)
}

// ScanBatches pages through table by rowid. Each page is fully read and its
// cursor closed before fn runs, so fn can use the single connection.
func (r *Repo) ScanBatches(ctx context.Context, table string, columns []string, batch int, fn func([][]any) error) error {
	if batch <= 0 {
		batch = 1
	}
	q := fmt.Sprintf(`SELECT rowid, %s FROM %s WHERE rowid > ? ORDER BY rowid LIMIT ?`,
		joinIdentList(columns), sqlIdent(table))

	var last int64 = -1 << 63
	for {
		page, lastID, err := r.readPage(ctx, q, last, batch, len(columns))
		if err != nil {
			return fmt.Errorf("sqlite: scan %s: %w", table, err)
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
	defer rows.Close()

	out := make([][]any, 0, limit)
	var id int64
	for rows.Next() {
		vals := make([]any, ncols)
		dest := make([]any, ncols+1)
		dest[0] = &id
		for i := range vals {
			dest[i+1] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, err
		}
		out = append(out, vals)
	}
	return out, id, rows.Err()
}

func (r *Repo) DropTable(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+sqlIdent(table)); err != nil {
		return fmt.Errorf("sqlite: drop %s: %w", table, err)
	}
	return nil
}

func (r *Repo) RenameTable(ctx context.Context, from, to string) error {
	q := fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, sqlIdent(from), sqlIdent(to))
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("sqlite: rename %s to %s: %w", from, to, err)
	}
	return nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+sqlIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", table, err)
	}
	return n, nil
}

func (r *Repo) Distribution(ctx context.Context, table, column string) ([]storage.Bucket, error) {
	rows, err := r.db.QueryContext(ctx, buildDistributionSQL(table, column))
	if err != nil {
		return nil, fmt.Errorf("sqlite: distribution %s.%s: %w", table, column, err)
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

func scanAll(rows *sql.Rows, ncols, capHint int) ([][]any, error) {
	out := make([][]any, 0, min(capHint, 4096))
	for rows.Next() {
		vals := make([]any, ncols)
		dest := make([]any, ncols)
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}

func declaredType(t schema.ColumnType) string {
	switch t {
	case schema.Integer:
		return "INTEGER"
	case schema.Real:
		return "REAL"
	default:
		return "TEXT"
	}
}

// affinity applies SQLite's column affinity rules to a declared type.
// NUMERIC affinity has no coarse equivalent and maps to Real.
func affinity(declared string) schema.ColumnType {
	d := strings.ToUpper(declared)
	switch {
	case strings.Contains(d, "INT"):
		return schema.Integer
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return schema.Text
	case d == "", strings.Contains(d, "BLOB"):
		return schema.Text
	default:
		return schema.Real
	}
}

func buildCreateTableSQL(table string, cols []storage.ColumnDef) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("sqlite: table %s has no columns", table)
	}
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("%s %s", sqlIdent(c.Name), declaredType(c.Type)))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", sqlIdent(table), strings.Join(parts, ",\n  ")), nil
}

// buildInsertSQL builds one multi-row INSERT and its flattened args.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

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
	c := sqlIdent(column)
	return fmt.Sprintf(`SELECT %s, COUNT(*) AS n FROM %s GROUP BY %s ORDER BY n ASC, %s`, c, sqlIdent(table), c, c)
}
