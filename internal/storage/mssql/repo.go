package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tabload/internal/schema"
	"tabload/internal/storage"
)

const (
	// SQL Server allows 2100 parameters per request; stay below it.
	maxParams = 2000
	// A table value constructor takes at most 1000 rows.
	maxRowsPerInsert = 1000
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Note on driver registration:
//   - This package does NOT blank-import a SQL Server driver. The
//     "sqlserver" driver is linked by tabload/internal/storage/all.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// One connection reads the source table while another writes the copy.
	raw.SetMaxOpenConns(8)
	raw.SetMaxIdleConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT CASE WHEN OBJECT_ID(@p1, N'U') IS NULL THEN 0 ELSE 1 END`, mssqlIdent(table)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("mssql: table exists %s: %w", table, err)
	}
	return n == 1, nil
}

func (r *Repo) CreateTable(ctx context.Context, table string, cols []storage.ColumnDef) error {
	q, err := buildCreateTableSQL(table, cols)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", table, err)
	}
	return nil
}

// InsertRows writes rows in one transaction, chunked to the parameter and
// row-constructor limits.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if table == "" {
		return 0, fmt.Errorf("InsertRows: table is empty")
	}
	per := storage.RowsPerStatement(len(columns), maxParams, maxRowsPerInsert)
	if per == 0 {
		return 0, fmt.Errorf("mssql: %d columns exceed the %d parameter limit", len(columns), maxParams)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, part := range storage.Split(rows, per) {
		q, args := buildBulkInsertSQL(table, columns, part)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert %s: %w", table, err)
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
	rows, err := r.db.QueryContext(ctx, columnsSQL, table)
	if err != nil {
		return nil, fmt.Errorf("mssql: columns %s: %w", table, err)
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

const columnsSQL = `SELECT COLUMN_NAME, DATA_TYPE
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_NAME = @p1
ORDER BY ORDINAL_POSITION`

func (r *Repo) Sample(ctx context.Context, table string, columns []string, limit int) ([][]any, error) {
	q := fmt.Sprintf(`SELECT TOP (@p1) %s FROM %s`, joinIdentList(columns), mssqlIdent(table))
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("mssql: sample %s: %w", table, err)
	}
	defer rows.Close()

	var out [][]any
	err = scanRows(rows, len(columns), func(vals []any) error {
		out = append(out, vals)
		return nil
	})
	return out, err
}

// ScanBatches streams the table through one cursor; fn's writes use other
// pooled connections.
func (r *Repo) ScanBatches(ctx context.Context, table string, columns []string, batch int, fn func([][]any) error) error {
	if batch <= 0 {
		batch = 1
	}
	q := fmt.Sprintf(`SELECT %s FROM %s`, joinIdentList(columns), mssqlIdent(table))
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("mssql: scan %s: %w", table, err)
	}
	defer rows.Close()

	page := make([][]any, 0, batch)
	err = scanRows(rows, len(columns), func(vals []any) error {
		page = append(page, vals)
		if len(page) < batch {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		page = make([][]any, 0, batch)
		return nil
	})
	if err != nil {
		return err
	}
	if len(page) > 0 {
		return fn(page)
	}
	return nil
}

func (r *Repo) DropTable(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+mssqlIdent(table)); err != nil {
		return fmt.Errorf("mssql: drop %s: %w", table, err)
	}
	return nil
}

// RenameTable uses sp_rename, which takes the new name unquoted.
func (r *Repo) RenameTable(ctx context.Context, from, to string) error {
	if _, err := r.db.ExecContext(ctx, `EXEC sp_rename @p1, @p2`, mssqlIdent(from), to); err != nil {
		return fmt.Errorf("mssql: rename %s to %s: %w", from, to, err)
	}
	return nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT_BIG(*) FROM `+mssqlIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("mssql: count %s: %w", table, err)
	}
	return n, nil
}

func (r *Repo) Distribution(ctx context.Context, table, column string) ([]storage.Bucket, error) {
	rows, err := r.db.QueryContext(ctx, buildDistributionSQL(table, column))
	if err != nil {
		return nil, fmt.Errorf("mssql: distribution %s.%s: %w", table, column, err)
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

func scanRows(rows *sql.Rows, ncols int, fn func([]any) error) error {
	for rows.Next() {
		vals := make([]any, ncols)
		dest := make([]any, ncols)
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		if err := fn(vals); err != nil {
			return err
		}
	}
	return rows.Err()
}

func declaredType(t schema.ColumnType) string {
	switch t {
	case schema.Integer:
		return "BIGINT"
	case schema.Real:
		return "FLOAT"
	default:
		return "NVARCHAR(MAX)"
	}
}

// coarseType maps INFORMATION_SCHEMA.COLUMNS.DATA_TYPE.
func coarseType(dataType string) schema.ColumnType {
	switch strings.ToLower(dataType) {
	case "bigint", "int", "smallint", "tinyint":
		return schema.Integer
	case "float", "real", "decimal", "numeric":
		return schema.Real
	default:
		return schema.Text
	}
}

func buildCreateTableSQL(table string, cols []storage.ColumnDef) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", table)
	}
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("%s %s NULL", mssqlIdent(c.Name), declaredType(c.Type)))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s);", mssqlIdent(table), strings.Join(parts, ", ")), nil
}

// buildBulkInsertSQL builds one INSERT ... VALUES statement with @pN
// placeholders numbered across all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

func buildDistributionSQL(table, column string) string {
	c := mssqlIdent(column)
	return fmt.Sprintf(`SELECT %s, COUNT_BIG(*) AS n FROM %s GROUP BY %s ORDER BY n ASC, %s`, c, mssqlIdent(table), c, c)
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, mssqlIdent(c))
	}
	return strings.Join(out, ", ")
}

// mssqlIdent returns a bracket-quoted identifier.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

