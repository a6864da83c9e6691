// Package storage defines the relational store the ingestor writes to and a
// registry of backends. Each backend package registers itself from init();
// import tabload/internal/storage/all to link every backend in.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tabload/internal/schema"
)

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// ColumnDef is a column to create.
type ColumnDef struct {
	Name string
	Type schema.ColumnType
}

// Column is a column as the store reports it.
type Column struct {
	Name         string            `json:"name" yaml:"name"`
	DeclaredType string            `json:"declared_type" yaml:"declared_type"` // backend-native, e.g. "TEXT", "double precision"
	Type         schema.ColumnType `json:"type" yaml:"type"`                   // coarse mapping of DeclaredType
}

// Bucket is one group of a value distribution.
type Bucket struct {
	Value any   `json:"value" yaml:"value"`
	Count int64 `json:"count" yaml:"count"`
}

// ErrTableMissing is returned by Columns when the table does not exist.
var ErrTableMissing = errors.New("storage: table does not exist")

// Repository is the store abstraction the ingest phases run against.
//
// Table and column names are passed unquoted; backends quote them. Row
// values are nil, string, int64 or float64.
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	TableExists(ctx context.Context, table string) (bool, error)

	// CreateTable creates table with cols in order. It fails when the table
	// already exists.
	CreateTable(ctx context.Context, table string, cols []ColumnDef) error

	// InsertRows appends rows in one transaction. Backends split the rows
	// into as many statements as their bind-parameter limits require.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// Columns lists the table's columns in declaration order.
	Columns(ctx context.Context, table string) ([]Column, error)

	// Sample returns up to limit rows in storage order.
	Sample(ctx context.Context, table string, columns []string, limit int) ([][]any, error)

	// ScanBatches reads every row of table and hands them to fn in batches
	// of at most batch rows. fn may write to other tables of the same store.
	ScanBatches(ctx context.Context, table string, columns []string, batch int, fn func(rows [][]any) error) error

	// DropTable drops table if it exists.
	DropTable(ctx context.Context, table string) error

	RenameTable(ctx context.Context, from, to string) error

	CountRows(ctx context.Context, table string) (int64, error)

	// Distribution groups the table by column, ordered by ascending count.
	Distribution(ctx context.Context, table, column string) ([]Bucket, error)
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind.
//
// Call it from an init() function in the backend package. It panics when
// kind is empty, f is nil or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a Repository with the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Names returns the column names of cols.
func Names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// Types returns the coarse types of cols.
func Types(cols []Column) []schema.ColumnType {
	out := make([]schema.ColumnType, len(cols))
	for i, c := range cols {
		out[i] = c.Type
	}
	return out
}
