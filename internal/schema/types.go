// Package schema holds the master column set of an ingest run and the
// per-column storage types inferred for it.
package schema

import (
	"fmt"
	"strings"
)

// ColumnType is the coarse storage type of a column. Backends map it to their
// own declared SQL type and back.
type ColumnType int

const (
	Text ColumnType = iota
	Integer
	Real
)

func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "INTEGER"
	case Real:
		return "REAL"
	default:
		return "TEXT"
	}
}

// ParseColumnType accepts the String form case-insensitively plus a few
// common aliases ("int", "float", "string").
func ParseColumnType(s string) (ColumnType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string", "str", "object":
		return Text, nil
	case "integer", "int", "int64", "bigint":
		return Integer, nil
	case "real", "float", "float64", "double":
		return Real, nil
	}
	return Text, fmt.Errorf("schema: unknown column type %q", s)
}

// MarshalText renders the type for YAML and JSON reports.
func (t ColumnType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a type written by MarshalText.
func (t *ColumnType) UnmarshalText(b []byte) error {
	v, err := ParseColumnType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
