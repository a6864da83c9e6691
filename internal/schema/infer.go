package schema

import (
	"database/sql/driver"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Recommendation is the inference result for one column.
type Recommendation struct {
	Column    string     `json:"column" yaml:"column"`
	Current   ColumnType `json:"current" yaml:"current"`
	Suggested ColumnType `json:"suggested" yaml:"suggested"`
	Sampled   int        `json:"sampled" yaml:"sampled"`
	Nulls     int        `json:"nulls" yaml:"nulls"`
	Numeric   int        `json:"numeric" yaml:"numeric"`
}

// Changed reports whether the suggestion differs from the declared type.
func (r Recommendation) Changed() bool { return r.Current != r.Suggested }

// TextCount returns how many columns are currently declared text.
func TextCount(recs []Recommendation) int {
	n := 0
	for _, r := range recs {
		if r.Current == Text {
			n++
		}
	}
	return n
}

// AnyChanged reports whether at least one suggestion differs from its
// declared type.
func AnyChanged(recs []Recommendation) bool {
	for _, r := range recs {
		if r.Changed() {
			return true
		}
	}
	return false
}

// Infer suggests a type per column from a sample of stored rows.
//
// names and declared are parallel; every sample row is positional over them.
// Columns not declared text keep their type. A text column becomes Integer
// when every non-null value parses as a whole number within int64, Real when
// every non-null value parses as a number, and stays Text otherwise,
// including when the sample holds no non-null value.
func Infer(names []string, declared []ColumnType, sample [][]any) []Recommendation {
	out := make([]Recommendation, len(names))
	for col, name := range names {
		cur := Text
		if col < len(declared) {
			cur = declared[col]
		}
		rec := Recommendation{Column: name, Current: cur, Suggested: cur, Sampled: len(sample)}

		allNumeric, allWhole := true, true
		for _, row := range sample {
			var v any
			if col < len(row) {
				v = row[col]
			}
			n, ok := classify(v)
			switch {
			case n.missing:
				rec.Nulls++
			case ok:
				rec.Numeric++
				if !n.whole {
					allWhole = false
				}
			default:
				allNumeric = false
			}
		}

		if cur == Text {
			switch {
			case rec.Numeric == 0 || !allNumeric:
				rec.Suggested = Text
			case allWhole:
				rec.Suggested = Integer
			default:
				rec.Suggested = Real
			}
		}
		out[col] = rec
	}
	return out
}

// Suggested returns the suggested type per column, in order.
func Suggested(recs []Recommendation) []ColumnType {
	out := make([]ColumnType, len(recs))
	for i, r := range recs {
		out[i] = r.Suggested
	}
	return out
}

type number struct {
	i       int64
	f       float64
	whole   bool
	missing bool
}

// classify parses a stored value as a number. The boolean is false for a
// present value that is not numeric.
func classify(v any) (number, bool) {
	switch x := v.(type) {
	case nil:
		return number{missing: true}, true
	case int64:
		return number{i: x, f: float64(x), whole: true}, true
	case int:
		return number{i: int64(x), f: float64(x), whole: true}, true
	case int32:
		return number{i: int64(x), f: float64(x), whole: true}, true
	case float64:
		return fromFloat(x)
	case float32:
		return fromFloat(float64(x))
	case []byte:
		return parseNumber(string(x))
	case string:
		return parseNumber(x)
	case bool:
		return number{}, false
	case *big.Int:
		if x == nil {
			return number{missing: true}, true
		}
		if x.IsInt64() {
			return number{i: x.Int64(), f: float64(x.Int64()), whole: true}, true
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return number{f: f}, true
	case driver.Valuer:
		// pgtype.Numeric and similar driver types expose a plain value.
		dv, err := x.Value()
		if err != nil {
			return number{}, false
		}
		if _, again := dv.(driver.Valuer); again {
			return number{}, false
		}
		return classify(dv)
	}
	return number{}, false
}

func fromFloat(f float64) (number, bool) {
	if math.IsNaN(f) {
		return number{missing: true}, true
	}
	n := number{f: f}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		n.whole = true
		n.i = int64(f)
	}
	return n, true
}

// parseNumber parses a textual cell. Empty text and NaN spellings are
// missing values. Integer literals are parsed exactly; anything else goes
// through float parsing (so "2.0" and "1e3" are whole, "inf" is not).
func parseNumber(s string) (number, bool) {
	s = strings.TrimSpace(s)
	if s == "" || isNaNText(s) {
		return number{missing: true}, true
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return number{i: i, f: float64(i), whole: true}, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return number{}, false
	}
	return fromFloat(f)
}

func isNaNText(s string) bool {
	switch strings.ToLower(s) {
	case "nan", "-nan", "+nan":
		return true
	}
	return false
}
