package schema

import (
	"database/sql/driver"
	"math/big"
	"strconv"
)

// Coerce converts a stored value to the representation of type t.
//
// Missing values (nil, empty text, NaN) become nil. ok is false only when a
// present value could not be represented as t; the caller stores nil for it
// and counts the loss.
func Coerce(v any, t ColumnType) (out any, ok bool) {
	if v == nil {
		return nil, true
	}
	switch t {
	case Text:
		return toText(v), true
	case Integer:
		n, numeric := classify(v)
		if n.missing {
			return nil, true
		}
		if !numeric || !n.whole {
			return nil, false
		}
		return n.i, true
	case Real:
		n, numeric := classify(v)
		if n.missing {
			return nil, true
		}
		if !numeric {
			return nil, false
		}
		return n.f, true
	}
	return nil, false
}

func toText(v any) any {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case *big.Int:
		if x == nil {
			return nil
		}
		return x.String()
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return nil
		}
		if _, again := dv.(driver.Valuer); again {
			return nil
		}
		return toText(dv)
	}
	return nil
}
