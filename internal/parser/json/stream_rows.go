// Package json reads JSON documents as tabular sources. Each object is one
// record and its keys are the columns.
//
// Accepted layouts:
//   - a root array of objects, streamed element by element;
//   - a root object holding an array of objects (an envelope), whose first
//     such field is streamed and the rest skipped;
//   - a single root object, read as one record;
//   - JSON Lines: objects following each other (also after any of the above).
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"tabload/internal/config"
	"tabload/internal/parser"
	"tabload/internal/schema"
	"tabload/internal/transformer"
)

// ArrayJoinSeparator joins arrays of strings into one cell.
const ArrayJoinSeparator = ","

// ReadHeader returns the column names of every record's keys in order of
// first appearance. JSON has no header row, so the whole document is read.
func ReadHeader(src io.Reader, opt config.ParserOptions) ([]string, error) {
	r, err := parser.NewDecodingReader(src, opt.Encoding)
	if err != nil {
		return nil, err
	}
	names := newKeyNames()
	var header []string
	err = walk(context.Background(), r, func(obj map[string]any) error {
		for _, k := range slices.Sorted(maps.Keys(obj)) {
			if n, added := names.name(k); added {
				header = append(header, n)
			}
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return header, nil
}

// StreamRows streams every record of src into pooled rows aligned to the
// master column order. Keys outside the master are dropped, missing keys and
// JSON null are nil, numbers and booleans become their text form and nested
// values their compact JSON. A syntax error ends the file with an error.
func StreamRows(
	ctx context.Context,
	src io.ReadCloser,
	master schema.Master,
	opt config.ParserOptions,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	r, err := parser.DecodeReadCloser(src, opt.Encoding)
	if err != nil {
		return err
	}
	index := make(map[string]int, master.Len())
	for i, c := range master.Columns {
		index[c] = i
	}
	names := newKeyNames()

	line := 0
	return walk(ctx, r, func(obj map[string]any) error {
		line++
		row := transformer.GetRow(master.Len())
		row.Line = line
		for _, k := range slices.Sorted(maps.Keys(obj)) {
			n, _ := names.name(k)
			if p, ok := index[n]; ok {
				row.V[p] = cell(obj[k])
			}
		}
		select {
		case out <- row:
			return nil
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}, onErr)
}

// keyNames gives each raw key of a document one column name, assigned in
// the order keys first appear. Names follow schema.NormalizeHeader: an empty
// key is "Unnamed: <n>" and a name already given gets a ".1", ".2", ...
// suffix.
type keyNames struct {
	byKey map[string]string
	taken map[string]struct{}
}

func newKeyNames() *keyNames {
	return &keyNames{byKey: make(map[string]string), taken: make(map[string]struct{})}
}

// name returns the column name of key and whether key was new.
func (k *keyNames) name(key string) (string, bool) {
	if n, ok := k.byKey[key]; ok {
		return n, false
	}
	n := schema.NormalizeName(key)
	if n == "" {
		n = "Unnamed: " + strconv.Itoa(len(k.byKey))
	}
	if _, dup := k.taken[n]; dup {
		base := n
		for i := 1; ; i++ {
			n = base + "." + strconv.Itoa(i)
			if _, dup := k.taken[n]; !dup {
				break
			}
		}
	}
	k.byKey[key] = n
	k.taken[n] = struct{}{}
	return n, true
}

// cell converts a decoded JSON value into a text cell.
func cell(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any:
		if s, ok := joinStrings(t); ok {
			if s == "" {
				return nil
			}
			return s
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func joinStrings(items []any) (string, bool) {
	ss := make([]string, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		s, ok := it.(string)
		if !ok {
			return "", false
		}
		ss = append(ss, s)
	}
	return strings.Join(ss, ArrayJoinSeparator), true
}

// walk calls emit for every record of r without buffering the document.
func walk(ctx context.Context, r io.Reader, emit func(map[string]any) error, onErr func(line int, err error)) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	w := &walker{ctx: ctx, dec: dec, emit: emit, onErr: onErr}

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return w.fail(fmt.Errorf("json: read first token: %w", err))
	}

	switch tok {
	case json.Delim('['):
		if err := w.array(); err != nil {
			return err
		}
		if err := w.expect(']'); err != nil {
			return err
		}
	case json.Delim('{'):
		if err := w.envelopeOrSingle(); err != nil {
			return err
		}
	default:
		return w.fail(fmt.Errorf("json: unsupported root token %v (want object or array)", tok))
	}
	return w.trailing()
}

type walker struct {
	ctx   context.Context
	dec   *json.Decoder
	emit  func(map[string]any) error
	onErr func(line int, err error)
	n     int
}

func (w *walker) fail(err error) error {
	if w.onErr != nil {
		w.onErr(w.n+1, err)
	}
	return err
}

func (w *walker) record(obj map[string]any) error {
	w.n++
	if err := w.ctx.Err(); err != nil {
		return err
	}
	return w.emit(obj)
}

func (w *walker) expect(d json.Delim) error {
	tok, err := w.dec.Token()
	if err != nil {
		return w.fail(fmt.Errorf("json: read %q: %w", d, err))
	}
	if tok != d {
		return w.fail(fmt.Errorf("json: expected %q, got %v", d, tok))
	}
	return nil
}

// array streams the elements of an array whose '[' was consumed. null
// elements are skipped; anything else that is not an object is an error.
func (w *walker) array() error {
	for w.dec.More() {
		var raw any
		if err := w.dec.Decode(&raw); err != nil {
			return w.fail(fmt.Errorf("json: decode array element: %w", err))
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return w.fail(fmt.Errorf("json: array element is %T, not an object", raw))
		}
		if err := w.record(obj); err != nil {
			return err
		}
	}
	return nil
}

// envelopeOrSingle reads a root object whose '{' was consumed. The first
// field holding an array of objects is streamed as the records; without one
// the object itself is the record.
func (w *walker) envelopeOrSingle() error {
	single := make(map[string]any)
	for w.dec.More() {
		keyTok, err := w.dec.Token()
		if err != nil {
			return w.fail(fmt.Errorf("json: read object key: %w", err))
		}
		key, _ := keyTok.(string)

		valTok, err := w.dec.Token()
		if err != nil {
			return w.fail(fmt.Errorf("json: read value of %q: %w", key, err))
		}
		if valTok != json.Delim('[') {
			v, err := w.materialize(valTok)
			if err != nil {
				return w.fail(err)
			}
			single[key] = v
			continue
		}

		var first any
		if w.dec.More() {
			if err := w.dec.Decode(&first); err != nil {
				return w.fail(fmt.Errorf("json: decode %q element: %w", key, err))
			}
		}
		obj, isRecords := first.(map[string]any)
		if !isRecords {
			arr, err := w.rest(first)
			if err != nil {
				return w.fail(err)
			}
			single[key] = arr
			continue
		}

		if err := w.record(obj); err != nil {
			return err
		}
		if err := w.array(); err != nil {
			return err
		}
		if err := w.expect(']'); err != nil {
			return err
		}
		for w.dec.More() {
			if _, err := w.dec.Token(); err != nil {
				return w.fail(fmt.Errorf("json: skip envelope key: %w", err))
			}
			var skip json.RawMessage
			if err := w.dec.Decode(&skip); err != nil {
				return w.fail(fmt.Errorf("json: skip envelope value: %w", err))
			}
		}
		return w.expect('}')
	}
	if err := w.expect('}'); err != nil {
		return err
	}
	return w.record(single)
}

// rest reads the remaining elements of an array whose first element, if
// any, was already decoded into first.
func (w *walker) rest(first any) ([]any, error) {
	var arr []any
	if first != nil {
		arr = append(arr, first)
	}
	for w.dec.More() {
		var v any
		if err := w.dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("json: read nested element: %w", err)
		}
		arr = append(arr, v)
	}
	if _, err := w.dec.Token(); err != nil {
		return nil, fmt.Errorf("json: read nested array end: %w", err)
	}
	return arr, nil
}

// materialize builds the value whose first token was already read.
func (w *walker) materialize(tok any) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		m := make(map[string]any)
		for w.dec.More() {
			kt, err := w.dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested key: %w", err)
			}
			var v any
			if err := w.dec.Decode(&v); err != nil {
				return nil, fmt.Errorf("json: read nested value: %w", err)
			}
			k, _ := kt.(string)
			m[k] = v
		}
		if _, err := w.dec.Token(); err != nil {
			return nil, fmt.Errorf("json: read nested object end: %w", err)
		}
		return m, nil
	case '[':
		return w.rest(nil)
	}
	return nil, fmt.Errorf("json: unexpected delimiter %q", d)
}

// trailing streams JSON Lines objects until EOF.
func (w *walker) trailing() error {
	for {
		var obj map[string]any
		if err := w.dec.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return w.fail(fmt.Errorf("json: decode object: %w", err))
		}
		if err := w.record(obj); err != nil {
			return err
		}
	}
}
