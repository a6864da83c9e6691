package json

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"tabload/internal/config"
	"tabload/internal/schema"
	"tabload/internal/transformer"
)

// runStream runs StreamRows to completion with an out buffer large enough
// for every row, and returns the row values plus the reported error lines.
func runStream(t *testing.T, input string, cols []string) ([][]any, []int, error) {
	t.Helper()

	out := make(chan *transformer.Row, 64)
	var errLines []int
	err := StreamRows(context.Background(), io.NopCloser(strings.NewReader(input)), schema.Master{Columns: cols},
		config.ParserOptions{}, out, func(line int, _ error) { errLines = append(errLines, line) })
	close(out)

	var rows [][]any
	for r := range out {
		rows = append(rows, append([]any(nil), r.V...))
		r.Free()
	}
	return rows, errLines, err
}

func TestReadHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"array", `[{"b":1,"a":2},{"c":3}]`, []string{"a", "b", "c"}},
		{"envelope", `{"meta":{"n":2},"data":[{"x":1},{"y":2}],"next":null}`, []string{"x", "y"}},
		{"single object", `{"id":1,"tags":["a","b"]}`, []string{"id", "tags"}},
		{"json lines", "{\"a\":1}\n{\"b\":2}\n{\"a\":3}\n", []string{"a", "b"}},
		{"normalized", `[{" Flow ID ":1}]`, []string{"Flow ID"}},
		{"empty and colliding keys", `[{"":"x","a":"1"," a":"2"},{"a ":"3"}]`, []string{"Unnamed: 0", "a", "a.1", "a.2"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadHeader(strings.NewReader(tt.in), config.ParserOptions{})
			if err != nil {
				t.Fatalf("ReadHeader err=%v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ReadHeader=%q want %q", got, tt.want)
			}
		})
	}
}

func TestStreamRows_Reindex(t *testing.T) {
	t.Parallel()

	in := `[
		{"id": 1, "price": 2.50, "extra": "x"},
		null,
		{"id": 2, "ok": true, "price": ""},
		{"id": 3, "tags": ["a", "b"], "nested": {"k": 1}}
	]`
	rows, errLines, err := runStream(t, in, []string{"id", "nested", "ok", "price", "tags"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(errLines) != 0 {
		t.Fatalf("unexpected errors at %v", errLines)
	}
	want := [][]any{
		{"1", nil, nil, "2.50", nil},
		{"2", nil, "true", nil, nil},
		{"3", `{"k":1}`, nil, nil, "a,b"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows=%v\nwant %v", rows, want)
	}
}

func TestStreamRows_EmptyAndCollidingKeys(t *testing.T) {
	t.Parallel()

	in := `[{"":"x","a":"1"," a":"2"},{"a":"4","a ":"3"}]`
	header, err := ReadHeader(strings.NewReader(in), config.ParserOptions{})
	if err != nil {
		t.Fatalf("ReadHeader err=%v", err)
	}
	master := schema.Union(header)
	if want := []string{"Unnamed: 0", "a", "a.1", "a.2"}; !reflect.DeepEqual(master.Columns, want) {
		t.Fatalf("master=%q want %q", master.Columns, want)
	}

	rows, _, err := runStream(t, in, master.Columns)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	// Sorted keys: "" < " a" < "a" < "a ".
	want := [][]any{
		{"x", "2", "1", nil},
		{nil, nil, "4", "3"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows=%v\nwant %v", rows, want)
	}
}

func TestStreamRows_EnvelopeThenLines(t *testing.T) {
	t.Parallel()

	in := "{\"page\":1,\"items\":[{\"a\":\"x\"}],\"total\":1}\n{\"a\":\"y\"}\n"
	rows, _, err := runStream(t, in, []string{"a"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if want := [][]any{{"x"}, {"y"}}; !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows=%v want %v", rows, want)
	}
}

func TestStreamRows_ScalarArrayIsNotEnvelope(t *testing.T) {
	t.Parallel()

	in := "{\"id\":1,\"tags\":[\"a\"],\"empty\":[]}\n{\"id\":2}\n"
	rows, _, err := runStream(t, in, []string{"empty", "id", "tags"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	want := [][]any{{nil, "1", "a"}, {nil, "2", nil}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows=%v want %v", rows, want)
	}
}

func TestStreamRows_SyntaxError(t *testing.T) {
	t.Parallel()

	rows, errLines, err := runStream(t, `[{"a":1},{"a":]`, []string{"a"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(rows) != 1 {
		t.Fatalf("rows before the error=%d want 1", len(rows))
	}
	if !reflect.DeepEqual(errLines, []int{2}) {
		t.Fatalf("errLines=%v want [2]", errLines)
	}
}

func TestStreamRows_RejectsScalarRoot(t *testing.T) {
	t.Parallel()

	_, _, err := runStream(t, `42`, []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "unsupported root") {
		t.Fatalf("err=%v", err)
	}
}

func TestStreamRows_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan *transformer.Row)
	err := StreamRows(ctx, io.NopCloser(strings.NewReader(`[{"a":1},{"a":2}]`)), schema.Master{Columns: []string{"a"}},
		config.ParserOptions{}, out, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}
