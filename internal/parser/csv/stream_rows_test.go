package csv

import (
	"bytes"
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

func opts() config.ParserOptions {
	return config.ParserOptions{Comma: ',', TrimSpace: true}
}

// runStream runs StreamRows to completion with an out buffer large enough
// for every row, and returns the row values plus the reported parse lines.
func runStream(t *testing.T, input string, cols []string, opt config.ParserOptions) ([][]any, []int, error) {
	t.Helper()

	out := make(chan *transformer.Row, 64)
	var errLines []int
	err := StreamRows(context.Background(), io.NopCloser(strings.NewReader(input)), schema.Master{Columns: cols}, opt, out,
		func(line int, _ error) { errLines = append(errLines, line) })
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
		opt  config.ParserOptions
		want []string
	}{
		{"plain", "b,a\n1,2\n", opts(), []string{"b", "a"}},
		{"bom and spaces", "\ufeff Flow ID , Label\r\nx,y\r\n", opts(), []string{"Flow ID", "Label"}},
		{"semicolon", "a;b;a\n", config.ParserOptions{Comma: ';'}, []string{"a", "b", "a.1"}},
		{"empty file", "", opts(), nil},
		{"quoted newline", "\"multi\nline\",x\n", opts(), []string{"multiline", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadHeader(strings.NewReader(tt.in), tt.opt)
			if err != nil {
				t.Fatalf("ReadHeader err=%v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ReadHeader=%q want %q", got, tt.want)
			}
		})
	}
}

func TestReadHeader_Latin1(t *testing.T) {
	t.Parallel()

	// "preço" in ISO-8859-1.
	in := append([]byte("nome,pre"), 0xE7, 'o', '\n')
	got, err := ReadHeader(bytes.NewReader(in), config.ParserOptions{Encoding: "latin1"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if want := []string{"nome", "preço"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestReadHeader_UnknownEncoding(t *testing.T) {
	t.Parallel()

	if _, err := ReadHeader(strings.NewReader("a\n"), config.ParserOptions{Encoding: "klingon"}); err == nil {
		t.Fatalf("expected error for unknown encoding")
	}
}

func TestStreamRows_Reindex(t *testing.T) {
	t.Parallel()

	master := []string{"name", "price", "qty"}
	rows, errLines, err := runStream(t, "qty,name,extra\n3,apple,zzz\n,pear,yyy\n", master, opts())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(errLines) != 0 {
		t.Fatalf("unexpected parse errors at %v", errLines)
	}
	want := [][]any{
		{"apple", nil, "3"},
		{"pear", nil, nil},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows=%v want %v", rows, want)
	}
}

func TestStreamRows_ShortAndLongRecords(t *testing.T) {
	t.Parallel()

	rows, _, err := runStream(t, "a,b\n1\n2,3,4\n", []string{"a", "b"}, opts())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	want := [][]any{{"1", nil}, {"2", "3"}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows=%v want %v", rows, want)
	}
}

func TestStreamRows_MalformedRecordBecomesNullRow(t *testing.T) {
	t.Parallel()

	in := "a,b\n1,2\n3,\"bad\"quote\n5,6\n"
	rows, errLines, err := runStream(t, in, []string{"a", "b"}, opts())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%d want 3 (%v)", len(rows), rows)
	}
	if rows[1][0] != nil || rows[1][1] != nil {
		t.Fatalf("malformed row=%v want all nil", rows[1])
	}
	if !reflect.DeepEqual(errLines, []int{3}) {
		t.Fatalf("errLines=%v want [3]", errLines)
	}
	if !reflect.DeepEqual(rows[2], []any{"5", "6"}) {
		t.Fatalf("row after malformed=%v", rows[2])
	}
}

func TestStreamRows_LazyQuotes(t *testing.T) {
	t.Parallel()

	o := opts()
	o.LazyQuotes = true
	rows, errLines, err := runStream(t, "a\nx\"y\n", []string{"a"}, o)
	if err != nil || len(errLines) != 0 {
		t.Fatalf("err=%v errLines=%v", err, errLines)
	}
	if rows[0][0] != `x"y` {
		t.Fatalf("rows=%v", rows)
	}
}

func TestStreamRows_NoTrim(t *testing.T) {
	t.Parallel()

	rows, _, err := runStream(t, "a\n x \n", []string{"a"}, config.ParserOptions{Comma: ','})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if rows[0][0] != " x " {
		t.Fatalf("value=%q want untrimmed", rows[0][0])
	}
}

func TestStreamRows_HeaderOnlyAndEmpty(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "a,b\n"} {
		rows, _, err := runStream(t, in, []string{"a", "b"}, opts())
		if err != nil || len(rows) != 0 {
			t.Fatalf("input %q: rows=%v err=%v", in, rows, err)
		}
	}
}

func TestStreamRows_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan *transformer.Row)
	err := StreamRows(ctx, io.NopCloser(strings.NewReader("a\n1\n2\n")), schema.Master{Columns: []string{"a"}}, opts(), out, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error { c.closed = true; return nil }

func TestStreamRows_ClosesSource(t *testing.T) {
	t.Parallel()

	src := &closeTracker{Reader: strings.NewReader("a\n1\n")}
	out := make(chan *transformer.Row, 4)
	if err := StreamRows(context.Background(), src, schema.Master{Columns: []string{"a"}}, opts(), out, nil); err != nil {
		t.Fatalf("err=%v", err)
	}
	if !src.closed {
		t.Fatalf("source not closed")
	}
}
