// Package parser holds what the source readers share: charset decoding of
// the raw file bytes.
package parser

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// NewDecodingReader returns r decoded to UTF-8 from the WHATWG encoding
// label. A leading byte-order mark always wins over the label and is
// removed, so the first header name never carries it.
func NewDecodingReader(r io.Reader, label string) (io.Reader, error) {
	var dec *encoding.Decoder
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
		dec = unicode.UTF8.NewDecoder()
	default:
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, fmt.Errorf("parser: encoding %q: %w", label, err)
		}
		dec = enc.NewDecoder()
	}
	return transform.NewReader(r, unicode.BOMOverride(dec)), nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// DecodeReadCloser wraps src so Close still reaches the underlying file.
func DecodeReadCloser(src io.ReadCloser, label string) (io.ReadCloser, error) {
	r, err := NewDecodingReader(src, label)
	if err != nil {
		return nil, err
	}
	return &readCloser{Reader: r, Closer: src}, nil
}
