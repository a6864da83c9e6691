// Package file locates the tabular source files of a run on local disk and
// prepares the source directory from its archive when needed.
package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Format is the reader a source file is parsed with.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
	FormatJSON Format = "json"
)

// ErrNoInput is returned when the source directory holds no matching files
// and there is no archive to extract them from.
var ErrNoInput = errors.New("file: no source files and no archive")

// Source is one input file.
type Source struct {
	Path   string
	Format Format
}

// Name returns the file's base name.
func (s Source) Name() string { return filepath.Base(s.Path) }

// Open opens the file for reading.
func (s Source) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", s.Path, err)
	}
	return f, nil
}

// FormatOf picks the reader from the file extension. Anything that is not
// HTML or JSON is read as delimited text.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return FormatHTML
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	}
	return FormatCSV
}

// Discover lists the regular files directly under dir whose base name matches
// any of patterns, sorted by name. A missing directory yields no sources.
func Discover(dir string, patterns []string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read source dir %s: %w", dir, err)
	}

	var out []Source
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ok, err := matchAny(e.Name(), patterns)
		if err != nil {
			return nil, err
		}
		if ok {
			p := filepath.Join(dir, e.Name())
			out = append(out, Source{Path: p, Format: FormatOf(p)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func matchAny(name string, patterns []string) (bool, error) {
	for _, p := range patterns {
		ok, err := filepath.Match(p, name)
		if err != nil {
			return false, fmt.Errorf("bad source pattern %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
