package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// PrepareResult describes what Prepare did.
type PrepareResult struct {
	Sources   []Source
	Extracted int // files written from the archive, 0 when it was not used
}

// Prepare makes dir ready for ingestion: it creates dir when missing and,
// when no source file matches patterns, extracts archive into it. With
// neither sources nor archive it returns ErrNoInput before anything else
// touches the target store.
func Prepare(dir, archive string, patterns []string) (PrepareResult, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return PrepareResult{}, fmt.Errorf("create source dir %s: %w", dir, err)
	}

	srcs, err := Discover(dir, patterns)
	if err != nil {
		return PrepareResult{}, err
	}
	if len(srcs) > 0 {
		return PrepareResult{Sources: srcs}, nil
	}

	if archive == "" {
		return PrepareResult{}, ErrNoInput
	}
	if _, err := os.Stat(archive); errors.Is(err, os.ErrNotExist) {
		return PrepareResult{}, fmt.Errorf("%w: %s empty and %s missing", ErrNoInput, dir, archive)
	} else if err != nil {
		return PrepareResult{}, fmt.Errorf("stat archive %s: %w", archive, err)
	}

	n, err := Extract(archive, dir)
	if err != nil {
		return PrepareResult{}, err
	}
	srcs, err = Discover(dir, patterns)
	if err != nil {
		return PrepareResult{}, err
	}
	if len(srcs) == 0 {
		return PrepareResult{Extracted: n}, fmt.Errorf("%w: archive %s holds no matching files", ErrNoInput, archive)
	}
	return PrepareResult{Sources: srcs, Extracted: n}, nil
}

// Extract unpacks every file of the zip archive into dir and returns how
// many files it wrote. Entries whose path would land outside dir are
// rejected.
func Extract(archive, dir string) (int, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return 0, fmt.Errorf("open archive %s: %w", archive, err)
	}
	defer zr.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, f := range zr.File {
		dst := filepath.Join(root, filepath.FromSlash(f.Name))
		if dst != root && !strings.HasPrefix(dst, root+string(os.PathSeparator)) {
			return n, fmt.Errorf("archive entry %q escapes %s", f.Name, dir)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return n, err
			}
			continue
		}
		if err := extractOne(f, dst); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func extractOne(f *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}
