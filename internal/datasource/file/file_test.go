package file

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.csv"), "x\n")
	writeFile(t, filepath.Join(dir, "a.csv"), "x\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "x\n")
	writeFile(t, filepath.Join(dir, "page.html"), "<table></table>")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "c.csv"), 0o755))

	got, err := Discover(dir, []string{"*.csv", "*.html"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a.csv", got[0].Name())
	assert.Equal(t, "b.csv", got[1].Name())
	assert.Equal(t, FormatCSV, got[0].Format)
	assert.Equal(t, FormatHTML, got[2].Format)
}

func TestFormatOf(t *testing.T) {
	t.Parallel()

	for path, want := range map[string]Format{
		"a.csv":        FormatCSV,
		"a.TSV":        FormatCSV,
		"p.HTM":        FormatHTML,
		"rows.json":    FormatJSON,
		"rows.ndjson":  FormatJSON,
		"dir/x.jsonl":  FormatJSON,
		"no_extension": FormatCSV,
	} {
		assert.Equal(t, want, FormatOf(path), path)
	}
}

func TestDiscover_MissingDirAndBadPattern(t *testing.T) {
	t.Parallel()

	got, err := Discover(filepath.Join(t.TempDir(), "nope"), []string{"*.csv"})
	require.NoError(t, err)
	assert.Empty(t, got)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.csv"), "x\n")
	_, err = Discover(dir, []string{"["})
	require.Error(t, err)
}

func TestPrepare_ExistingSourcesSkipArchive(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dir := filepath.Join(base, "data")
	writeFile(t, filepath.Join(dir, "a.csv"), "x\n")

	res, err := Prepare(dir, filepath.Join(base, "data.zip"), []string{"*.csv"})
	require.NoError(t, err)
	assert.Len(t, res.Sources, 1)
	assert.Zero(t, res.Extracted)
}

func TestPrepare_ExtractsArchive(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dir := filepath.Join(base, "IDS2018")
	archive := filepath.Join(base, "IDS2018.zip")
	writeZip(t, archive, map[string]string{
		"Friday.csv":   "a,b\n1,2\n",
		"Thursday.csv": "a\n3\n",
		"README.md":    "docs",
	})

	res, err := Prepare(dir, archive, []string{"*.csv"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Extracted)
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "Friday.csv", res.Sources[0].Name())

	body, err := os.ReadFile(filepath.Join(dir, "Thursday.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a\n3\n", string(body))
}

func TestPrepare_NoInput(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dir := filepath.Join(base, "empty")

	_, err := Prepare(dir, filepath.Join(base, "empty.zip"), []string{"*.csv"})
	require.True(t, errors.Is(err, ErrNoInput), "err=%v", err)

	info, statErr := os.Stat(dir)
	require.NoError(t, statErr, "dir must be created even when input is missing")
	assert.True(t, info.IsDir())
}

func TestPrepare_ArchiveWithoutMatches(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	archive := filepath.Join(base, "x.zip")
	writeZip(t, archive, map[string]string{"only.txt": "x"})

	_, err := Prepare(filepath.Join(base, "x"), archive, []string{"*.csv"})
	require.ErrorIs(t, err, ErrNoInput)
}

func TestExtract_RejectsEscapingEntries(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	archive := filepath.Join(base, "evil.zip")
	writeZip(t, archive, map[string]string{"../evil.csv": "x"})

	_, err := Extract(archive, filepath.Join(base, "out"))
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(base, "evil.csv"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}
