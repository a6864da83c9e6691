package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabload/internal/config"
	"tabload/internal/ingest"
	"tabload/internal/report"
	"tabload/internal/storage"
)

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   func() *cobra.Command
		use   string
		flags []string
	}{
		{cmd: NewRunCommand, use: "run"},
		{cmd: NewIngestCommand, use: "ingest"},
		{cmd: NewSchemaCommand, use: "schema"},
		{cmd: NewAnalyzeCommand, use: "analyze", flags: []string{"format"}},
		{cmd: NewRetypeCommand, use: "retype", flags: []string{"force"}},
		{cmd: NewCountsCommand, use: "counts", flags: []string{"column"}},
		{cmd: NewValidateCommand, use: "validate"},
	}
	for _, tt := range tests {
		cmd := tt.cmd()
		assert.Equal(t, tt.use, cmd.Use)
		assert.NotEmpty(t, cmd.Short, "%s: Short should not be empty", tt.use)
		for _, f := range tt.flags {
			assert.NotNil(t, cmd.Flags().Lookup(f), "%s: flag %q should exist", tt.use, f)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := NewVersionCommand("1.2.3")
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "tabload v1.2.3")
}

func TestEnvFrom_Missing(t *testing.T) {
	_, err := EnvFrom(context.Background())
	assert.ErrorIs(t, err, errNoEnv)
}

func TestAnalyzeCommand_RejectsUnknownFormat(t *testing.T) {
	cmd := NewAnalyzeCommand()
	cmd.SetContext(WithEnv(context.Background(), &Env{Config: &config.Config{}}))
	cmd.SetArgs([]string{"--format", "xml"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "xml"`)
}

func TestIngestCommand_UsesEnvOptions(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Source:  config.SourceConfig{Dir: filepath.Join(dir, "src"), Patterns: []string{"*.csv"}},
		Storage: config.StorageConfig{Kind: "sqlite", DSN: filepath.Join(dir, "x.db"), Table: "t"},
	}
	cfg.Resolve()

	boom := errors.New("store unavailable")
	var out bytes.Buffer
	env := &Env{
		Config:   cfg,
		Renderer: report.NewRenderer(&out, report.ModeText),
		Options: []ingest.Option{ingest.WithOpen(func(context.Context, storage.Config) (storage.Repository, error) {
			return nil, boom
		})},
	}
	require.NoError(t, os.MkdirAll(cfg.Source.Dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Source.Dir, "a.csv"), []byte("x\n1\n"), 0o644))

	cmd := NewIngestCommand()
	cmd.SetContext(WithEnv(context.Background(), env))
	cmd.SetArgs(nil)
	assert.ErrorIs(t, cmd.Execute(), boom)
	assert.Empty(t, out.String())
}
