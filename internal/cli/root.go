// Package cli provides the command-line interface for tabload.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tabload/internal/cli/commands"
	"tabload/internal/config"
	"tabload/internal/metrics"
	"tabload/internal/metrics/datadog"
	"tabload/internal/report"
	_ "tabload/internal/storage/all"
)

// Version information (set at build time).
var Version = "0.1.0"

// session owns what PersistentPreRunE opens and Execute must close.
type session struct {
	cfgFile string
	metrics io.Closer
}

func (s *session) close() {
	if s.metrics != nil {
		_ = s.metrics.Close()
		metrics.SetBackend(nil)
		s.metrics = nil
	}
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCmd()
	return root
}

func newRootCmd() (*cobra.Command, *session) {
	s := &session{}
	rootCmd := &cobra.Command{
		Use:   "tabload",
		Short: "tabload - load a directory of tabular files into one table",
		Long: `tabload merges a directory of CSV (or HTML table) files with differing
columns into one relational table whose columns are the union of every
header. Missing columns are stored as NULL. An optional pass infers numeric
column types from a sample and rebuilds the table with them.`,
		Version:           Version,
		PersistentPreRunE: s.prepare,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&s.cfgFile, "config", "", "config file (default: ./tabload.yaml)")
	pf.BoolP("verbose", "v", false, "Verbose output (debug logging)")
	pf.String("log-level", "", "Log level (debug|info|warn|error)")
	pf.String("log-format", "", "Log format (text|json)")
	pf.StringP("output", "o", "", "Output format (auto|text|markdown|json)")
	pf.String("source-dir", "", "Directory holding the source files")
	pf.String("archive", "", "Zip archive extracted when the source directory is empty (default: <source-dir>.zip)")
	pf.String("encoding", "", "Source text encoding (utf-8, latin1, windows-1252, ...)")
	pf.String("storage-kind", "", "Storage backend (sqlite|postgres|mssql|duckdb)")
	pf.String("dsn", "", "Storage DSN or database file")
	pf.StringP("table", "t", "", "Target table name")
	pf.Int("chunk-size", 0, "Rows per insert transaction")
	pf.Int("sample-size", 0, "Rows sampled by type inference")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "text", "markdown", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("storage-kind", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"sqlite", "postgres", "mssql", "duckdb"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewIngestCommand())
	rootCmd.AddCommand(commands.NewSchemaCommand())
	rootCmd.AddCommand(commands.NewAnalyzeCommand())
	rootCmd.AddCommand(commands.NewRetypeCommand())
	rootCmd.AddCommand(commands.NewCountsCommand())
	rootCmd.AddCommand(commands.NewValidateCommand())

	return rootCmd, s
}

// prepare loads and validates the configuration, then stores the logger,
// renderer and metrics backend for the subcommand.
func (s *session) prepare(cmd *cobra.Command, _ []string) error {
	switch cmd.Name() {
	case "help", "completion", "__complete", "version":
		return nil
	}

	cfg, used, err := config.Load(s.cfgFile, cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	issues := config.Validate(*cfg)

	logger := newLogger(cmd.ErrOrStderr(), cfg.Log, cfg.Verbose).With(
		"run_id", uuid.NewString(),
		"job", cfg.Job,
	)
	if used != "" {
		logger.Debug("using config file", "path", used)
	}

	validating := cmd.Name() == "validate"
	if !validating {
		for _, iss := range issues {
			if iss.Severity == config.SeverityWarn {
				logger.Warn("config", "path", iss.Path, "msg", iss.Message)
			}
		}
		if config.HasErrors(issues) {
			return invalidConfigError(issues)
		}
		if err := s.startMetrics(cmd.Context(), cfg, logger); err != nil {
			return err
		}
	}

	env := &commands.Env{
		Config:     cfg,
		ConfigFile: used,
		Issues:     issues,
		Logger:     logger,
		Renderer:   report.NewRenderer(cmd.OutOrStdout(), report.Mode(cfg.Output)),
	}
	cmd.SetContext(commands.WithEnv(cmd.Context(), env))
	return nil
}

func (s *session) startMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Metrics.Backend != "datadog" {
		return nil
	}
	b, err := datadog.NewBackend(ctx, datadog.Options{
		JobName:    cfg.Job,
		Tags:       datadog.ParseTagsCSV(cfg.Metrics.Tags),
		FlushEvery: cfg.Metrics.FlushEvery,
	})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	metrics.SetBackend(b)
	s.metrics = b
	logger.Debug("metrics enabled", "backend", "datadog", "flush_every", cfg.Metrics.FlushEvery)
	return nil
}

func invalidConfigError(issues []config.Issue) error {
	var msgs []string
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			msgs = append(msgs, iss.Path+": "+iss.Message)
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func newLogger(w io.Writer, lc config.LogConfig, verbose bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Execute runs the root command with ctx and flushes metrics on the way out.
func Execute(ctx context.Context) error {
	rootCmd, s := newRootCmd()
	defer s.close()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
