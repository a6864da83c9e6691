package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
)

// Issue is one validation finding. Path is the dotted config key.
type Issue struct {
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var (
	storageKinds   = []string{"sqlite", "postgres", "mssql", "duckdb"}
	reportFormats  = []string{"table", "yaml", "json"}
	metricBackends = []string{"none", "datadog"}
	logLevels      = []string{"debug", "info", "warn", "error"}
	logFormats     = []string{"text", "json"}
	outputModes    = []string{"auto", "text", "markdown", "json"}
)

// Validate checks cfg and returns every problem found. Errors make the
// config unusable; warnings are reported and ignored.
func Validate(cfg Config) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(cfg.Source.Dir) == "" {
		add(SeverityError, "source.dir", "required")
	}
	for i, p := range cfg.Source.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			add(SeverityError, fmt.Sprintf("source.patterns[%d]", i), "bad pattern %q: %v", p, err)
		}
	}
	if cfg.Source.Encoding != "" {
		if _, err := htmlindex.Get(cfg.Source.Encoding); err != nil {
			add(SeverityError, "source.encoding", "unknown encoding %q", cfg.Source.Encoding)
		}
	}
	if c := cfg.Source.Comma; c != "" && c != `\t` && len([]rune(c)) != 1 {
		add(SeverityError, "source.comma", "must be a single character, got %q", c)
	}
	if c := []rune(cfg.Source.Comma); len(c) == 1 && (c[0] == '"' || c[0] == '\r' || c[0] == '\n') {
		add(SeverityError, "source.comma", "invalid delimiter %q", cfg.Source.Comma)
	}

	if !oneOf(cfg.Storage.Kind, storageKinds) {
		add(SeverityError, "storage.kind", "must be one of %s, got %q", strings.Join(storageKinds, "|"), cfg.Storage.Kind)
	}
	switch {
	case strings.TrimSpace(cfg.Storage.Table) == "":
		add(SeverityError, "storage.table", "required")
	case strings.Contains(cfg.Storage.Table, "."):
		add(SeverityError, "storage.table", "schema-qualified names are not supported, got %q", cfg.Storage.Table)
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "required for kind %q", cfg.Storage.Kind)
	}

	if cfg.Load.ChunkSize <= 0 {
		add(SeverityError, "load.chunk_size", "must be > 0, got %d", cfg.Load.ChunkSize)
	}
	if cfg.Load.ChannelBuffer < 0 {
		add(SeverityError, "load.channel_buffer", "must be >= 0, got %d", cfg.Load.ChannelBuffer)
	}
	if cfg.Load.DiscoverWorkers <= 0 {
		add(SeverityError, "load.discover_workers", "must be > 0, got %d", cfg.Load.DiscoverWorkers)
	}
	if cfg.Infer.SampleSize <= 0 {
		add(SeverityError, "infer.sample_size", "must be > 0, got %d", cfg.Infer.SampleSize)
	}

	if cfg.Retype.MinTextColumns < 0 {
		add(SeverityError, "retype.min_text_columns", "must be >= 0, got %d", cfg.Retype.MinTextColumns)
	}
	if cfg.Retype.BatchSize <= 0 {
		add(SeverityError, "retype.batch_size", "must be > 0, got %d", cfg.Retype.BatchSize)
	}
	if cfg.Retype.Enabled && cfg.Retype.MinTextColumns == 0 {
		add(SeverityWarn, "retype.min_text_columns", "0 disables the already-converted guard")
	}

	if !oneOf(cfg.Report.Format, reportFormats) {
		add(SeverityError, "report.format", "must be one of %s, got %q", strings.Join(reportFormats, "|"), cfg.Report.Format)
	}
	if !oneOf(cfg.Metrics.Backend, metricBackends) {
		add(SeverityWarn, "metrics.backend", "unknown backend %q; metrics disabled", cfg.Metrics.Backend)
	}
	if cfg.Metrics.Backend == "datadog" && cfg.Metrics.FlushEvery < 0 {
		add(SeverityError, "metrics.flush_every", "must be >= 0, got %s", cfg.Metrics.FlushEvery)
	}
	if !oneOf(strings.ToLower(cfg.Log.Level), logLevels) {
		add(SeverityWarn, "log.level", "unknown level %q; using info", cfg.Log.Level)
	}
	if !oneOf(cfg.Log.Format, logFormats) {
		add(SeverityWarn, "log.format", "unknown format %q; using text", cfg.Log.Format)
	}
	if !oneOf(cfg.Output, outputModes) {
		add(SeverityError, "output", "must be one of %s, got %q", strings.Join(outputModes, "|"), cfg.Output)
	}
	return out
}

func oneOf(s string, allowed []string) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}
