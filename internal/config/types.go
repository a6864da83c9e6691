// Package config defines the tabload configuration and how it is loaded.
//
// One configuration describes one dataset: where its tabular files live,
// which relation they are merged into, and how the optional type-correction
// pass behaves. Differences between datasets (table names, thresholds, chunk
// sizes) belong here rather than in code.
package config

import "time"

// Config is the full tabload configuration.
type Config struct {
	Job     string        `koanf:"job"`
	Source  SourceConfig  `koanf:"source"`
	Storage StorageConfig `koanf:"storage"`
	Load    LoadConfig    `koanf:"load"`
	Infer   InferConfig   `koanf:"infer"`
	Retype  RetypeConfig  `koanf:"retype"`
	Report  ReportConfig  `koanf:"report"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Verbose bool          `koanf:"verbose"`
	Output  string        `koanf:"output"`
}

// SourceConfig locates the input files and describes how to read them.
type SourceConfig struct {
	Dir string `koanf:"dir"`
	// Archive is extracted into Dir when Dir holds no matching files.
	// Empty means "<Dir>.zip" beside the directory.
	Archive  string   `koanf:"archive"`
	Patterns []string `koanf:"patterns"`
	// Encoding is a WHATWG encoding label ("utf-8", "latin1", "windows-1252", ...).
	Encoding          string `koanf:"encoding"`
	Comma             string `koanf:"comma"`
	LazyQuotes        bool   `koanf:"lazy_quotes"`
	// TrimSpace trims surrounding whitespace from CSV cell values. HTML cell
	// text is always trimmed.
	TrimSpace         bool   `koanf:"trim_space"`
	HTMLTableSelector string `koanf:"html_table_selector"`
}

// StorageConfig selects the backend and the target relation.
type StorageConfig struct {
	Kind  string `koanf:"kind"`
	DSN   string `koanf:"dsn"`
	Table string `koanf:"table"`
}

// LoadConfig bounds memory during the streaming load.
type LoadConfig struct {
	ChunkSize       int `koanf:"chunk_size"`
	ChannelBuffer   int `koanf:"channel_buffer"`
	DiscoverWorkers int `koanf:"discover_workers"`
}

// InferConfig controls the sample-based type inference.
type InferConfig struct {
	SampleSize int `koanf:"sample_size"`
}

// RetypeConfig controls the full-table type correction.
type RetypeConfig struct {
	Enabled bool `koanf:"enabled"`
	// MinTextColumns is the guard: the rewrite only runs when at least this
	// many columns are still declared text.
	MinTextColumns int `koanf:"min_text_columns"`
	BatchSize      int `koanf:"batch_size"`
}

// ReportConfig controls the diagnostics printed by run/analyze/counts.
type ReportConfig struct {
	DistributionColumn string `koanf:"distribution_column"`
	// Format of the analyze report: table | yaml | json.
	Format string `koanf:"format"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	Backend    string        `koanf:"backend"`
	Tags       string        `koanf:"tags"`
	FlushEvery time.Duration `koanf:"flush_every"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ParserOptions is the reader-facing subset of SourceConfig.
type ParserOptions struct {
	Comma         rune
	LazyQuotes    bool
	TrimSpace     bool
	Encoding      string
	TableSelector string
}

// ParserOptions derives reader options from the source configuration.
func (s SourceConfig) ParserOptions() ParserOptions {
	comma := ','
	if r := []rune(s.Comma); len(r) == 1 {
		comma = r[0]
	} else if s.Comma == `\t` {
		comma = '\t'
	}
	sel := s.HTMLTableSelector
	if sel == "" {
		sel = DefaultHTMLTableSelector
	}
	return ParserOptions{
		Comma:         comma,
		LazyQuotes:    s.LazyQuotes,
		TrimSpace:     s.TrimSpace,
		Encoding:      s.Encoding,
		TableSelector: sel,
	}
}

// Defaults.
const (
	DefaultJob                = "tabload"
	DefaultStorageKind        = "sqlite"
	DefaultTable              = "data"
	DefaultEncoding           = "utf-8"
	DefaultChunkSize          = 100000
	DefaultChannelBuffer      = 1024
	DefaultDiscoverWorkers    = 1
	DefaultSampleSize         = 200000
	DefaultMinTextColumns     = 10
	DefaultRetypeBatchSize    = 100000
	DefaultReportFormat       = "table"
	DefaultMetricsBackend     = "none"
	DefaultFlushEvery         = 60 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultOutput             = "auto"
	DefaultHTMLTableSelector  = "table"
	DefaultConfigFileBaseName = "tabload"
	EnvPrefix                 = "TABLOAD_"
)

// DefaultPatterns is the source glob list when none is configured.
var DefaultPatterns = []string{"*.csv"}
