package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// flagKeys maps CLI flag names onto config keys. Flags not listed here use
// their kebab-case name converted to snake_case.
var flagKeys = map[string]string{
	"source-dir":   "source.dir",
	"archive":      "source.archive",
	"encoding":     "source.encoding",
	"storage-kind": "storage.kind",
	"dsn":          "storage.dsn",
	"table":        "storage.table",
	"chunk-size":   "load.chunk_size",
	"sample-size":  "infer.sample_size",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// Defaults returns the default configuration as a flat koanf map.
func Defaults() map[string]any {
	return map[string]any{
		"job":                        DefaultJob,
		"verbose":                    false,
		"output":                     DefaultOutput,
		"source.patterns":            DefaultPatterns,
		"source.encoding":            DefaultEncoding,
		"source.comma":               ",",
		"source.trim_space":          false,
		"source.html_table_selector": DefaultHTMLTableSelector,
		"storage.kind":               DefaultStorageKind,
		"storage.table":              DefaultTable,
		"load.chunk_size":            DefaultChunkSize,
		"load.channel_buffer":        DefaultChannelBuffer,
		"load.discover_workers":      DefaultDiscoverWorkers,
		"infer.sample_size":          DefaultSampleSize,
		"retype.enabled":             true,
		"retype.min_text_columns":    DefaultMinTextColumns,
		"retype.batch_size":          DefaultRetypeBatchSize,
		"report.format":              DefaultReportFormat,
		"metrics.backend":            DefaultMetricsBackend,
		"metrics.flush_every":        DefaultFlushEvery.String(),
		"log.level":                  DefaultLogLevel,
		"log.format":                 DefaultLogFormat,
	}
}

// FindConfigFile returns the config file to load.
// Priority: explicit path > tabload.yaml > tabload.yml in the working directory.
func FindConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, ext := range []string{".yaml", ".yml"} {
		name := DefaultConfigFileBaseName + ext
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load reads configuration from defaults, the config file, TABLOAD_*
// environment variables and explicitly set flags, in increasing precedence.
// It returns the resolved config and the config file that was used ("" if none).
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, string, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load defaults: %w", err)
	}

	used := FindConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, "", fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// TABLOAD_STORAGE__DSN -> storage.dsn, TABLOAD_JOB -> job
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, "", fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, "", fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.Resolve()
	return &cfg, used, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Resolve fills values derived from other settings: the archive path beside
// the source directory and a file DSN for the embedded backends.
func (c *Config) Resolve() {
	if c.Source.Dir != "" {
		c.Source.Dir = filepath.Clean(c.Source.Dir)
	}
	if c.Source.Archive == "" && c.Source.Dir != "" {
		c.Source.Archive = c.Source.Dir + ".zip"
	}
	if len(c.Source.Patterns) == 0 {
		c.Source.Patterns = append([]string(nil), DefaultPatterns...)
	}
	if c.Storage.DSN == "" && c.Source.Dir != "" && c.Storage.Table != "" {
		switch c.Storage.Kind {
		case "sqlite":
			c.Storage.DSN = filepath.Join(c.Source.Dir, c.Storage.Table+".db")
		case "duckdb":
			c.Storage.DSN = filepath.Join(c.Source.Dir, c.Storage.Table+".duckdb")
		}
	}
}
