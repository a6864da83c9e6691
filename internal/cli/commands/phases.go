package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"tabload/internal/report"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Load every source file into the target table",
		Long: `Extract the archive when the source directory is empty, discover the
union of all headers, create the table with every column declared text and
append each file chunk by chunk. Nothing is written when the table already
exists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := EnvFrom(cmd.Context())
			if err != nil {
				return err
			}
			res, ingestErr := env.Ingestor().Ingest(cmd.Context())
			if ingestErr != nil {
				return ingestErr
			}
			return env.Renderer.Ingest(res)
		},
	}
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show the declared columns of the target table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := EnvFrom(cmd.Context())
			if err != nil {
				return err
			}
			ing := env.Ingestor()
			cols, err := ing.Schema(cmd.Context())
			if err != nil {
				return err
			}
			return env.Renderer.Columns(ing.Table(), cols)
		},
	}
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Recommend column types from a sample and report nulls",
		Long: `Read the first infer.sample_size rows and recommend a type per column.
A text column becomes INTEGER when every sampled value is a whole number,
REAL when every value is numeric, and stays TEXT otherwise.

--format yaml or json prints only the column to type map.`,
		Example: `  tabload analyze
  tabload analyze --format yaml > dtypes.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := EnvFrom(cmd.Context())
			if err != nil {
				return err
			}
			if format == "" {
				format = env.Config.Report.Format
			}
			switch format {
			case report.FormatTable, report.FormatYAML, report.FormatJSON:
			default:
				return fmt.Errorf("unknown format %q (want table|yaml|json)", format)
			}
			a, err := env.Ingestor().Analyze(cmd.Context())
			if err != nil {
				return err
			}
			return env.Renderer.Analysis(a, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Report format (table|yaml|json); default report.format")
	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{report.FormatTable, report.FormatYAML, report.FormatJSON}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

// NewRetypeCommand creates the retype command.
func NewRetypeCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "retype",
		Short: "Rebuild the table with the recommended column types",
		Long: `Rebuild the target table through <table>_new with the types recommended
by analyze. Values that do not convert are stored as NULL.

The rebuild is skipped when fewer than retype.min_text_columns columns are
still declared text (--force ignores this), or when no recommendation
differs from the declared type.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := EnvFrom(cmd.Context())
			if err != nil {
				return err
			}
			res, err := env.Ingestor().Retype(cmd.Context(), force)
			if err != nil {
				return err
			}
			return env.Renderer.Retype(res)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Ignore the text column threshold")
	return cmd
}

// NewCountsCommand creates the counts command.
func NewCountsCommand() *cobra.Command {
	var column string
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Count rows per value of one column",
		Example: `  tabload counts --column Label`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := EnvFrom(cmd.Context())
			if err != nil {
				return err
			}
			if column == "" {
				column = env.Config.Report.DistributionColumn
			}
			buckets, err := env.Ingestor().Distribution(cmd.Context(), column)
			if err != nil {
				return err
			}
			return env.Renderer.Distribution(column, buckets)
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "Column to count; default report.distribution_column")
	return cmd
}
