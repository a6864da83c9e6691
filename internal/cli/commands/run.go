package commands

import (
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Ingest, inspect, retype and report in one pass",
		Long: `Run every phase in order: ingest (archive pre-step, schema discovery,
table creation, streaming load), schema, analyze, retype (when retype.enabled)
and distribution (when report.distribution_column is set).

A failed phase is reported and the next phase still runs. Missing input
stops the run before the database is touched. The exit status is non-zero
when any phase failed.`,
		Example: `  # Load data/IDS2018/*.csv into DDoS_data and correct its types
  tabload run --source-dir data/IDS2018 --table DDoS_data

  # Same, machine readable
  tabload run -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := EnvFrom(cmd.Context())
			if err != nil {
				return err
			}
			rep, runErr := env.Ingestor().Run(cmd.Context())
			if rep != nil {
				if err := env.Renderer.Run(rep); err != nil {
					return err
				}
			}
			return runErr
		},
	}
}
