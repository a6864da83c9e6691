package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"tabload/internal/config"
)

var errInvalidConfig = errors.New("configuration has errors")

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		Long: `Load the configuration from defaults, tabload.yaml, TABLOAD_* environment
variables and flags, then report every problem found. The exit status is
non-zero when any issue is an error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := EnvFrom(cmd.Context())
			if err != nil {
				return err
			}
			if err := env.Renderer.Issues(env.ConfigFile, env.Issues); err != nil {
				return err
			}
			if config.HasErrors(env.Issues) {
				return errInvalidConfig
			}
			return nil
		},
	}
}
