package commands

import (
	"github.com/spf13/cobra"

	"github.com/deployql/deployql/pkg/runner"
)

func newBuildCommand() *cobra.Command {
	flags := &stackFlags{allowDryRun: true}

	cmd := &cobra.Command{
		Use:   "build <stack-dir> <env>",
		Short: "Provision the stack's resources",
		Long: `Walk the stack's resources in declaration order and drive each one to its
desired state: create it when absent, update it when drifted, skip it when
already converged. Exports from earlier resources are available to later
ones.`,
		Example: `  # Provision the activity-monitor stack for prod
  deployql build ./activity-monitor prod

  # Provision with variables from a dotenv file
  deployql build ./activity-monitor dev --env-file dev.env

  # Render everything without touching the cloud
  deployql build ./activity-monitor prod --dry-run`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStack(cmd.Context(), args, flags, runner.ModeBuild)
		},
	}

	flags.register(cmd)
	return cmd
}
