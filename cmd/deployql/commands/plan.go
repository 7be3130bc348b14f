package commands

import (
	"github.com/spf13/cobra"

	"github.com/deployql/deployql/pkg/runner"
)

func newPlanCommand() *cobra.Command {
	flags := &stackFlags{}

	cmd := &cobra.Command{
		Use:   "plan <stack-dir> <env>",
		Short: "Show what a build would do",
		Long: `Render every resource's queries for the given environment and report the
mutations a build would issue, without executing anything. Export values
from unexecuted mutations appear as placeholders.`,
		Example: `  # Preview the prod deployment
  deployql plan ./activity-monitor prod`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.dryRun = true
			flags.showQueries = true
			return runStack(cmd.Context(), args, flags, runner.ModeBuild)
		},
	}

	flags.register(cmd)
	return cmd
}
