package commands

import (
	"github.com/spf13/cobra"

	"github.com/deployql/deployql/pkg/runner"
)

func newTeardownCommand() *cobra.Command {
	flags := &stackFlags{}

	cmd := &cobra.Command{
		Use:   "teardown <stack-dir> <env>",
		Short: "Delete the stack's resources",
		Long: `Delete the stack's resources in reverse declaration order, confirming each
one is gone before moving on. Resources without a delete query are skipped.`,
		Example: `  # Tear down the dev deployment
  deployql teardown ./activity-monitor dev`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStack(cmd.Context(), args, flags, runner.ModeTeardown)
		},
	}

	flags.register(cmd)
	return cmd
}
