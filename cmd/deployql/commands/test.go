package commands

import (
	"github.com/spf13/cobra"

	"github.com/deployql/deployql/pkg/runner"
)

func newTestCommand() *cobra.Command {
	flags := &stackFlags{allowDryRun: true}

	cmd := &cobra.Command{
		Use:   "test <stack-dir> <env>",
		Short: "Check the stack without changing anything",
		Long: `Observe every resource in the stack and report whether it matches its
desired state. Nothing is created, updated, or deleted: a converged resource
reports skipped, a missing one absent, and a mismatched one drifted.`,
		Example: `  # Verify the prod deployment matches the manifest
  deployql test ./activity-monitor prod`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStack(cmd.Context(), args, flags, runner.ModeTest)
		},
	}

	flags.register(cmd)
	return cmd
}
