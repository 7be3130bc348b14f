// Package commands wires the CLI surface. Every command is a thin adapter
// over runner.RunStack; no reconciliation logic lives here.
package commands

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/deployql/deployql/pkg/executor"
	"github.com/deployql/deployql/pkg/runner"
	"github.com/deployql/deployql/pkg/telemetry"
)

// summaryRounding keeps printed durations readable.
const summaryRounding = 10 * time.Millisecond

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deployql",
		Short: "Model-driven resource provisioning using SQL",
		Long: `deployql provisions, tests, and tears down cloud resources declared in a
stack manifest. Each resource is reconciled by rendering templated queries
and executing them against a StackQL server over its postgres wire
protocol.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newTestCommand())
	rootCmd.AddCommand(newTeardownCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}

// stackFlags are the options shared by every run command.
type stackFlags struct {
	envFile     string
	envVars     []string
	showQueries bool
	outputFile  string
	host        string
	port        int
	skipPull    bool
	metricsAddr string
	dryRun      bool
	allowDryRun bool
}

func (f *stackFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.envFile, "env-file", "", "load variables from a dotenv file")
	cmd.Flags().StringArrayVarP(&f.envVars, "env", "e", nil, "set a variable as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&f.showQueries, "show-queries", false, "log each rendered query before execution")
	cmd.Flags().StringVar(&f.host, "host", executor.DefaultHost, "StackQL server host")
	cmd.Flags().IntVar(&f.port, "port", executor.DefaultPort, "StackQL server port")
	cmd.Flags().BoolVar(&f.skipPull, "skip-provider-pull", false, "do not pull manifest providers at startup")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	if f.allowDryRun {
		cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "render queries without executing anything")
		cmd.Flags().StringVar(&f.outputFile, "output-file", "", "write stack exports to this JSON file")
	}
}

// parseOverrides turns repeated KEY=VALUE flags into the override map.
func parseOverrides(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	overrides := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, expected KEY=VALUE", pair)
		}
		overrides[key] = value
	}
	return overrides, nil
}

// runStack executes one stack run for a command. args are the positional
// <stack-dir> <env> pair.
func runStack(ctx context.Context, args []string, f *stackFlags, mode runner.Mode) error {
	overrides, err := parseOverrides(f.envVars)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: f.metricsAddr != ""})
	if f.metricsAddr != "" {
		serveMetrics(f.metricsAddr, metrics)
	}

	result, err := runner.RunStack(ctx, runner.StackOptions{
		StackDir:      args[0],
		Env:           args[1],
		Mode:          mode,
		Overrides:     overrides,
		EnvFile:       f.envFile,
		DryRun:        f.dryRun,
		ShowQueries:   f.showQueries,
		PullProviders: !f.skipPull,
		OutputsFile:   f.outputFile,
		Metrics:       metrics,
		ExecutorConfig: executor.Config{
			Host: f.host,
			Port: f.port,
		},
	})
	if result != nil {
		printSummary(result)
	}
	return err
}

// serveMetrics exposes the metrics endpoint for the duration of the run.
func serveMetrics(addr string, metrics *telemetry.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("metrics endpoint stopped")
		}
	}()
}

// printSummary reports per-resource outcomes and the overall run status.
func printSummary(result *runner.RunResult) {
	for _, res := range result.Results {
		fmt.Printf("  %-30s %s\n", res.Resource, res.Outcome)
	}
	if result.Failure != nil {
		fmt.Printf("run %s failed on resource %s: %v\n",
			result.ID, result.Failure.Resource, result.Failure.Err)
		return
	}
	status := "succeeded"
	if result.Mode == runner.ModeTest && result.Drifted() > 0 {
		status = fmt.Sprintf("found %d resource(s) out of desired state", result.Drifted())
	}
	fmt.Printf("run %s %s in %s\n", result.ID, status, result.Duration.Round(summaryRounding))
}
