package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/deployql/deployql/pkg/executor"
	"github.com/deployql/deployql/pkg/manifest"
	"github.com/deployql/deployql/pkg/telemetry"
	"github.com/deployql/deployql/pkg/vars"
)

// StackOptions configures a full stack run from the CLI boundary.
type StackOptions struct {
	// StackDir is the directory holding the manifest and resources/.
	StackDir string

	// Env is the environment name, exposed as stack_env.
	Env string

	// Mode is the run mode.
	Mode Mode

	// Overrides are caller-supplied variables with the highest lookup
	// precedence.
	Overrides map[string]string

	// EnvFile optionally names a dotenv file merged below Overrides.
	EnvFile string

	// DryRun renders and reports without executing mutations.
	DryRun bool

	// ShowQueries logs every rendered query before execution.
	ShowQueries bool

	// PullProviders issues a REGISTRY PULL per manifest provider before
	// the resource walk.
	PullProviders bool

	// OutputsFile optionally names a JSON file for stack-level exports
	// after a successful build or test run.
	OutputsFile string

	// Executor overrides the query engine connection; used by tests. When
	// nil, a pgwire connection is established from ExecutorConfig.
	Executor executor.Executor

	// ExecutorConfig configures the pgwire connection when Executor is
	// nil. Zero fields fall back to executor defaults.
	ExecutorConfig executor.Config

	// Metrics optionally records run and resource metrics.
	Metrics *telemetry.Metrics
}

// RunStack loads a stack and runs it end to end: environment file,
// manifest, globals, executor connection, the resource walk, and the
// outputs file. This is the single entry point the CLI calls.
func RunStack(ctx context.Context, opts StackOptions) (*RunResult, error) {
	if opts.Env == "" {
		return nil, fmt.Errorf("environment name is required")
	}
	if err := opts.Mode.Validate(); err != nil {
		return nil, err
	}

	overrides, err := resolveOverrides(opts)
	if err != nil {
		return nil, err
	}

	m, err := manifest.LoadFromStackDir(opts.StackDir)
	if err != nil {
		return nil, err
	}

	vctx := newRunContext(m.Name, opts.Env, overrides)
	if err := RenderGlobals(m, vctx); err != nil {
		return nil, err
	}

	exec := opts.Executor
	if exec == nil {
		pg, err := executor.Connect(ctx, opts.ExecutorConfig)
		if err != nil {
			return nil, err
		}
		defer pg.Close(ctx)
		exec = pg
	}

	r := New(opts.StackDir, exec,
		WithDryRun(opts.DryRun),
		WithShowQueries(opts.ShowQueries),
		WithProviderPull(opts.PullProviders),
		WithMetrics(opts.Metrics),
	)
	result, err := r.Run(ctx, m, vctx, opts.Mode)
	if err != nil {
		return result, err
	}

	if opts.OutputsFile != "" && opts.Mode != ModeTeardown {
		if err := writeOutputs(opts.OutputsFile, m, vctx, result, opts.DryRun); err != nil {
			return result, err
		}
	}
	return result, nil
}

// resolveOverrides merges the dotenv file, when given, below the explicit
// overrides.
func resolveOverrides(opts StackOptions) (map[string]string, error) {
	if opts.EnvFile == "" {
		return opts.Overrides, nil
	}
	fromFile, err := godotenv.Read(opts.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("reading env file %s: %w", opts.EnvFile, err)
	}
	merged := make(map[string]string, len(fromFile)+len(opts.Overrides))
	for k, v := range fromFile {
		merged[k] = v
	}
	for k, v := range opts.Overrides {
		merged[k] = v
	}
	log.Debug().
		Str("file", opts.EnvFile).
		Int("variables", len(fromFile)).
		Msg("loaded environment file")
	return merged, nil
}

// newRunContext builds the variable context with stack metadata and the
// run-scoped builtins. The builtins are fixed once per run so rendering
// stays pure.
func newRunContext(stackName, env string, overrides map[string]string) *vars.Context {
	now := time.Now().UTC()
	metadata := map[string]vars.Value{
		vars.MetaStackName: vars.NewString(stackName),
		vars.MetaStackEnv:  vars.NewString(env),
		"uuid":             vars.NewString(uuid.NewString()),
		"current_date":     vars.NewString(now.Format("2006-01-02")),
		"current_datetime": vars.NewString(now.Format("2006-01-02 15:04:05")),
	}
	ov := make(map[string]vars.Value, len(overrides))
	for k, v := range overrides {
		ov[k] = vars.NewString(v)
	}
	return vars.NewContext(ov, metadata)
}
