// Package runner orchestrates a whole stack run: it renders globals,
// walks the manifest's resources in declaration order, drives each one
// through the reconciliation engine, and propagates exports between them.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deployql/deployql/pkg/executor"
	"github.com/deployql/deployql/pkg/manifest"
	"github.com/deployql/deployql/pkg/queries"
	"github.com/deployql/deployql/pkg/reconcile"
	"github.com/deployql/deployql/pkg/telemetry"
	"github.com/deployql/deployql/pkg/template"
	"github.com/deployql/deployql/pkg/vars"
)

// Mode selects what a run does to the stack's resources.
type Mode string

const (
	// ModeBuild provisions every resource toward its desired state.
	ModeBuild Mode = "build"

	// ModeTest observes every resource without mutating anything.
	ModeTest Mode = "test"

	// ModeTeardown deletes resources in reverse declaration order.
	ModeTeardown Mode = "teardown"
)

// Validate returns an error if the mode is not a known value.
func (m Mode) Validate() error {
	switch m {
	case ModeBuild, ModeTest, ModeTeardown:
		return nil
	}
	return fmt.Errorf("invalid mode: %s", m)
}

// queryFileDir is the stack subdirectory holding resource query files.
const queryFileDir = "resources"

// Runner executes stack runs against one stack directory and executor.
type Runner struct {
	stackDir      string
	exec          executor.Executor
	engine        *reconcile.Engine
	engineOpts    []reconcile.Option
	dupPolicy     queries.DuplicatePolicy
	pullProviders bool
	dryRun        bool
	metrics       *telemetry.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithDryRun renders and reports without executing mutations.
func WithDryRun(enabled bool) Option {
	return func(r *Runner) {
		r.dryRun = enabled
		r.engineOpts = append(r.engineOpts, reconcile.WithDryRun(enabled))
	}
}

// WithShowQueries logs every rendered query before execution.
func WithShowQueries(enabled bool) Option {
	return func(r *Runner) {
		r.engineOpts = append(r.engineOpts, reconcile.WithShowQueries(enabled))
	}
}

// WithSleep overrides the verification delay function.
func WithSleep(sleep reconcile.SleepFunc) Option {
	return func(r *Runner) {
		r.engineOpts = append(r.engineOpts, reconcile.WithSleep(sleep))
	}
}

// WithProviderPull issues a REGISTRY PULL for each manifest provider
// before the resource walk.
func WithProviderPull(enabled bool) Option {
	return func(r *Runner) { r.pullProviders = enabled }
}

// WithDuplicateAnchorPolicy controls how repeated anchor kinds in a query
// file are resolved.
func WithDuplicateAnchorPolicy(policy queries.DuplicatePolicy) Option {
	return func(r *Runner) { r.dupPolicy = policy }
}

// WithMetrics records run and resource metrics on the given collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a Runner for the given stack directory.
func New(stackDir string, exec executor.Executor, opts ...Option) *Runner {
	r := &Runner{
		stackDir:  stackDir,
		exec:      exec,
		dupPolicy: queries.FirstWins,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.engine = reconcile.New(exec, r.engineOpts...)
	return r
}

// Run walks the manifest's resources in the given mode. Processing is
// strictly sequential and fail-fast: the first resource error ends the run,
// with outcomes for already-processed resources retained in the result.
func (r *Runner) Run(ctx context.Context, m *manifest.Manifest, vctx *vars.Context, mode Mode) (*RunResult, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()
	result := &RunResult{
		ID:    uuid.NewString(),
		Stack: m.Name,
		Mode:  mode,
	}
	log.Info().
		Str("run_id", result.ID).
		Str("stack", m.Name).
		Str("mode", string(mode)).
		Int("resources", len(m.Resources)).
		Msg("starting run")
	r.metrics.RunStarted(string(mode))

	if r.pullProviders && !r.dryRun {
		if err := r.pull(ctx, m.Providers); err != nil {
			result.Duration = time.Since(started)
			return result, err
		}
	}

	var err error
	switch mode {
	case ModeBuild:
		err = r.walkForward(ctx, m, vctx, result, false)
	case ModeTest:
		err = r.walkForward(ctx, m, vctx, result, true)
	case ModeTeardown:
		err = r.walkReverse(ctx, m, vctx, result)
	}
	result.Duration = time.Since(started)
	r.metrics.RunCompleted(string(mode), err == nil, result.Duration)
	if err != nil {
		log.Error().
			Str("run_id", result.ID).
			Err(err).
			Msg("run failed")
		return result, err
	}
	log.Info().
		Str("run_id", result.ID).
		Dur("elapsed", result.Duration).
		Msg("run complete")
	return result, nil
}

// pull issues a REGISTRY PULL per provider. A version suffix in the
// manifest ("okta::v24.06.00155") selects the provider name only.
func (r *Runner) pull(ctx context.Context, providers []string) error {
	for _, provider := range providers {
		name, _, _ := strings.Cut(provider, "::")
		log.Info().Str("provider", name).Msg("pulling provider")
		if _, err := r.exec.Execute(ctx, "REGISTRY PULL "+name); err != nil {
			return fmt.Errorf("pulling provider %s: %w", name, err)
		}
	}
	return nil
}

// walkForward provisions or checks resources in declaration order,
// propagating exports to later resources.
func (r *Runner) walkForward(ctx context.Context, m *manifest.Manifest, vctx *vars.Context, result *RunResult, checkOnly bool) error {
	env := vctx.StackEnv()
	for i := range m.Resources {
		res := &m.Resources[i]
		anchors, scope, err := r.prepare(res, env, vctx)
		if err != nil {
			result.fail(res.Name, err)
			return err
		}

		var rr *reconcile.Result
		if checkOnly {
			rr, err = r.engine.Check(ctx, res, anchors, scope)
		} else {
			rr, err = r.engine.Provision(ctx, res, anchors, scope)
		}
		if err != nil {
			result.fail(res.Name, err)
			r.metrics.ResourceReconciled(string(reconcile.OutcomeFailed), 0)
			return err
		}
		result.add(rr)
		r.metrics.ResourceReconciled(string(rr.Outcome), rr.Attempts)
		for name, value := range rr.Exports {
			vctx.Export(name, value)
		}
	}
	return nil
}

// walkReverse tears resources down in reverse declaration order. Exports
// are pre-collected in a forward pass first, so delete queries can still
// reference upstream outputs; pre-collection failures only warn, since
// resources may already be gone.
func (r *Runner) walkReverse(ctx context.Context, m *manifest.Manifest, vctx *vars.Context, result *RunResult) error {
	env := vctx.StackEnv()
	if !r.dryRun {
		r.collectUpstreamExports(ctx, m, vctx)
	}
	for i := len(m.Resources) - 1; i >= 0; i-- {
		res := &m.Resources[i]
		anchors, scope, err := r.prepare(res, env, vctx)
		if err != nil {
			result.fail(res.Name, err)
			return err
		}
		rr, err := r.engine.Teardown(ctx, res, anchors, scope)
		if err != nil {
			result.fail(res.Name, err)
			r.metrics.ResourceReconciled(string(reconcile.OutcomeFailed), 0)
			return err
		}
		result.add(rr)
		r.metrics.ResourceReconciled(string(rr.Outcome), rr.Attempts)
	}
	return nil
}

// collectUpstreamExports runs each resource's exports query forward so the
// values are in scope during the reverse walk.
func (r *Runner) collectUpstreamExports(ctx context.Context, m *manifest.Manifest, vctx *vars.Context) {
	for i := range m.Resources {
		res := &m.Resources[i]
		if len(res.Exports) == 0 {
			continue
		}
		anchors, scope, err := r.prepare(res, vctx.StackEnv(), vctx)
		if err == nil {
			err = r.engine.CollectExportsInto(ctx, res, anchors, scope, vctx)
		}
		if err != nil {
			log.Warn().
				Str("resource", res.Name).
				Err(err).
				Msg("could not collect exports before teardown")
		}
	}
}

// prepare loads and parses a resource's query file, renders its props for
// the active environment, and snapshots the variable scope.
func (r *Runner) prepare(res *manifest.Resource, env string, vctx *vars.Context) (queries.AnchorSet, *vars.Scope, error) {
	path := filepath.Join(r.stackDir, queryFileDir, res.QueryFileName())
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading query file for resource %s: %w", res.Name, err)
	}
	anchors, err := queries.ParseWithPolicy(string(raw), r.dupPolicy)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing query file %s: %w", path, err)
	}
	props, err := renderProps(res, env, vctx)
	if err != nil {
		return nil, nil, err
	}
	return anchors, vctx.Snapshot(props), nil
}

// renderProps resolves each prop for the active environment and renders
// template placeholders inside its string values.
func renderProps(res *manifest.Resource, env string, vctx *vars.Context) (map[string]vars.Value, error) {
	if len(res.Props) == 0 {
		return nil, nil
	}
	scope := vctx.Snapshot(nil)
	props := make(map[string]vars.Value, len(res.Props))
	for i := range res.Props {
		p := &res.Props[i]
		node, err := p.ValueFor(env)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", res.Name, err)
		}
		value, err := vars.FromYAMLNode(node)
		if err != nil {
			return nil, fmt.Errorf("resource %s prop %s: %w", res.Name, p.Name, err)
		}
		rendered, err := renderValue(value, scope)
		if err != nil {
			return nil, fmt.Errorf("resource %s prop %s: %w", res.Name, p.Name, err)
		}
		props[p.Name] = rendered
	}
	return props, nil
}

// renderValue renders template placeholders in string scalars, recursing
// through lists and mappings. Other kinds pass through unchanged.
func renderValue(v vars.Value, scope *vars.Scope) (vars.Value, error) {
	switch v.Kind() {
	case vars.KindString:
		text, err := template.Render(v.Text(), scope)
		if err != nil {
			return vars.Value{}, err
		}
		return vars.NewString(text), nil
	case vars.KindList:
		items := make([]vars.Value, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			item, _ := v.At(i)
			rendered, err := renderValue(item, scope)
			if err != nil {
				return vars.Value{}, err
			}
			items = append(items, rendered)
		}
		return vars.NewList(items...), nil
	case vars.KindMap:
		entries := make([]vars.MapEntry, 0, v.Len())
		for _, key := range v.Keys() {
			item, _ := v.Index(key)
			rendered, err := renderValue(item, scope)
			if err != nil {
				return vars.Value{}, err
			}
			entries = append(entries, vars.MapEntry{Key: key, Value: rendered})
		}
		return vars.NewMap(entries...), nil
	}
	return v, nil
}

// RenderGlobals renders the manifest's global variables into the context,
// in declaration order so later globals may reference earlier ones. A
// global that renders to an empty string is a configuration error.
func RenderGlobals(m *manifest.Manifest, vctx *vars.Context) error {
	for i := range m.Globals {
		g := &m.Globals[i]
		value, err := vars.FromYAMLNode(&g.Value)
		if err != nil {
			return fmt.Errorf("global %s: %w", g.Name, err)
		}
		rendered, err := renderValue(value, vctx.Snapshot(nil))
		if err != nil {
			return fmt.Errorf("global %s: %w", g.Name, err)
		}
		if rendered.Kind() == vars.KindString && rendered.Text() == "" {
			return fmt.Errorf("global %s rendered to an empty value", g.Name)
		}
		vctx.SetGlobal(g.Name, rendered)
	}
	return nil
}
