package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deployql/deployql/pkg/executor"
	"github.com/deployql/deployql/pkg/queries"
	"github.com/deployql/deployql/pkg/template"
	"github.com/deployql/deployql/pkg/vars"
)

// SleepFunc pauses between verification attempts. It returns early with the
// context's error if the context is cancelled.
type SleepFunc func(ctx context.Context, d time.Duration) error

// contextSleep is the default SleepFunc, backed by a timer.
func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Engine reconciles individual resources against the external query engine.
// It is safe for sequential reuse across resources; it holds no per-resource
// state.
type Engine struct {
	exec        executor.Executor
	sleep       SleepFunc
	dryRun      bool
	showQueries bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithSleep overrides the delay function used between verification
// attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithDryRun renders and reports mutations without executing them.
func WithDryRun(enabled bool) Option {
	return func(e *Engine) { e.dryRun = enabled }
}

// WithShowQueries logs every rendered query before execution.
func WithShowQueries(enabled bool) Option {
	return func(e *Engine) { e.showQueries = enabled }
}

// New creates an Engine backed by the given executor.
func New(exec executor.Executor, opts ...Option) *Engine {
	e := &Engine{
		exec:  exec,
		sleep: contextSleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// dryRunPlaceholder substitutes for export values that cannot be produced
// without executing mutations.
const dryRunPlaceholder = "<evaluated>"

// render produces the final query text for one anchor of a resource.
func (e *Engine) render(resource string, def queries.AnchorDef, scope *vars.Scope) (string, error) {
	text, err := template.Render(def.Template, scope)
	if err != nil {
		return "", newError(ErrKindRender, resource, err).WithAnchor(def.Kind)
	}
	return text, nil
}

// execute runs a rendered query, honoring context cancellation and the
// show-queries option.
func (e *Engine) execute(ctx context.Context, resource string, kind queries.Kind, query string) ([]executor.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(ErrKindExecution, resource, err).WithAnchor(kind)
	}
	if e.showQueries {
		log.Info().
			Str("resource", resource).
			Str("anchor", string(kind)).
			Msg("query:\n" + query)
	}
	rows, err := e.exec.Execute(ctx, query)
	if err != nil {
		return nil, newError(ErrKindExecution, resource, err).WithAnchor(kind)
	}
	return rows, nil
}

// countOf extracts the count column from a probe result set. Probe queries
// follow the convention of returning a single row with a count column whose
// value is "1" when the predicate holds.
func countOf(resource string, kind queries.Kind, rows []executor.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(rows) > 1 {
		return 0, newError(ErrKindExecution, resource,
			fmt.Errorf("probe returned %d rows, expected at most one", len(rows))).WithAnchor(kind)
	}
	raw, ok := rows[0]["count"]
	if !ok {
		// No count column: a non-empty result set counts as a match.
		return 1, nil
	}
	switch strings.TrimSpace(raw) {
	case "0":
		return 0, nil
	case "1":
		return 1, nil
	}
	return 0, newError(ErrKindExecution, resource,
		fmt.Errorf("probe count column is %q, expected 0 or 1", raw)).WithAnchor(kind)
}

// probe renders and executes one probe anchor and reports whether its
// predicate held.
func (e *Engine) probe(ctx context.Context, resource string, def queries.AnchorDef, scope *vars.Scope) (bool, []executor.Row, error) {
	query, err := e.render(resource, def, scope)
	if err != nil {
		return false, nil, err
	}
	rows, err := e.execute(ctx, resource, def.Kind, query)
	if err != nil {
		return false, nil, err
	}
	n, err := countOf(resource, def.Kind, rows)
	if err != nil {
		return false, nil, err
	}
	return n == 1, rows, nil
}

// verify polls the statecheck anchor until its predicate holds, up to the
// anchor's retry budget. Execution errors abort immediately; exhausting the
// budget yields a state_exhausted error carrying the final payload.
func (e *Engine) verify(ctx context.Context, resource string, def queries.AnchorDef, scope *vars.Scope) (int, error) {
	retries := def.Attrs.Retries
	delay := def.Attrs.RetryDelay()
	var lastRows []executor.Row
	for attempt := 1; attempt <= retries; attempt++ {
		ok, rows, err := e.probe(ctx, resource, def, scope)
		if err != nil {
			return attempt, err
		}
		if ok {
			return attempt, nil
		}
		lastRows = rows
		log.Debug().
			Str("resource", resource).
			Int("attempt", attempt).
			Int("retries", retries).
			Msg("desired state not reached")
		if attempt < retries {
			if err := e.sleep(ctx, delay); err != nil {
				return attempt, newError(ErrKindExecution, resource, err).WithAnchor(def.Kind)
			}
		}
	}
	verr := newError(ErrKindStateExhausted, resource,
		fmt.Errorf("desired state not reached after %d attempts", retries)).WithAnchor(def.Kind)
	verr.Attempts = retries
	verr.LastPayload = lastRows
	return retries, verr
}
