package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/deployql/deployql/pkg/executor"
	"github.com/deployql/deployql/pkg/manifest"
	"github.com/deployql/deployql/pkg/queries"
	"github.com/deployql/deployql/pkg/vars"
)

// Teardown deletes one resource and confirms its absence. A resource whose
// query file defines no delete anchor is skipped; a resource already absent
// is reported as deleted without issuing the delete.
func (e *Engine) Teardown(ctx context.Context, res *manifest.Resource, anchors queries.AnchorSet, scope *vars.Scope) (*Result, error) {
	result := &Result{Resource: res.Name}

	deleteDef, hasDelete := anchors.Get(queries.KindDelete)
	if !hasDelete {
		log.Info().
			Str("resource", res.Name).
			Msg("no delete query defined, skipping teardown")
		result.Outcome = OutcomeSkipped
		return result, nil
	}

	probeDef, hasProbe := existenceProbe(anchors)
	if hasProbe && !e.dryRun {
		present, _, err := e.probe(ctx, res.Name, probeDef, scope)
		if err != nil {
			return nil, err
		}
		if !present {
			log.Info().
				Str("resource", res.Name).
				Msg("resource already absent")
			result.Outcome = OutcomeDeleted
			return result, nil
		}
	}

	if err := e.mutate(ctx, res.Name, deleteDef, scope); err != nil {
		return nil, err
	}

	if hasProbe && !e.dryRun {
		attempts, err := e.confirmAbsence(ctx, res.Name, probeDef, scope)
		result.Attempts = attempts
		if err != nil {
			var rerr *Error
			if errors.As(err, &rerr) {
				result.LastPayload = rerr.LastPayload
			}
			return nil, err
		}
	}

	result.Outcome = OutcomeDeleted
	log.Info().
		Str("resource", res.Name).
		Msg("resource deleted")
	return result, nil
}

// existenceProbe picks the anchor used to observe a resource around its
// deletion, preferring exists over statecheck.
func existenceProbe(anchors queries.AnchorSet) (queries.AnchorDef, bool) {
	if def, ok := anchors.Get(queries.KindExists); ok {
		return def, true
	}
	if def, ok := anchors.Get(queries.KindStateCheck); ok {
		return def, true
	}
	return queries.AnchorDef{}, false
}

// confirmAbsence polls the existence probe until the resource disappears,
// bounded by the anchor's post-delete retry budget.
func (e *Engine) confirmAbsence(ctx context.Context, resource string, def queries.AnchorDef, scope *vars.Scope) (int, error) {
	retries := def.Attrs.PostDeleteRetries
	delay := def.Attrs.PostDeleteDelay()
	var lastRows []executor.Row
	for attempt := 1; attempt <= retries; attempt++ {
		present, rows, err := e.probe(ctx, resource, def, scope)
		if err != nil {
			return attempt, err
		}
		if !present {
			return attempt, nil
		}
		lastRows = rows
		log.Debug().
			Str("resource", resource).
			Int("attempt", attempt).
			Int("retries", retries).
			Msg("resource still present after delete")
		if attempt < retries {
			if err := e.sleep(ctx, delay); err != nil {
				return attempt, newError(ErrKindExecution, resource, err).WithAnchor(def.Kind)
			}
		}
	}
	verr := newError(ErrKindStateExhausted, resource,
		fmt.Errorf("resource still present after %d post-delete checks", retries)).WithAnchor(def.Kind)
	verr.Attempts = retries
	verr.LastPayload = lastRows
	return retries, verr
}
