package reconcile

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/deployql/deployql/pkg/manifest"
	"github.com/deployql/deployql/pkg/queries"
	"github.com/deployql/deployql/pkg/vars"
)

// Provision drives one resource to its desired state. It classifies the
// resource as absent, present-but-undesired, or already desired, issues the
// corresponding mutation, verifies convergence, and collects exports.
//
// The returned Result is non-nil whenever the error is nil. On error the
// resource's outcome is OutcomeFailed and no exports are produced.
func (e *Engine) Provision(ctx context.Context, res *manifest.Resource, anchors queries.AnchorSet, scope *vars.Scope) (*Result, error) {
	result := &Result{Resource: res.Name}

	// Fast path: an idempotent createorupdate anchor replaces the whole
	// classify-then-mutate sequence.
	if def, ok := anchors.Get(queries.KindCreateOrUpdate); ok {
		if err := e.mutate(ctx, res.Name, def, scope); err != nil {
			return nil, err
		}
		result.Outcome = OutcomeCreated
	} else {
		outcome, err := e.converge(ctx, res, anchors, scope)
		if err != nil {
			return nil, err
		}
		result.Outcome = outcome
	}

	// Verify convergence after any mutation. An unmutated resource was
	// classified as desired by a probe and needs no second look.
	if result.Outcome.Mutated() && !e.dryRun {
		if def, ok := anchors.Get(queries.KindStateCheck); ok {
			attempts, err := e.verify(ctx, res.Name, def, scope)
			result.Attempts = attempts
			if err != nil {
				var rerr *Error
				if errors.As(err, &rerr) {
					result.LastPayload = rerr.LastPayload
				}
				return nil, err
			}
		}
	}

	if err := e.collectExports(ctx, res, anchors, scope, result); err != nil {
		return nil, err
	}

	log.Info().
		Str("resource", res.Name).
		Str("outcome", string(result.Outcome)).
		Msg("resource reconciled")
	return result, nil
}

// converge runs the standard classify-then-mutate path and returns the
// resulting outcome.
func (e *Engine) converge(ctx context.Context, res *manifest.Resource, anchors queries.AnchorSet, scope *vars.Scope) (Outcome, error) {
	existsDef, hasExists := anchors.Get(queries.KindExists)
	checkDef, hasCheck := anchors.Get(queries.KindStateCheck)
	createDef, hasCreate := anchors.Get(queries.KindCreate)

	if !hasCreate || (!hasExists && !hasCheck) {
		return OutcomeFailed, newError(ErrKindMissingAnchor, res.Name,
			errMissingStandardAnchors)
	}

	// In a dry run the probes are still informative, but a missing
	// create-time dependency (an export from an unexecuted upstream
	// mutation) would make them unreliable. Assume creation.
	if e.dryRun {
		query, err := e.render(res.Name, createDef, scope)
		if err != nil {
			return OutcomeFailed, err
		}
		log.Info().
			Str("resource", res.Name).
			Msg("dry run, would create:\n" + query)
		return OutcomeCreated, nil
	}

	probeDef := existsDef
	if !hasExists {
		probeDef = checkDef
	}
	present, _, err := e.probe(ctx, res.Name, probeDef, scope)
	if err != nil {
		return OutcomeFailed, err
	}

	// A statecheck probe that holds means the resource exists in its
	// desired state.
	if present && probeDef.Kind == queries.KindStateCheck {
		return OutcomeSkipped, nil
	}

	if !present {
		if err := e.mutate(ctx, res.Name, createDef, scope); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeCreated, nil
	}

	// The resource exists. Decide between skip and update on the
	// statecheck predicate when one is configured.
	if hasCheck {
		desired, _, err := e.probe(ctx, res.Name, checkDef, scope)
		if err != nil {
			return OutcomeFailed, err
		}
		if desired {
			return OutcomeSkipped, nil
		}
	} else {
		// Without a statecheck, existence is the only observable
		// property, and it holds.
		return OutcomeSkipped, nil
	}

	updateDef, hasUpdate := anchors.Get(queries.KindUpdate)
	if !hasUpdate {
		log.Warn().
			Str("resource", res.Name).
			Msg("resource is not in its desired state and no update query is defined")
		return OutcomeSkipped, nil
	}
	if err := e.mutate(ctx, res.Name, updateDef, scope); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeUpdated, nil
}

// mutate renders and executes a mutation anchor, or only renders it in a
// dry run.
func (e *Engine) mutate(ctx context.Context, resource string, def queries.AnchorDef, scope *vars.Scope) error {
	query, err := e.render(resource, def, scope)
	if err != nil {
		return err
	}
	if e.dryRun {
		log.Info().
			Str("resource", resource).
			Str("anchor", string(def.Kind)).
			Msg("dry run, would execute:\n" + query)
		return nil
	}
	log.Info().
		Str("resource", resource).
		Str("anchor", string(def.Kind)).
		Msg("executing mutation")
	_, err = e.execute(ctx, resource, def.Kind, query)
	return err
}
