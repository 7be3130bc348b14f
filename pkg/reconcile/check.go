package reconcile

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/deployql/deployql/pkg/manifest"
	"github.com/deployql/deployql/pkg/queries"
	"github.com/deployql/deployql/pkg/vars"
)

// Check observes one resource without mutating it. It reports
// OutcomeSkipped when the resource is in its desired state, OutcomeAbsent
// when it does not exist, and OutcomeDrifted when it exists in an
// undesired state. Exports are still collected for resources in their
// desired state so that downstream checks can render.
func (e *Engine) Check(ctx context.Context, res *manifest.Resource, anchors queries.AnchorSet, scope *vars.Scope) (*Result, error) {
	result := &Result{Resource: res.Name}

	checkDef, hasCheck := anchors.Get(queries.KindStateCheck)
	existsDef, hasExists := anchors.Get(queries.KindExists)
	if !hasCheck && !hasExists {
		return nil, newError(ErrKindMissingAnchor, res.Name,
			errors.New("resource defines neither a statecheck nor an exists query"))
	}

	probeDef := checkDef
	if !hasCheck {
		probeDef = existsDef
	}

	attempts, err := e.verify(ctx, res.Name, probeDef, scope)
	result.Attempts = attempts
	if err != nil {
		if !IsStateExhausted(err) {
			return nil, err
		}
		// The desired-state predicate never held. Distinguish a missing
		// resource from a drifted one when an exists probe is available.
		var rerr *Error
		if errors.As(err, &rerr) {
			result.LastPayload = rerr.LastPayload
		}
		result.Outcome = OutcomeDrifted
		if hasCheck && hasExists {
			present, _, perr := e.probe(ctx, res.Name, existsDef, scope)
			if perr != nil {
				return nil, perr
			}
			if !present {
				result.Outcome = OutcomeAbsent
			}
		} else if !hasCheck {
			// The exists probe itself failed, so the resource is gone.
			result.Outcome = OutcomeAbsent
		}
		log.Warn().
			Str("resource", res.Name).
			Str("outcome", string(result.Outcome)).
			Msg("resource check failed")
		return result, nil
	}

	result.Outcome = OutcomeSkipped
	if err := e.collectExports(ctx, res, anchors, scope, result); err != nil {
		return nil, err
	}
	log.Info().
		Str("resource", res.Name).
		Msg("resource is in its desired state")
	return result, nil
}
