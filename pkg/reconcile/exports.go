package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/deployql/deployql/pkg/manifest"
	"github.com/deployql/deployql/pkg/queries"
	"github.com/deployql/deployql/pkg/vars"
)

var errMissingStandardAnchors = errors.New(
	"resource defines neither a createorupdate query nor a create query with an exists or statecheck probe")

// maskedValue replaces protected export values in human-facing output.
const maskedValue = "****"

// CollectExportsInto runs the resource's exports query and merges the
// declared values straight into the variable context, without reconciling
// the resource. Teardown uses this to keep upstream outputs renderable
// during the reverse walk.
func (e *Engine) CollectExportsInto(ctx context.Context, res *manifest.Resource, anchors queries.AnchorSet, scope *vars.Scope, vctx *vars.Context) error {
	result := &Result{Resource: res.Name}
	if err := e.collectExports(ctx, res, anchors, scope, result); err != nil {
		return err
	}
	for name, value := range result.Exports {
		vctx.Export(name, value)
	}
	return nil
}

// collectExports runs the resource's exports query, if any, and records the
// declared export values on the result. In a dry run the values are
// placeholders, since upstream mutations never executed.
func (e *Engine) collectExports(ctx context.Context, res *manifest.Resource, anchors queries.AnchorSet, scope *vars.Scope, result *Result) error {
	if len(res.Exports) == 0 {
		return nil
	}
	def, ok := anchors.Get(queries.KindExports)
	if !ok {
		return newError(ErrKindMissingAnchor, res.Name,
			fmt.Errorf("resource declares exports %v but defines no exports query", res.Exports))
	}

	result.Exports = make(map[string]vars.Value, len(res.Exports))
	for _, name := range res.Exports {
		if res.IsProtected(name) {
			result.Protected = append(result.Protected, name)
		}
	}

	if e.dryRun {
		for _, name := range res.Exports {
			result.Exports[name] = vars.NewString(dryRunPlaceholder)
		}
		return nil
	}

	query, err := e.render(res.Name, def, scope)
	if err != nil {
		return err
	}
	rows, err := e.execute(ctx, res.Name, def.Kind, query)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return newError(ErrKindExecution, res.Name,
			errors.New("exports query returned no rows")).WithAnchor(queries.KindExports)
	}
	row := rows[0]

	for _, name := range res.Exports {
		raw, ok := row[name]
		if !ok {
			log.Warn().
				Str("resource", res.Name).
				Str("export", name).
				Msg("declared export missing from exports query result")
			continue
		}
		result.Exports[name] = vars.NewString(raw)
		shown := raw
		if res.IsProtected(name) {
			shown = maskedValue
		}
		log.Debug().
			Str("resource", res.Name).
			Str("export", name).
			Str("value", shown).
			Msg("export collected")
	}
	return nil
}
