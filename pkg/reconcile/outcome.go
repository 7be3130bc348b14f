package reconcile

import (
	"fmt"

	"github.com/deployql/deployql/pkg/executor"
	"github.com/deployql/deployql/pkg/vars"
)

// Outcome is the terminal disposition of a single resource within a run.
type Outcome string

const (
	// OutcomeCreated indicates the resource was absent and a create (or
	// createorupdate) mutation was issued.
	OutcomeCreated Outcome = "created"

	// OutcomeUpdated indicates the resource existed in an undesired state
	// and an update mutation was issued.
	OutcomeUpdated Outcome = "updated"

	// OutcomeSkipped indicates the resource was already in its desired
	// state and no mutation was issued.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeDeleted indicates the resource was removed, or was already
	// absent, during teardown.
	OutcomeDeleted Outcome = "deleted"

	// OutcomeDrifted indicates a check-mode resource exists but does not
	// match its desired state.
	OutcomeDrifted Outcome = "drifted"

	// OutcomeAbsent indicates a check-mode resource does not exist.
	OutcomeAbsent Outcome = "absent"

	// OutcomeFailed indicates reconciliation terminated with an error.
	OutcomeFailed Outcome = "failed"
)

// Validate returns an error if the outcome is not a known value.
func (o Outcome) Validate() error {
	switch o {
	case OutcomeCreated, OutcomeUpdated, OutcomeSkipped, OutcomeDeleted,
		OutcomeDrifted, OutcomeAbsent, OutcomeFailed:
		return nil
	}
	return fmt.Errorf("invalid outcome: %s", o)
}

// Mutated reports whether the outcome involved a mutation of the target
// resource.
func (o Outcome) Mutated() bool {
	return o == OutcomeCreated || o == OutcomeUpdated || o == OutcomeDeleted
}

// Result describes how a single resource was reconciled.
type Result struct {
	// Resource is the resource name from the manifest.
	Resource string

	// Outcome is the terminal disposition.
	Outcome Outcome

	// Attempts is the number of state verification queries issued.
	Attempts int

	// Exports holds the values this resource contributed for downstream
	// resources. Keys are export names as declared in the manifest.
	Exports map[string]vars.Value

	// Protected lists the export names whose values must be masked in any
	// human-facing output.
	Protected []string

	// LastPayload is the final observed result set when verification was
	// exhausted, retained for diagnosis.
	LastPayload []executor.Row
}
