package runner

import (
	"time"

	"github.com/deployql/deployql/pkg/reconcile"
)

// Failure describes the first resource error that ended a run.
type Failure struct {
	// Resource is the resource whose reconciliation failed.
	Resource string

	// Err is the classified reconciliation error.
	Err error
}

// RunResult aggregates the outcomes of one stack run.
type RunResult struct {
	// ID uniquely identifies the run.
	ID string

	// Stack is the manifest's stack name.
	Stack string

	// Mode is the run mode.
	Mode Mode

	// Results holds per-resource outcomes in processing order. On a failed
	// run it covers the resources processed before the failure.
	Results []*reconcile.Result

	// Failure is set when the run ended on a resource error.
	Failure *Failure

	// Duration is the wall-clock time of the run.
	Duration time.Duration
}

// Succeeded reports whether every resource reached a terminal outcome
// without error.
func (r *RunResult) Succeeded() bool { return r.Failure == nil }

// Drifted counts check-mode resources found outside their desired state,
// including absent ones.
func (r *RunResult) Drifted() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == reconcile.OutcomeDrifted || res.Outcome == reconcile.OutcomeAbsent {
			n++
		}
	}
	return n
}

// Outcome returns the outcome recorded for a resource, or "" when the
// resource was not processed.
func (r *RunResult) Outcome(resource string) reconcile.Outcome {
	for _, res := range r.Results {
		if res.Resource == resource {
			return res.Outcome
		}
	}
	return ""
}

func (r *RunResult) add(res *reconcile.Result) {
	r.Results = append(r.Results, res)
}

func (r *RunResult) fail(resource string, err error) {
	r.Failure = &Failure{Resource: resource, Err: err}
	r.Results = append(r.Results, &reconcile.Result{
		Resource: resource,
		Outcome:  reconcile.OutcomeFailed,
	})
}
