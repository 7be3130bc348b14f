package executor

import (
	"context"
	"fmt"
	"sync"
)

// Scripted is an in-memory Executor for tests. Responses are consumed in
// FIFO order, one per Execute call, and every executed query text is
// recorded.
type Scripted struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     []string
}

type scriptedResponse struct {
	rows []Row
	err  error
}

// NewScripted creates an empty scripted executor.
func NewScripted() *Scripted {
	return &Scripted{}
}

// Respond enqueues a successful response.
func (s *Scripted) Respond(rows ...Row) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, scriptedResponse{rows: rows})
	return s
}

// RespondErr enqueues an execution error.
func (s *Scripted) RespondErr(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, scriptedResponse{err: err})
	return s
}

// RespondCount enqueues a single-row response with a count column, the
// convention probe and statecheck queries use.
func (s *Scripted) RespondCount(n int) *Scripted {
	return s.Respond(Row{"count": fmt.Sprintf("%d", n)})
}

// Execute pops the next scripted response.
func (s *Scripted) Execute(ctx context.Context, query string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, query)
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("scripted executor: unexpected query %q", query)
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next.rows, next.err
}

// Calls returns every query executed so far, in order.
func (s *Scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Remaining reports how many scripted responses are still queued.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}
