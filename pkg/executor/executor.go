// Package executor defines the query execution boundary of the
// reconciliation engine and provides its two implementations: a Postgres
// wire-protocol client for a running StackQL server, and a scripted fake for
// tests.
//
// The engine treats execution as opaque: it sees ordered rows of
// column-to-text mappings, or an error. It never inspects the transport.
package executor

import "context"

// Row is a single result row, column name to text value.
type Row map[string]string

// Executor executes one rendered query against the external query engine.
// Calls are blocking; implementations must honor context cancellation.
type Executor interface {
	Execute(ctx context.Context, query string) ([]Row, error)
}
