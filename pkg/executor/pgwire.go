package executor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// Defaults for a locally running StackQL server.
const (
	DefaultHost = "localhost"
	DefaultPort = 5444
)

// Config describes the pgwire connection to the query engine.
type Config struct {
	Host     string
	Port     int
	User     string
	Database string
}

// connString builds the keyword/value connection string the server expects.
func (c Config) connString() string {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	user := c.User
	if user == "" {
		user = "stackql"
	}
	database := c.Database
	if database == "" {
		database = "stackql"
	}
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s application_name=stackql sslmode=disable",
		host, port, user, database)
}

// PgWire executes queries over a single pgwire connection.
type PgWire struct {
	conn *pgx.Conn
}

// Connect opens a pgwire connection to the query engine. The server's wire
// implementation does not support the extended protocol, so queries run in
// simple protocol mode.
func Connect(ctx context.Context, cfg Config) (*PgWire, error) {
	connCfg, err := pgx.ParseConfig(cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("executor: invalid connection config: %w", err)
	}
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("executor: connect to query engine: %w", err)
	}
	log.Debug().Str("host", connCfg.Host).Uint16("port", connCfg.Port).Msg("connected to query engine")
	return &PgWire{conn: conn}, nil
}

// Execute runs one query and returns all result rows. Statements that
// produce no row set (DML, registry commands) return an empty slice.
func (p *PgWire) Execute(ctx context.Context, query string) ([]Row, error) {
	rows, err := p.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("executor: query failed: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("executor: read row: %w", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if i >= len(values) || values[i] == nil {
				row[col] = "NULL"
				continue
			}
			row[col] = fmt.Sprintf("%v", values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("executor: query failed: %w", err)
	}
	return out, nil
}

// Close terminates the connection.
func (p *PgWire) Close(ctx context.Context) error {
	return p.conn.Close(ctx)
}
