package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/rivalwatch/dbopen"
)

// Schema defines the routes table. Each row maps a service name to a
// dispatch strategy:
//   - "local": the handler registered with RegisterLocal.
//   - "http":  the HTTP transport factory, POSTing to endpoint.
//   - "noop":  succeed with an empty response.
//
// config holds per-route JSON (timeout_ms, max_retries, backoff_ms,
// content_type). Any write bumps PRAGMA data_version, which Watch polls.
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
    service_name TEXT PRIMARY KEY,
    strategy     TEXT NOT NULL CHECK(strategy IN ('local', 'http', 'noop')),
    endpoint     TEXT,
    config       TEXT DEFAULT '{}',
    updated_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
`

// OpenDB opens a routes database at path with the usual pragmas and the
// routes schema applied.
func OpenDB(path string) (*sql.DB, error) {
	return dbopen.Open(path, dbopen.WithBusyTimeout(5000), dbopen.WithSchema(Schema))
}

// Init creates the routes table if it doesn't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// SetRoute upserts a route. A nil config is stored as "{}".
func SetRoute(ctx context.Context, db *sql.DB, service, strategy, endpoint string, config json.RawMessage) error {
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO routes (service_name, strategy, endpoint, config)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(service_name) DO UPDATE SET
			strategy = excluded.strategy,
			endpoint = excluded.endpoint,
			config = excluded.config,
			updated_at = strftime('%s', 'now')`,
		service, strategy, endpoint, string(config))
	if err != nil {
		return fmt.Errorf("connectivity: set route %s: %w", service, err)
	}
	return nil
}

// DeleteRoute removes a route. Deleting a missing route is not an error.
func DeleteRoute(ctx context.Context, db *sql.DB, service string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM routes WHERE service_name = ?`, service); err != nil {
		return fmt.Errorf("connectivity: delete route %s: %w", service, err)
	}
	return nil
}
