// Package observability records domain-level business events (scans
// completed, changes recorded, scans failed) in SQLite next to the data they
// describe. Writes never block or fail the caller.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/rivalwatch/idgen"
)

// BusinessEvent is one domain-level event.
type BusinessEvent struct {
	EventType   string
	ServiceName string
	EntityType  string
	EntityID    string
	UserID      string
	Action      string
	Details     map[string]any
	Success     bool
}

// RecordedEvent is a BusinessEvent read back from the table.
type RecordedEvent struct {
	ID         string
	EventType  string
	EntityType string
	EntityID   string
	UserID     string
	Action     string
	Details    string
	Success    bool
	CreatedAt  time.Time
}

// EventLogger writes business events.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets the generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithLogger sets the slog logger used to report write failures.
func WithLogger(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger creates a logger backed by db. A nil *EventLogger is valid
// and discards every event.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a business event. Errors are logged, never returned.
func (l *EventLogger) LogEvent(ctx context.Context, event BusinessEvent) {
	if l == nil || l.db == nil {
		return
	}
	var details any
	if len(event.Details) > 0 {
		b, err := json.Marshal(event.Details)
		if err == nil {
			details = string(b)
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (
			event_id, event_type, service_name, entity_type, entity_id,
			user_id, action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.ServiceName, event.EntityType, event.EntityID,
		event.UserID, event.Action, details, event.Success, time.Now().Unix())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", event.EventType)
	}
}

// Recent returns the latest events, newest first. An empty eventType
// matches every type.
func (l *EventLogger) Recent(ctx context.Context, eventType string, limit int) ([]RecordedEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT event_id, event_type, COALESCE(entity_type,''), COALESCE(entity_id,''),
		COALESCE(user_id,''), action, COALESCE(details,''), success, created_at
		FROM business_event_logs`
	args := []any{}
	if eventType != "" {
		q += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: recent: %w", err)
	}
	defer rows.Close()

	var out []RecordedEvent
	for rows.Next() {
		var e RecordedEvent
		var created int64
		if err := rows.Scan(&e.ID, &e.EventType, &e.EntityType, &e.EntityID,
			&e.UserID, &e.Action, &e.Details, &e.Success, &created); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than days. Zero or negative keeps everything.
func Cleanup(ctx context.Context, db *sql.DB, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Unix() - int64(days*86400)
	res, err := db.ExecContext(ctx, `DELETE FROM business_event_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup: %w", err)
	}
	return res.RowsAffected()
}
