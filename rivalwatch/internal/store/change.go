package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/classify"
)

const changeColumns = `id, target_id, owner_id, target_name, url, previous_snapshot_id,
	current_snapshot_id, detected_at, severity, summary, details, impact_areas, degraded`

// InsertChangeEvent records a change event.
func (s *Store) InsertChangeEvent(ctx context.Context, ev *ChangeEvent) error {
	return insertChangeEvent(ctx, s.DB, ev)
}

func insertChangeEvent(ctx context.Context, q querier, ev *ChangeEvent) error {
	if ev.ImpactAreas == nil {
		ev.ImpactAreas = []string{}
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO change_events (`+changeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TargetID, ev.OwnerID, ev.TargetName, ev.URL, ev.PreviousSnapshotID,
		ev.CurrentSnapshotID, ev.DetectedAt, string(ev.Severity), ev.Summary, ev.Details,
		encodeJSON(ev.ImpactAreas, "[]"), ev.Degraded,
	)
	return wrap("insert change event", err)
}

// GetChangeEvent returns a change event by ID, or nil.
func (s *Store) GetChangeEvent(ctx context.Context, id string) (*ChangeEvent, error) {
	ev, err := scanChange(s.DB.QueryRowContext(ctx,
		`SELECT `+changeColumns+` FROM change_events WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, wrap("get change event", err)
}

// ListChangeEvents returns matching events, newest first.
func (s *Store) ListChangeEvents(ctx context.Context, f ChangeFilter) ([]*ChangeEvent, error) {
	var where []string
	var args []any
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, f.TargetID)
	}
	if rank := f.MinSeverity.Rank(); rank > 1 {
		where = append(where,
			"(CASE severity WHEN 'critical' THEN 3 WHEN 'major' THEN 2 ELSE 1 END) >= ?")
		args = append(args, rank)
	}
	if f.Since > 0 {
		where = append(where, "detected_at >= ?")
		args = append(args, f.Since)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + changeColumns + ` FROM change_events`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY detected_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap("list change events", err)
	}
	defer rows.Close()

	var out []*ChangeEvent
	for rows.Next() {
		ev, err := scanChange(rows)
		if err != nil {
			return nil, wrap("scan change event", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanChange(sc scanner) (*ChangeEvent, error) {
	var ev ChangeEvent
	var sev, areas string
	var degraded int
	err := sc.Scan(&ev.ID, &ev.TargetID, &ev.OwnerID, &ev.TargetName, &ev.URL,
		&ev.PreviousSnapshotID, &ev.CurrentSnapshotID, &ev.DetectedAt, &sev,
		&ev.Summary, &ev.Details, &areas, &degraded)
	if err != nil {
		return nil, err
	}
	ev.Severity = classify.Severity(sev)
	ev.ImpactAreas = decodeList(areas)
	ev.Degraded = degraded != 0
	return &ev, nil
}
