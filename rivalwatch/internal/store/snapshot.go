package store

import (
	"context"
	"database/sql"
)

const snapshotColumns = `id, target_id, captured_at, html, text, title, metadata,
	technologies, markdown, content_hash`

// InsertSnapshot appends a snapshot.
func (s *Store) InsertSnapshot(ctx context.Context, snap *Snapshot) error {
	return insertSnapshot(ctx, s.DB, snap)
}

func insertSnapshot(ctx context.Context, q querier, snap *Snapshot) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.TargetID, snap.CapturedAt, snap.HTML, snap.Text, snap.Title,
		encodeJSON(snap.Metadata, "{}"), encodeJSON(snap.Technologies, "[]"),
		snap.Markdown, snap.ContentHash,
	)
	return wrap("insert snapshot", err)
}

// GetSnapshot returns a snapshot by ID, or nil.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	return s.oneSnapshot(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
}

// LatestSnapshot returns the target's current snapshot: the latest by
// captured_at, ties broken by insertion order. Nil when there is none.
func (s *Store) LatestSnapshot(ctx context.Context, targetID string) (*Snapshot, error) {
	return s.oneSnapshot(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE target_id = ?
		ORDER BY captured_at DESC, rowid DESC LIMIT 1`, targetID)
}

// PreviousSnapshot returns the snapshot of the same target immediately
// before currentID, or nil when currentID is the first one.
func (s *Store) PreviousSnapshot(ctx context.Context, targetID, currentID string) (*Snapshot, error) {
	return s.oneSnapshot(ctx,
		`SELECT s.id, s.target_id, s.captured_at, s.html, s.text, s.title, s.metadata,
			s.technologies, s.markdown, s.content_hash
		FROM snapshots s,
			(SELECT captured_at AS at, rowid AS rid FROM snapshots WHERE id = ?) cur
		WHERE s.target_id = ?
		  AND s.id != ?
		  AND (s.captured_at < cur.at OR (s.captured_at = cur.at AND s.rowid < cur.rid))
		ORDER BY s.captured_at DESC, s.rowid DESC LIMIT 1`,
		currentID, targetID, currentID)
}

// ListSnapshots returns the target's snapshots, newest first, without the
// raw HTML and markdown.
func (s *Store) ListSnapshots(ctx context.Context, targetID string, limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, target_id, captured_at, '', text, title, metadata,
			technologies, '', content_hash
		FROM snapshots WHERE target_id = ?
		ORDER BY captured_at DESC, rowid DESC LIMIT ?`, targetID, limit)
	if err != nil {
		return nil, wrap("list snapshots", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, wrap("scan snapshot", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) oneSnapshot(ctx context.Context, q string, args ...any) (*Snapshot, error) {
	snap, err := scanSnapshot(s.DB.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return snap, wrap("get snapshot", err)
}

func scanSnapshot(sc scanner) (*Snapshot, error) {
	var snap Snapshot
	var meta, techs string
	err := sc.Scan(&snap.ID, &snap.TargetID, &snap.CapturedAt, &snap.HTML, &snap.Text,
		&snap.Title, &meta, &techs, &snap.Markdown, &snap.ContentHash)
	if err != nil {
		return nil, err
	}
	snap.Metadata = decodeMap(meta)
	snap.Technologies = decodeList(techs)
	return &snap, nil
}
