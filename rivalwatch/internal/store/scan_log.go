package store

import "context"

// InsertScanLog records a scan attempt.
func (s *Store) InsertScanLog(ctx context.Context, e *ScanLogEntry) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO scan_log (id, target_id, status, stage, snapshot_id, change_id,
		error_message, duration_ms, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TargetID, e.Status, e.Stage, e.SnapshotID, e.ChangeID,
		e.ErrorMessage, e.DurationMs, e.ScannedAt,
	)
	return wrap("insert scan log", err)
}

// ScanHistory returns the target's scan attempts, newest first.
func (s *Store) ScanHistory(ctx context.Context, targetID string, limit int) ([]*ScanLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, target_id, status, stage, snapshot_id, change_id,
		error_message, duration_ms, scanned_at
		FROM scan_log WHERE target_id = ?
		ORDER BY scanned_at DESC, rowid DESC LIMIT ?`, targetID, limit)
	if err != nil {
		return nil, wrap("scan history", err)
	}
	defer rows.Close()

	var out []*ScanLogEntry
	for rows.Next() {
		var e ScanLogEntry
		if err := rows.Scan(&e.ID, &e.TargetID, &e.Status, &e.Stage, &e.SnapshotID,
			&e.ChangeID, &e.ErrorMessage, &e.DurationMs, &e.ScannedAt); err != nil {
			return nil, wrap("scan log row", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
