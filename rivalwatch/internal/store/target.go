package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/rivalwatch/dbopen"
)

// DefaultScanInterval is 24 hours in milliseconds.
const DefaultScanInterval int64 = 24 * 60 * 60 * 1000

const targetColumns = `id, owner_id, name, url, scan_interval, enabled, technologies,
	changes_count, last_scan_at, last_attempt_at, last_status, last_error, fail_count,
	created_at, updated_at`

// InsertTarget registers a target. A second target with the same owner and
// URL fails with ErrDuplicate.
func (s *Store) InsertTarget(ctx context.Context, t *Target) error {
	now := time.Now().UnixMilli()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = now
	}
	if t.ScanInterval == 0 {
		t.ScanInterval = DefaultScanInterval
	}
	if t.LastStatus == "" {
		t.LastStatus = StatusPending
	}
	if t.Technologies == nil {
		t.Technologies = []string{}
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO targets (`+targetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Name, t.URL, t.ScanInterval, t.Enabled,
		encodeJSON(t.Technologies, "[]"), t.ChangesCount, t.LastScanAt, t.LastAttemptAt,
		t.LastStatus, t.LastError, t.FailCount, t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicate, t.URL)
	}
	return wrap("insert target", err)
}

// GetTarget returns a target by ID, or nil if it does not exist.
func (s *Store) GetTarget(ctx context.Context, id string) (*Target, error) {
	return getTarget(ctx, s.DB, id)
}

func getTarget(ctx context.Context, q querier, id string) (*Target, error) {
	row := q.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = ?`, id)
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, wrap("get target", err)
}

// GetTargetByURL returns the owner's target for url, or nil.
func (s *Store) GetTargetByURL(ctx context.Context, ownerID, url string) (*Target, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE owner_id = ? AND url = ?`, ownerID, url)
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, wrap("get target by url", err)
}

// ListTargets returns the owner's targets, oldest first. An empty owner
// lists every target.
func (s *Store) ListTargets(ctx context.Context, ownerID string) ([]*Target, error) {
	q := `SELECT ` + targetColumns + ` FROM targets`
	var args []any
	if ownerID != "" {
		q += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	q += ` ORDER BY created_at ASC, rowid ASC`
	return s.queryTargets(ctx, q, args...)
}

// DueTargets returns enabled targets whose interval has elapsed since the
// last attempt and whose consecutive failures are below maxFailCount.
// Never-scanned targets come first.
func (s *Store) DueTargets(ctx context.Context, maxFailCount int) ([]*Target, error) {
	now := time.Now().UnixMilli()
	return s.queryTargets(ctx,
		`SELECT `+targetColumns+` FROM targets
		WHERE enabled = 1
		  AND fail_count < ?
		  AND (last_attempt_at IS NULL OR last_attempt_at + scan_interval <= ?)
		ORDER BY last_attempt_at ASC NULLS FIRST`, maxFailCount, now)
}

func (s *Store) queryTargets(ctx context.Context, q string, args ...any) ([]*Target, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap("query targets", err)
	}
	defer rows.Close()

	var targets []*Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, wrap("scan target", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// UpdateTargetScan marks a successful scan: last_scan_at and technologies
// are replaced and the failure streak is cleared.
func (s *Store) UpdateTargetScan(ctx context.Context, id string, scannedAt int64, technologies []string) error {
	return updateTargetScan(ctx, s.DB, id, scannedAt, technologies)
}

func updateTargetScan(ctx context.Context, q querier, id string, scannedAt int64, technologies []string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE targets SET last_scan_at = ?, last_attempt_at = ?, technologies = ?,
		last_status = 'ok', last_error = '', fail_count = 0, updated_at = ?
		WHERE id = ?`,
		scannedAt, scannedAt, encodeJSON(technologies, "[]"), time.Now().UnixMilli(), id)
	if err != nil {
		return wrap("update target scan", err)
	}
	return expectOne(res, "update target scan", id)
}

// IncrementChangeCount adds one to the target's change counter.
func (s *Store) IncrementChangeCount(ctx context.Context, id string) error {
	return incrementChangeCount(ctx, s.DB, id)
}

func incrementChangeCount(ctx context.Context, q querier, id string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE targets SET changes_count = changes_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return wrap("increment change count", err)
	}
	return expectOne(res, "increment change count", id)
}

// RecordScanError records a failed attempt without touching last_scan_at or
// technologies.
func (s *Store) RecordScanError(ctx context.Context, id, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE targets SET last_attempt_at = ?, last_status = 'error', last_error = ?,
		fail_count = fail_count + 1, updated_at = ?
		WHERE id = ?`, now, errMsg, now, id)
	return wrap("record scan error", err)
}

// SetTargetEnabled enables or disables scheduled scans. Enabling also clears
// the failure streak so the scheduler picks the target up again.
func (s *Store) SetTargetEnabled(ctx context.Context, id string, enabled bool) error {
	q := `UPDATE targets SET enabled = ?, updated_at = ? WHERE id = ?`
	if enabled {
		q = `UPDATE targets SET enabled = ?, fail_count = 0, updated_at = ? WHERE id = ?`
	}
	res, err := s.DB.ExecContext(ctx, q, enabled, time.Now().UnixMilli(), id)
	if err != nil {
		return wrap("set target enabled", err)
	}
	return expectOne(res, "set target enabled", id)
}

// SetScanInterval changes how often the scheduler scans the target.
func (s *Store) SetScanInterval(ctx context.Context, id string, intervalMs int64) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE targets SET scan_interval = ?, updated_at = ? WHERE id = ?`,
		intervalMs, time.Now().UnixMilli(), id)
	if err != nil {
		return wrap("set scan interval", err)
	}
	return expectOne(res, "set scan interval", id)
}

// DeleteTarget removes a target with its snapshots, change events and scan
// log in one transaction.
func (s *Store) DeleteTarget(ctx context.Context, id string) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM change_events WHERE target_id = ?`,
			`DELETE FROM scan_log WHERE target_id = ?`,
			`DELETE FROM snapshots WHERE target_id = ?`,
			`DELETE FROM targets WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return wrap("delete target", err)
			}
		}
		return nil
	})
}

func scanTarget(sc scanner) (*Target, error) {
	var t Target
	var enabled int
	var techs string
	err := sc.Scan(
		&t.ID, &t.OwnerID, &t.Name, &t.URL, &t.ScanInterval, &enabled, &techs,
		&t.ChangesCount, &t.LastScanAt, &t.LastAttemptAt, &t.LastStatus, &t.LastError,
		&t.FailCount, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Enabled = enabled != 0
	t.Technologies = decodeList(techs)
	return &t, nil
}

func expectOne(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s %s: %w", op, id, ErrNotFound)
	}
	return nil
}

// CountTargets returns how many targets the owner has.
func (s *Store) CountTargets(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM targets WHERE owner_id = ?`, ownerID).Scan(&n)
	return n, wrap("count targets", err)
}
