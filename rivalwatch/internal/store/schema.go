package store

import "database/sql"

// Schema is the rivalwatch schema. Times are unix milliseconds; sets and
// maps are JSON text.
const Schema = `
CREATE TABLE IF NOT EXISTS targets (
    id              TEXT PRIMARY KEY,
    owner_id        TEXT NOT NULL,
    name            TEXT NOT NULL,
    url             TEXT NOT NULL,
    scan_interval   INTEGER NOT NULL DEFAULT 86400000,
    enabled         INTEGER NOT NULL DEFAULT 1,
    technologies    TEXT NOT NULL DEFAULT '[]',
    changes_count   INTEGER NOT NULL DEFAULT 0,
    last_scan_at    INTEGER,
    last_attempt_at INTEGER,
    last_status     TEXT NOT NULL DEFAULT 'pending',
    last_error      TEXT NOT NULL DEFAULT '',
    fail_count      INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_targets_owner_url ON targets(owner_id, url);
CREATE INDEX IF NOT EXISTS idx_targets_due ON targets(enabled, last_attempt_at);

CREATE TABLE IF NOT EXISTS snapshots (
    id            TEXT PRIMARY KEY,
    target_id     TEXT NOT NULL REFERENCES targets(id),
    captured_at   INTEGER NOT NULL,
    html          TEXT NOT NULL,
    text          TEXT NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    metadata      TEXT NOT NULL DEFAULT '{}',
    technologies  TEXT NOT NULL DEFAULT '[]',
    markdown      TEXT NOT NULL DEFAULT '',
    content_hash  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_snapshots_target_time ON snapshots(target_id, captured_at DESC);

CREATE TABLE IF NOT EXISTS change_events (
    id                    TEXT PRIMARY KEY,
    target_id             TEXT NOT NULL REFERENCES targets(id),
    owner_id              TEXT NOT NULL,
    target_name           TEXT NOT NULL DEFAULT '',
    url                   TEXT NOT NULL DEFAULT '',
    previous_snapshot_id  TEXT NOT NULL REFERENCES snapshots(id),
    current_snapshot_id   TEXT NOT NULL REFERENCES snapshots(id),
    detected_at           INTEGER NOT NULL,
    severity              TEXT NOT NULL CHECK(severity IN ('minor', 'major', 'critical')),
    summary               TEXT NOT NULL,
    details               TEXT NOT NULL DEFAULT '',
    impact_areas          TEXT NOT NULL DEFAULT '[]',
    degraded              INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_changes_owner_time ON change_events(owner_id, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_changes_target_time ON change_events(target_id, detected_at DESC);

CREATE TABLE IF NOT EXISTS scan_log (
    id             TEXT PRIMARY KEY,
    target_id      TEXT NOT NULL,
    status         TEXT NOT NULL,
    stage          TEXT NOT NULL DEFAULT '',
    snapshot_id    TEXT NOT NULL DEFAULT '',
    change_id      TEXT NOT NULL DEFAULT '',
    error_message  TEXT NOT NULL DEFAULT '',
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    scanned_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_log_target ON scan_log(target_id, scanned_at DESC);
`

// ApplySchema creates the rivalwatch tables if they don't exist.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
