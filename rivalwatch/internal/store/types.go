package store

import "github.com/hazyhaar/rivalwatch/rivalwatch/internal/classify"

// Target last_status values.
const (
	StatusPending = "pending"
	StatusOK      = "ok"
	StatusError   = "error"
)

// Target is a monitored competitor page.
type Target struct {
	ID            string   `json:"id"`
	OwnerID       string   `json:"owner_id"`
	Name          string   `json:"name"`
	URL           string   `json:"url"`
	ScanInterval  int64    `json:"scan_interval"` // ms
	Enabled       bool     `json:"enabled"`
	Technologies  []string `json:"technologies"`
	ChangesCount  int      `json:"changes_count"`
	LastScanAt    *int64   `json:"last_scan_at,omitempty"`
	LastAttemptAt *int64   `json:"last_attempt_at,omitempty"`
	LastStatus    string   `json:"last_status"`
	LastError     string   `json:"last_error"`
	FailCount     int      `json:"fail_count"`
	CreatedAt     int64    `json:"created_at"`
	UpdatedAt     int64    `json:"updated_at"`
}

// Snapshot is one immutable capture of a target.
type Snapshot struct {
	ID           string            `json:"id"`
	TargetID     string            `json:"target_id"`
	CapturedAt   int64             `json:"captured_at"`
	HTML         string            `json:"html,omitempty"`
	Text         string            `json:"text"`
	Title        string            `json:"title"`
	Metadata     map[string]string `json:"metadata"`
	Technologies []string          `json:"technologies"`
	Markdown     string            `json:"markdown,omitempty"`
	ContentHash  string            `json:"content_hash"`
}

// ChangeEvent is a classified difference between two snapshots.
type ChangeEvent struct {
	ID                 string            `json:"id"`
	TargetID           string            `json:"target_id"`
	OwnerID            string            `json:"owner_id"`
	TargetName         string            `json:"target_name"`
	URL                string            `json:"url"`
	PreviousSnapshotID string            `json:"previous_snapshot_id"`
	CurrentSnapshotID  string            `json:"current_snapshot_id"`
	DetectedAt         int64             `json:"detected_at"`
	Severity           classify.Severity `json:"severity"`
	Summary            string            `json:"summary"`
	Details            string            `json:"details"`
	ImpactAreas        []string          `json:"impact_areas"`
	Degraded           bool              `json:"degraded,omitempty"`
}

// Scan log statuses.
const (
	ScanOK         = "ok"
	ScanUnchanged  = "unchanged"
	ScanFirst      = "first"
	ScanError      = "error"
	ScanFetchError = "fetch_error"
	ScanStoreError = "store_error"
)

// ScanLogEntry records one scan attempt.
type ScanLogEntry struct {
	ID           string `json:"id"`
	TargetID     string `json:"target_id"`
	Status       string `json:"status"`
	Stage        string `json:"stage"`
	SnapshotID   string `json:"snapshot_id,omitempty"`
	ChangeID     string `json:"change_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	ScannedAt    int64  `json:"scanned_at"`
}

// ChangeFilter selects change events. Zero fields match everything.
type ChangeFilter struct {
	OwnerID     string
	TargetID    string
	MinSeverity classify.Severity
	Since       int64 // ms, inclusive
	Limit       int   // default 50
}
