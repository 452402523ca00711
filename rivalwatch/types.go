// Package rivalwatch monitors competitor web pages. It fetches each page,
// extracts its text, metadata and technology stack, compares it with the
// previous capture through a pluggable comparison engine, and records a
// severity-tagged change event when something meaningful moved.
package rivalwatch

import (
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/classify"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/store"
)

// Re-export store and classifier types for the public API.
type (
	Target       = store.Target
	Snapshot     = store.Snapshot
	ChangeEvent  = store.ChangeEvent
	ScanLogEntry = store.ScanLogEntry
	ChangeFilter = store.ChangeFilter
	Severity     = classify.Severity
	Analysis     = classify.Result
)

// Severities, lowest first.
const (
	SeverityMinor    = classify.SeverityMinor
	SeverityMajor    = classify.SeverityMajor
	SeverityCritical = classify.SeverityCritical
)

// ParseSeverity maps user input to a Severity. Unknown values are minor.
func ParseSeverity(s string) Severity { return classify.ParseSeverity(s) }

// ScanResult is the outcome of a triggered scan.
type ScanResult struct {
	Success    bool         `json:"success"`
	Status     string       `json:"status"`
	SnapshotID string       `json:"snapshot_id"`
	Change     *ChangeEvent `json:"change"`
	Analysis   *Analysis    `json:"analysis,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}
