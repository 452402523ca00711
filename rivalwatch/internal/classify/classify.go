// Package classify compares two versions of a page's text through a
// pluggable comparison engine and normalizes the engine's answer into a
// severity-tagged Result.
//
// Classify never fails: engine errors and unparseable answers produce the
// fallback Result, which still counts as a change.
package classify

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// Severity of a detected change.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: minor 1, major 2, critical 3, unknown 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityMinor:
		return 1
	case SeverityMajor:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// ParseSeverity lowercases and validates s. Unknown values map to minor.
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return SeverityMinor
	}
	return sev
}

// Fixed texts.
const (
	NoChangeSummary = "No significant changes detected"
	NoDetails       = "No detailed analysis available"
	FallbackSummary = "Error analyzing changes"
	FallbackDetails = "The system encountered an error while analyzing the changes."
)

// DefaultMaxChars is the per-version truncation limit, in characters.
const DefaultMaxChars = 10_000

// Result is the four-field classification plus the change decision.
type Result struct {
	Summary     string   `json:"summary"`
	Severity    Severity `json:"severity"`
	Details     string   `json:"details"`
	ImpactAreas []string `json:"impact_areas"`
	// HasChange is false when the engine found nothing worth recording.
	HasChange bool `json:"has_change"`
	// Degraded marks the fallback result.
	Degraded bool `json:"degraded,omitempty"`
}

// NoChange is the result for identical or trivially different versions.
func NoChange() Result {
	return Result{
		Summary:     NoChangeSummary,
		Severity:    SeverityMinor,
		Details:     NoDetails,
		ImpactAreas: []string{},
	}
}

// Fallback is the result used when the engine fails or answers garbage.
func Fallback() Result {
	return Result{
		Summary:     FallbackSummary,
		Severity:    SeverityMinor,
		Details:     FallbackDetails,
		ImpactAreas: []string{},
		HasChange:   true,
		Degraded:    true,
	}
}

// Classifier runs comparisons. Safe for concurrent use if the Engine is.
type Classifier struct {
	engine   Engine
	maxChars int
	logger   *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithMaxChars sets the truncation limit per version.
func WithMaxChars(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// New creates a Classifier backed by engine.
func New(engine Engine, opts ...Option) *Classifier {
	c := &Classifier{
		engine:   engine,
		maxChars: DefaultMaxChars,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify compares previous and current text of the page at url.
func (c *Classifier) Classify(ctx context.Context, previous, current, url string) Result {
	if previous == current {
		return NoChange()
	}
	prompt := BuildPrompt(url, Truncate(previous, c.maxChars), Truncate(current, c.maxChars))

	start := time.Now()
	raw, err := c.engine.Compare(ctx, prompt)
	if err != nil {
		c.logger.ErrorContext(ctx, "classify: engine call failed",
			"url", url, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return Fallback()
	}
	res, err := ParseResponse(raw)
	if err != nil {
		c.logger.WarnContext(ctx, "classify: unparseable engine response",
			"url", url, "error", err)
		return Fallback()
	}
	c.logger.DebugContext(ctx, "classify: classified",
		"url", url, "severity", res.Severity, "has_change", res.HasChange,
		"duration_ms", time.Since(start).Milliseconds())
	return res
}

// Truncate cuts s to max characters and appends "..." when it was cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
