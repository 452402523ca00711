// Package pipeline runs one scan of a competitor page: fetch, extract,
// persist the snapshot, compare it with the previous one and record the
// resulting change event.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/rivalwatch/extract"
	"github.com/hazyhaar/rivalwatch/idgen"
	"github.com/hazyhaar/rivalwatch/observability"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/classify"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/fetch"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/store"
)

// Stage names a step of a scan.
type Stage string

const (
	StageLoadingTarget      Stage = "LOADING_TARGET"
	StageFetching           Stage = "FETCHING"
	StageExtracting         Stage = "EXTRACTING"
	StagePersistingSnapshot Stage = "PERSISTING_SNAPSHOT"
	StageUpdatingTarget     Stage = "UPDATING_TARGET"
	StageLoadingPrevious    Stage = "LOADING_PREVIOUS"
	StageClassifying        Stage = "CLASSIFYING"
	StageRecording          Stage = "RECORDING"
	StageDone               Stage = "DONE"
)

// Business event types.
const (
	EventScanCompleted  = "scan_completed"
	EventChangeRecorded = "change_recorded"
	EventScanFailed     = "scan_failed"
)

// Fetcher retrieves a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Result, error)
}

// Extractor turns markup into structured content.
type Extractor interface {
	ExtractPage(markup, pageURL string) (*extract.Content, error)
}

// Classifier compares two versions of a page's text.
type Classifier interface {
	Classify(ctx context.Context, previous, current, url string) classify.Result
}

// TargetStore reads targets and records failed attempts.
type TargetStore interface {
	GetTarget(ctx context.Context, id string) (*store.Target, error)
	RecordScanError(ctx context.Context, id, errMsg string) error
}

// SnapshotStore persists a snapshot together with the target update, and
// finds the snapshot before a given one.
type SnapshotStore interface {
	RecordScan(ctx context.Context, snap *store.Snapshot) error
	PreviousSnapshot(ctx context.Context, targetID, currentID string) (*store.Snapshot, error)
}

// ChangeStore persists a change event together with the counter increment.
type ChangeStore interface {
	RecordChange(ctx context.Context, ev *store.ChangeEvent) error
}

// ScanLog records scan attempts.
type ScanLog interface {
	InsertScanLog(ctx context.Context, e *store.ScanLogEntry) error
}

// Store is everything the pipeline persists through. *store.Store
// satisfies it.
type Store interface {
	TargetStore
	SnapshotStore
	ChangeStore
	ScanLog
}

// Job asks for one scan of TargetID on behalf of OwnerID. An empty OwnerID
// skips the ownership check (scheduler scans).
type Job struct {
	TargetID string
	OwnerID  string
}

// Outcome describes a completed scan.
type Outcome struct {
	TargetID   string             `json:"target_id"`
	Stage      Stage              `json:"stage"`
	Status     string             `json:"status"`
	SnapshotID string             `json:"snapshot_id"`
	Change     *store.ChangeEvent `json:"change,omitempty"`
	Analysis   *classify.Result   `json:"analysis,omitempty"`
	Duration   time.Duration      `json:"duration"`
}

// Config wires a Pipeline.
type Config struct {
	Fetcher    Fetcher
	Extractor  Extractor
	Classifier Classifier
	Store      Store
	Events     *observability.EventLogger // optional
	Logger     *slog.Logger

	SnapshotIDs idgen.Generator // Default: "snp_" + UUIDv7.
	ChangeIDs   idgen.Generator // Default: "chg_" + UUIDv7.
	ScanIDs     idgen.Generator // Default: "scn_" + UUIDv7.
	Now         func() time.Time
}

func (c *Config) defaults() {
	if c.Extractor == nil {
		c.Extractor = extract.New(nil)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.SnapshotIDs == nil {
		c.SnapshotIDs = idgen.Prefixed("snp_", idgen.Default)
	}
	if c.ChangeIDs == nil {
		c.ChangeIDs = idgen.Prefixed("chg_", idgen.Default)
	}
	if c.ScanIDs == nil {
		c.ScanIDs = idgen.Prefixed("scn_", idgen.Default)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Pipeline runs scans. Scans of the same target are serialized; scans of
// different targets run concurrently.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	locks  *keyedMutex
}

// New creates a Pipeline. Fetcher, Classifier and Store are required.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{cfg: cfg, logger: cfg.Logger, locks: newKeyedMutex()}
}

// Run executes one scan. Fetch failures are returned as *fetch.FetchError and
// persistence failures as *StoreError.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Outcome, error) {
	start := p.cfg.Now()
	log := p.logger.With("target_id", job.TargetID)

	tgt, err := p.cfg.Store.GetTarget(ctx, job.TargetID)
	if err != nil {
		return nil, &StoreError{Stage: StageLoadingTarget, Err: err}
	}
	if tgt == nil {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, job.TargetID)
	}
	if job.OwnerID != "" && tgt.OwnerID != job.OwnerID {
		return nil, ErrForbidden
	}

	unlock := p.locks.Lock(tgt.ID)
	defer unlock()

	log = log.With("url", tgt.URL)
	sc := &scan{p: p, tgt: tgt, start: start, log: log}

	// FETCHING
	res, err := p.cfg.Fetcher.Fetch(ctx, tgt.URL)
	if err != nil {
		return nil, sc.failed(ctx, StageFetching, store.ScanFetchError, err, true)
	}

	// EXTRACTING
	// A page that cannot be parsed is stored as empty content, not failed.
	content, err := p.cfg.Extractor.ExtractPage(string(res.Body), res.FinalURL)
	if err != nil {
		log.WarnContext(ctx, "pipeline: extraction failed, storing empty content",
			"stage", StageExtracting, "error", err)
		content = extract.Empty()
	}

	// PERSISTING_SNAPSHOT + UPDATING_TARGET, one transaction.
	snap := &store.Snapshot{
		ID:           p.cfg.SnapshotIDs(),
		TargetID:     tgt.ID,
		CapturedAt:   p.cfg.Now().UnixMilli(),
		HTML:         string(res.Body),
		Text:         content.Text,
		Title:        content.Title,
		Metadata:     content.Metadata,
		Technologies: content.Technologies,
		Markdown:     content.Markdown,
		ContentHash:  content.Hash,
	}
	if err := p.cfg.Store.RecordScan(ctx, snap); err != nil {
		return nil, sc.failed(ctx, StagePersistingSnapshot, store.ScanStoreError,
			&StoreError{Stage: StagePersistingSnapshot, Err: err}, false)
	}
	sc.snapshotID = snap.ID
	out := &Outcome{TargetID: tgt.ID, Stage: StageUpdatingTarget, SnapshotID: snap.ID}

	// LOADING_PREVIOUS
	prev, err := p.cfg.Store.PreviousSnapshot(ctx, tgt.ID, snap.ID)
	if err != nil {
		return nil, sc.failed(ctx, StageLoadingPrevious, store.ScanStoreError,
			&StoreError{Stage: StageLoadingPrevious, Err: err}, false)
	}
	if prev == nil {
		return sc.done(ctx, out, store.ScanFirst), nil
	}

	// CLASSIFYING
	analysis := p.cfg.Classifier.Classify(ctx, prev.Text, snap.Text, tgt.URL)
	out.Analysis = &analysis
	if !analysis.HasChange {
		return sc.done(ctx, out, store.ScanUnchanged), nil
	}

	// RECORDING
	ev := &store.ChangeEvent{
		ID:                 p.cfg.ChangeIDs(),
		TargetID:           tgt.ID,
		OwnerID:            tgt.OwnerID,
		TargetName:         tgt.Name,
		URL:                tgt.URL,
		PreviousSnapshotID: prev.ID,
		CurrentSnapshotID:  snap.ID,
		DetectedAt:         p.cfg.Now().UnixMilli(),
		Severity:           analysis.Severity,
		Summary:            analysis.Summary,
		Details:            analysis.Details,
		ImpactAreas:        analysis.ImpactAreas,
		Degraded:           analysis.Degraded,
	}
	if err := p.cfg.Store.RecordChange(ctx, ev); err != nil {
		return nil, sc.failed(ctx, StageRecording, store.ScanStoreError,
			&StoreError{Stage: StageRecording, Err: err}, false)
	}
	out.Change = ev
	sc.changeID = ev.ID

	p.cfg.Events.LogEvent(context.WithoutCancel(ctx), observability.BusinessEvent{
		EventType:   EventChangeRecorded,
		ServiceName: "rivalwatch",
		EntityType:  "change_event",
		EntityID:    ev.ID,
		UserID:      tgt.OwnerID,
		Action:      "record",
		Details: map[string]any{
			"target_id": tgt.ID,
			"severity":  string(ev.Severity),
			"summary":   ev.Summary,
			"degraded":  ev.Degraded,
		},
		Success: true,
	})
	return sc.done(ctx, out, store.ScanOK), nil
}

// scan carries the per-run bookkeeping.
type scan struct {
	p          *Pipeline
	tgt        *store.Target
	start      time.Time
	log        *slog.Logger
	snapshotID string
	changeID   string
}

func (s *scan) elapsed() time.Duration {
	return s.p.cfg.Now().Sub(s.start)
}

// failed writes the failure bookkeeping and returns err. markTarget records
// the failed attempt on the target itself.
func (s *scan) failed(ctx context.Context, stage Stage, status string, err error, markTarget bool) error {
	bg := context.WithoutCancel(ctx)
	s.log.WarnContext(ctx, "pipeline: scan failed",
		"stage", stage, "duration_ms", s.elapsed().Milliseconds(), "error", err)

	if markTarget {
		if serr := s.p.cfg.Store.RecordScanError(bg, s.tgt.ID, err.Error()); serr != nil {
			s.log.Error("pipeline: record scan error", "error", serr)
		}
	}
	s.writeLog(bg, status, stage, err.Error())
	s.p.cfg.Events.LogEvent(bg, observability.BusinessEvent{
		EventType:   EventScanFailed,
		ServiceName: "rivalwatch",
		EntityType:  "target",
		EntityID:    s.tgt.ID,
		UserID:      s.tgt.OwnerID,
		Action:      "scan",
		Details:     map[string]any{"stage": string(stage), "error": err.Error()},
		Success:     false,
	})
	return err
}

func (s *scan) done(ctx context.Context, out *Outcome, status string) *Outcome {
	bg := context.WithoutCancel(ctx)
	out.Stage = StageDone
	out.Status = status
	out.Duration = s.elapsed()

	s.log.InfoContext(ctx, "pipeline: scan completed",
		"status", status, "snapshot_id", out.SnapshotID, "change_id", s.changeID,
		"duration_ms", out.Duration.Milliseconds())
	s.writeLog(bg, status, StageDone, "")
	s.p.cfg.Events.LogEvent(bg, observability.BusinessEvent{
		EventType:   EventScanCompleted,
		ServiceName: "rivalwatch",
		EntityType:  "target",
		EntityID:    s.tgt.ID,
		UserID:      s.tgt.OwnerID,
		Action:      "scan",
		Details: map[string]any{
			"status":      status,
			"snapshot_id": out.SnapshotID,
			"duration_ms": out.Duration.Milliseconds(),
		},
		Success: true,
	})
	return out
}

func (s *scan) writeLog(ctx context.Context, status string, stage Stage, errMsg string) {
	err := s.p.cfg.Store.InsertScanLog(ctx, &store.ScanLogEntry{
		ID:           s.p.cfg.ScanIDs(),
		TargetID:     s.tgt.ID,
		Status:       status,
		Stage:        string(stage),
		SnapshotID:   s.snapshotID,
		ChangeID:     s.changeID,
		ErrorMessage: errMsg,
		DurationMs:   s.elapsed().Milliseconds(),
		ScannedAt:    s.p.cfg.Now().UnixMilli(),
	})
	if err != nil {
		s.log.Error("pipeline: write scan log", "error", err)
	}
}
