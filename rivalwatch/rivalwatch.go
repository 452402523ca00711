package rivalwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/rivalwatch/connectivity"
	"github.com/hazyhaar/rivalwatch/extract"
	"github.com/hazyhaar/rivalwatch/horosafe"
	"github.com/hazyhaar/rivalwatch/idgen"
	"github.com/hazyhaar/rivalwatch/observability"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/classify"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/engine"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/fetch"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/pipeline"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/render"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/scheduler"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/store"
)

// Service is the rivalwatch orchestrator.
type Service struct {
	db        *sql.DB
	store     *store.Store
	router    *connectivity.Router
	renderer  *render.Renderer
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
	events    *observability.EventLogger
	logger    *slog.Logger
	config    *Config
	newID     idgen.Generator

	urlValidator func(string) error
	transport    http.RoundTripper
	fetcher      pipeline.Fetcher
	engine       classify.Engine
	ownsRouter   bool

	closeOnce sync.Once
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithRouter uses r for comparison-engine dispatch instead of a private
// router. The caller keeps ownership of r.
func WithRouter(r *connectivity.Router) ServiceOption {
	return func(svc *Service) { svc.router = r }
}

// WithURLValidator overrides the URL validation function (default:
// horosafe.ValidateURL). Use in tests with httptest servers that listen on
// loopback addresses.
func WithURLValidator(fn func(string) error) ServiceOption {
	return func(svc *Service) { svc.urlValidator = fn }
}

// WithHTTPTransport replaces the fetcher's anti-bot transport.
func WithHTTPTransport(rt http.RoundTripper) ServiceOption {
	return func(svc *Service) { svc.transport = rt }
}

// WithFetcher replaces page retrieval entirely.
func WithFetcher(f pipeline.Fetcher) ServiceOption {
	return func(svc *Service) { svc.fetcher = f }
}

// WithEngine bypasses the router and classifies with e directly.
func WithEngine(e classify.Engine) ServiceOption {
	return func(svc *Service) { svc.engine = e }
}

// WithIDGenerator sets the generator for target IDs.
func WithIDGenerator(gen idgen.Generator) ServiceOption {
	return func(svc *Service) { svc.newID = gen }
}

// New creates a Service on db, creating the schema if needed.
func New(db *sql.DB, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	for _, apply := range []func(*sql.DB) error{store.ApplySchema, observability.Init, connectivity.Init} {
		if err := apply(db); err != nil {
			return nil, fmt.Errorf("rivalwatch: schema: %w", err)
		}
	}

	svc := &Service{
		db:           db,
		store:        store.NewStore(db),
		logger:       logger,
		config:       cfg,
		newID:        idgen.Prefixed("tgt_", idgen.Default),
		urlValidator: horosafe.ValidateURL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.events = observability.NewEventLogger(db, observability.WithLogger(logger))

	rules := extract.DefaultRules()
	if cfg.TechRules != "" {
		loaded, err := extract.LoadRules(cfg.TechRules)
		if err != nil {
			return nil, fmt.Errorf("rivalwatch: %w", err)
		}
		rules = loaded
	}

	if svc.fetcher == nil {
		fcfg := fetch.Config{
			Timeout:      cfg.Fetch.Timeout,
			MaxBytes:     cfg.Fetch.MaxBytes,
			UserAgent:    cfg.Fetch.UserAgent,
			URLValidator: svc.urlValidator,
			Transport:    svc.transport,
			Mode:         cfg.Render.Mode,
			Logger:       logger,
		}
		if cfg.Render.Mode != fetch.ModeHTTP {
			svc.renderer = render.New(render.Config{
				RemoteURL:    cfg.Render.RemoteURL,
				Settle:       cfg.Render.Settle,
				URLValidator: svc.urlValidator,
				Logger:       logger,
			})
			if !svc.renderer.Available() {
				logger.Warn("rivalwatch: no browser found, render fallback will fail",
					"mode", cfg.Render.Mode)
			}
			fcfg.Renderer = svc.renderer
		}
		svc.fetcher = fetch.New(fcfg)
	}

	if err := svc.setupEngine(); err != nil {
		return nil, err
	}

	svc.pipeline = pipeline.New(pipeline.Config{
		Fetcher:    svc.fetcher,
		Extractor:  extract.New(rules),
		Classifier: classify.New(svc.engine, classify.WithMaxChars(cfg.Classifier.MaxChars), classify.WithLogger(logger)),
		Store:      svc.store,
		Events:     svc.events,
		Logger:     logger,
	})

	svc.scheduler = scheduler.New(svc.store, func(ctx context.Context, job *scheduler.Job) error {
		_, err := svc.pipeline.Run(ctx, pipeline.Job{TargetID: job.TargetID})
		return err
	}, scheduler.Config{
		CheckInterval: cfg.Scheduler.CheckInterval,
		MaxFailCount:  cfg.Scheduler.MaxFailCount,
		Concurrency:   cfg.Scheduler.Concurrency,
	}, logger)

	return svc, nil
}

// setupEngine wires the comparison engine. Without WithEngine, comparisons
// go through the router under classify.ServiceName; a configured provider
// is registered as the local handler and the routes table can override it.
func (svc *Service) setupEngine() error {
	if svc.engine != nil {
		return nil
	}
	if svc.router == nil {
		svc.router = connectivity.New(
			connectivity.WithLogger(svc.logger),
			connectivity.WithMiddleware(
				connectivity.Recovery(svc.logger),
				connectivity.Logging(svc.logger),
			),
		)
		svc.router.RegisterTransport("http", connectivity.HTTPFactory())
		svc.ownsRouter = true
	}

	ec := svc.config.Engine
	if ec.Provider != "" {
		client, err := engine.New(engine.Config{
			Provider:    ec.Provider,
			BaseURL:     ec.BaseURL,
			APIKey:      ec.APIKey,
			Model:       ec.Model,
			Temperature: ec.Temperature,
			Timeout:     ec.Timeout,
			Logger:      svc.logger,
		})
		if err != nil {
			return fmt.Errorf("rivalwatch: %w", err)
		}
		svc.router.RegisterLocal(classify.ServiceName, client.Handler())
	} else {
		svc.logger.Warn("rivalwatch: no engine provider configured, comparisons need a route",
			"service", classify.ServiceName)
	}

	if err := svc.router.Reload(context.Background(), svc.db); err != nil {
		return fmt.Errorf("rivalwatch: load routes: %w", err)
	}
	svc.engine = &classify.RouterEngine{Router: svc.router, Service: classify.ServiceName}
	return nil
}

// Router returns the router used for comparisons, or nil with WithEngine.
func (svc *Service) Router() *connectivity.Router {
	return svc.router
}

// Start launches the route watcher and the scheduler. Non-blocking.
func (svc *Service) Start(ctx context.Context) {
	if svc.router != nil && svc.ownsRouter {
		go svc.router.Watch(ctx, svc.db, svc.config.RouteWatchInterval)
	}
	if !svc.config.Scheduler.Disabled {
		go svc.scheduler.Run(ctx)
	}
	go svc.retainEvents(ctx)
	svc.logger.Info("rivalwatch: started",
		"scheduler", !svc.config.Scheduler.Disabled,
		"render_mode", svc.config.Render.Mode)
}

// retainEvents prunes old business events once a day.
func (svc *Service) retainEvents(ctx context.Context) {
	days := *svc.config.EventRetentionDays
	if days <= 0 {
		svc.logger.Info("rivalwatch: event retention disabled")
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		n, err := observability.Cleanup(ctx, svc.db, days)
		if err != nil {
			svc.logger.Warn("rivalwatch: event cleanup", "error", err)
		} else if n > 0 {
			svc.logger.Info("rivalwatch: pruned business events", "deleted", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases the browser and the private router. The database stays
// open; it belongs to the caller.
func (svc *Service) Close() error {
	var errs []error
	svc.closeOnce.Do(func() {
		if svc.renderer != nil {
			errs = append(errs, svc.renderer.Close())
		}
		if svc.router != nil && svc.ownsRouter {
			errs = append(errs, svc.router.Close())
		}
		svc.logger.Info("rivalwatch: closed")
	})
	return errors.Join(errs...)
}

// --- Targets ---

// AddTarget registers a page to monitor. The URL is normalized, checked
// against SSRF rules and deduplicated per owner.
func (svc *Service) AddTarget(ctx context.Context, t *Target) error {
	if t.ID == "" {
		t.ID = svc.newID()
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.ScanInterval == 0 {
		t.ScanInterval = store.DefaultScanInterval
	}

	if err := validateTargetInput(t); err != nil {
		return err
	}
	normalized, err := NormalizeTargetURL(t.URL)
	if err != nil {
		return err
	}
	t.URL = normalized
	if err := svc.urlValidator(t.URL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	count, err := svc.store.CountTargets(ctx, t.OwnerID)
	if err != nil {
		return err
	}
	if count >= MaxTargetsPerOwner {
		return fmt.Errorf("%w: maximum %d targets per owner", ErrInvalidInput, MaxTargetsPerOwner)
	}

	t.Enabled = true
	if err := svc.store.InsertTarget(ctx, t); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("%w: %s", ErrDuplicateTarget, t.URL)
		}
		return err
	}
	svc.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "target_added",
		ServiceName: "rivalwatch",
		EntityType:  "target",
		EntityID:    t.ID,
		UserID:      t.OwnerID,
		Action:      "create",
		Details:     map[string]any{"url": t.URL, "name": t.Name},
		Success:     true,
	})
	return nil
}

// GetTarget returns the owner's target.
func (svc *Service) GetTarget(ctx context.Context, ownerID, targetID string) (*Target, error) {
	return svc.ownedTarget(ctx, ownerID, targetID)
}

// ListTargets returns the owner's targets.
func (svc *Service) ListTargets(ctx context.Context, ownerID string) ([]*Target, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner_id is required", ErrInvalidInput)
	}
	return svc.store.ListTargets(ctx, ownerID)
}

// DeleteTarget removes the owner's target with its history.
func (svc *Service) DeleteTarget(ctx context.Context, ownerID, targetID string) error {
	if _, err := svc.ownedTarget(ctx, ownerID, targetID); err != nil {
		return err
	}
	if err := svc.store.DeleteTarget(ctx, targetID); err != nil {
		return err
	}
	svc.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "target_deleted",
		ServiceName: "rivalwatch",
		EntityType:  "target",
		EntityID:    targetID,
		UserID:      ownerID,
		Action:      "delete",
		Success:     true,
	})
	return nil
}

// SetTargetEnabled pauses or resumes scheduled scans of a target.
func (svc *Service) SetTargetEnabled(ctx context.Context, ownerID, targetID string, enabled bool) error {
	if _, err := svc.ownedTarget(ctx, ownerID, targetID); err != nil {
		return err
	}
	return svc.store.SetTargetEnabled(ctx, targetID, enabled)
}

// SetScanInterval changes how often a target is scanned.
func (svc *Service) SetScanInterval(ctx context.Context, ownerID, targetID string, interval time.Duration) error {
	t, err := svc.ownedTarget(ctx, ownerID, targetID)
	if err != nil {
		return err
	}
	probe := *t
	probe.ScanInterval = interval.Milliseconds()
	if err := validateTargetInput(&probe); err != nil {
		return err
	}
	return svc.store.SetScanInterval(ctx, targetID, probe.ScanInterval)
}

func (svc *Service) ownedTarget(ctx context.Context, ownerID, targetID string) (*Target, error) {
	if ownerID == "" || targetID == "" {
		return nil, fmt.Errorf("%w: owner_id and target_id are required", ErrInvalidInput)
	}
	t, err := svc.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
	}
	if t.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return t, nil
}

// --- Scans ---

// ScanTarget runs one scan of the owner's target now.
func (svc *Service) ScanTarget(ctx context.Context, targetID, ownerID string) (*ScanResult, error) {
	if targetID == "" || ownerID == "" {
		return nil, fmt.Errorf("%w: target_id and owner_id are required", ErrInvalidInput)
	}
	out, err := svc.pipeline.Run(ctx, pipeline.Job{TargetID: targetID, OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	return &ScanResult{
		Success:    true,
		Status:     out.Status,
		SnapshotID: out.SnapshotID,
		Change:     out.Change,
		Analysis:   out.Analysis,
		DurationMs: out.Duration.Milliseconds(),
	}, nil
}

// RunDue scans every due target once, outside the background loop.
// Returns the number of scans started.
func (svc *Service) RunDue(ctx context.Context) int {
	return svc.scheduler.Tick(ctx)
}

// --- History ---

// ListChanges returns change events matching f. OwnerID is required.
func (svc *Service) ListChanges(ctx context.Context, f ChangeFilter) ([]*ChangeEvent, error) {
	if f.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner_id is required", ErrInvalidInput)
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	return svc.store.ListChangeEvents(ctx, f)
}

// ListSnapshots returns the target's snapshots, newest first, without raw
// markup.
func (svc *Service) ListSnapshots(ctx context.Context, ownerID, targetID string, limit int) ([]*Snapshot, error) {
	if _, err := svc.ownedTarget(ctx, ownerID, targetID); err != nil {
		return nil, err
	}
	return svc.store.ListSnapshots(ctx, targetID, limit)
}

// GetSnapshot returns one snapshot including its markup.
func (svc *Service) GetSnapshot(ctx context.Context, ownerID, snapshotID string) (*Snapshot, error) {
	snap, err := svc.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
	}
	if _, err := svc.ownedTarget(ctx, ownerID, snap.TargetID); err != nil {
		return nil, err
	}
	return snap, nil
}

// ScanHistory returns the target's scan attempts, newest first.
func (svc *Service) ScanHistory(ctx context.Context, ownerID, targetID string, limit int) ([]*ScanLogEntry, error) {
	if _, err := svc.ownedTarget(ctx, ownerID, targetID); err != nil {
		return nil, err
	}
	return svc.store.ScanHistory(ctx, targetID, limit)
}

// RecentEvents returns the latest business events of the given type.
func (svc *Service) RecentEvents(ctx context.Context, eventType string, limit int) ([]observability.RecordedEvent, error) {
	return svc.events.Recent(ctx, eventType, limit)
}
