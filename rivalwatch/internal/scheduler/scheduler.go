// Package scheduler polls for due targets and scans them with bounded
// parallelism.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/store"
)

// Job is a scan emitted by the scheduler.
type Job struct {
	TargetID string `json:"target_id"`
	OwnerID  string `json:"owner_id"`
	URL      string `json:"url"`
}

// Config configures the scheduler.
type Config struct {
	// CheckInterval is how often to poll for due targets. Default: 1 minute.
	CheckInterval time.Duration
	// MaxFailCount is the failure streak after which a target is skipped.
	MaxFailCount int
	// Concurrency bounds parallel scans. Default: 4.
	Concurrency int
}

func (c *Config) defaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Minute
	}
	if c.MaxFailCount <= 0 {
		c.MaxFailCount = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
}

// DueLister returns targets that should be scanned now.
type DueLister interface {
	DueTargets(ctx context.Context, maxFailCount int) ([]*store.Target, error)
}

// Runner scans one target.
type Runner func(ctx context.Context, job *Job) error

// Scheduler periodically scans due targets.
type Scheduler struct {
	lister DueLister
	run    Runner
	config Config
	logger *slog.Logger
}

// New creates a Scheduler.
func New(lister DueLister, run Runner, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		lister: lister,
		run:    run,
		config: cfg,
		logger: logger,
	}
}

// Run polls for due targets on a ticker. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick scans every due target once and waits for all of them. A failing
// scan is logged and does not affect the others. Returns the number of
// scans started.
func (s *Scheduler) Tick(ctx context.Context) int {
	due, err := s.lister.DueTargets(ctx, s.config.MaxFailCount)
	if err != nil {
		s.logger.Error("scheduler: due targets", "error", err)
		return 0
	}

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	started := 0
	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		job := &Job{TargetID: t.ID, OwnerID: t.OwnerID, URL: t.URL}
		started++
		g.Go(func() error {
			if err := s.run(ctx, job); err != nil {
				s.logger.Warn("scheduler: scan failed", "target_id", job.TargetID, "url", job.URL, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	if started > 0 {
		s.logger.Debug("scheduler: tick", "scans", started)
	}
	return started
}
