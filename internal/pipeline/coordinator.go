package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-benefits/claimflow/internal/fingerprint"
	"github.com/meridian-benefits/claimflow/internal/inbound"
	"github.com/meridian-benefits/claimflow/internal/model"
	"github.com/meridian-benefits/claimflow/internal/store"
)

// CoordinatorConfig tunes the polling worker pool.
type CoordinatorConfig struct {
	Workers      int
	PollInterval time.Duration
}

// DefaultCoordinatorConfig returns the standard pool sizing.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Workers:      4,
		PollInterval: 30 * time.Second,
	}
}

// Coordinator polls the inbound source and fans documents out to a
// bounded worker pool. At most one worker processes a given fingerprint
// at a time; a second same-fingerprint arrival waits for the first to
// settle so the duplicate check sees a terminal winner.
type Coordinator struct {
	runner *Runner
	source inbound.Source
	store  store.Store
	cfg    CoordinatorConfig
	log    *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{} // keyed by fingerprint
}

// NewCoordinator creates a Coordinator. Zero config fields take defaults.
func NewCoordinator(r *Runner, src inbound.Source, st store.Store, cfg CoordinatorConfig) *Coordinator {
	def := DefaultCoordinatorConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Coordinator{
		runner:   r,
		source:   src,
		store:    st,
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "pipeline.coordinator")),
		inflight: make(map[string]struct{}),
	}
}

// Run resumes interrupted jobs, then polls the source until the context
// is cancelled. Workers finish their current document before Run
// returns; nothing new is dispatched after cancellation.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Resume(ctx); err != nil {
		c.log.Warn("resume incomplete", zap.Error(err))
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := c.cycle(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("poll cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			c.log.Info("coordinator stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// cycle polls once and processes every returned document through the
// worker pool, acking each on completion.
func (c *Coordinator) cycle(ctx context.Context) error {
	events, err := c.source.Poll(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: poll source")
	}
	if len(events) == 0 {
		return nil
	}
	c.log.Info("documents received", zap.Int("count", len(events)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for _, event := range events {
		event := event
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			c.process(gctx, event)
			return nil
		})
	}
	return g.Wait()
}

func (c *Coordinator) process(ctx context.Context, event model.DocumentEvent) {
	release, ok := c.acquire(event)
	if !ok {
		// Same fingerprint already in flight; the document stays
		// unacked and is picked up next cycle.
		return
	}
	defer release()

	job, err := c.runner.Run(ctx, event)
	if err != nil {
		c.log.Error("document processing failed",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return
	}

	if err := c.source.Ack(ctx, event.EventID); err != nil {
		c.log.Warn("source ack failed",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return
	}

	c.log.Info("document settled",
		zap.String("event_id", event.EventID),
		zap.String("job_id", job.ID),
		zap.String("state", string(job.State)))
}

func (c *Coordinator) acquire(event model.DocumentEvent) (func(), bool) {
	fp := eventFingerprint(event)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[fp]; busy {
		return nil, false
	}
	c.inflight[fp] = struct{}{}
	return func() {
		c.mu.Lock()
		delete(c.inflight, fp)
		c.mu.Unlock()
	}, true
}

// Resume drives jobs left non-terminal by a previous run back to a
// settled state. Jobs that already have a normalized claim are driven
// directly; jobs still at new have no persisted document and settle when
// the source redelivers the unacked original.
func (c *Coordinator) Resume(ctx context.Context) error {
	jobs, err := c.store.ListJobs(ctx, store.JobFilter{
		States: []model.JobState{
			model.JobStateExtracted,
			model.JobStateRouted,
			model.JobStateSubmitting,
		},
	})
	if err != nil {
		return eris.Wrap(err, "pipeline: list interrupted jobs")
	}
	if len(jobs) == 0 {
		return nil
	}
	c.log.Info("resuming interrupted jobs", zap.Int("count", len(jobs)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for i := range jobs {
		job := jobs[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if _, err := c.runner.Resume(gctx, &job); err != nil {
				c.log.Error("resume failed",
					zap.String("job_id", job.ID),
					zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func eventFingerprint(event model.DocumentEvent) string {
	return fingerprint.Compute(event.Sender, event.Attachment)
}
