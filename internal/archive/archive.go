// Package archive uploads original claim documents to the object store
// asynchronously, off the submission path.
package archive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-benefits/claimflow/internal/store"
	"github.com/meridian-benefits/claimflow/pkg/objstore"
)

// Config tunes the archiver's queue and retry behaviour.
type Config struct {
	QueueSize   int           `yaml:"queue_size" mapstructure:"queue_size"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	return c
}

type task struct {
	jobID       string
	key         string
	data        []byte
	contentType string
}

// Archiver drains a bounded queue of upload tasks. Upload failures retry
// with their own schedule and never block or fail the claim pipeline.
type Archiver struct {
	objects objstore.Store
	jobs    store.Store
	cfg     Config
	queue   chan task
	log     *zap.Logger
}

// New creates an Archiver writing through objects and recording archive
// refs on jobs.
func New(objects objstore.Store, jobs store.Store, cfg Config) *Archiver {
	cfg = cfg.withDefaults()
	return &Archiver{
		objects: objects,
		jobs:    jobs,
		cfg:     cfg,
		queue:   make(chan task, cfg.QueueSize),
		log:     zap.L().With(zap.String("component", "archive")),
	}
}

// Enqueue schedules the document for upload. It drops the task with a log
// entry when the queue is full rather than stalling the caller.
func (a *Archiver) Enqueue(jobID, filename string, data []byte, contentType string) {
	t := task{
		jobID:       jobID,
		key:         fmt.Sprintf("%s/%s", jobID, filename),
		data:        data,
		contentType: contentType,
	}
	select {
	case a.queue <- t:
	default:
		a.log.Warn("archive queue full, dropping document",
			zap.String("job_id", jobID),
			zap.String("key", t.key),
		)
	}
}

// Run processes the queue until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	a.log.Info("starting archiver", zap.Int("queue_size", a.cfg.QueueSize))
	for {
		select {
		case <-ctx.Done():
			a.log.Info("archiver stopped")
			return
		case t := <-a.queue:
			a.process(ctx, t)
		}
	}
}

func (a *Archiver) process(ctx context.Context, t task) {
	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		ref, err := a.objects.Put(ctx, t.key, t.data, t.contentType)
		if err == nil {
			a.recordRef(ctx, t.jobID, ref)
			return
		}
		lastErr = err

		delay := a.cfg.RetryDelay * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	a.log.Error("document archive failed, giving up",
		zap.String("job_id", t.jobID),
		zap.String("key", t.key),
		zap.Int("attempts", a.cfg.MaxAttempts),
		zap.Error(lastErr),
	)
}

func (a *Archiver) recordRef(ctx context.Context, jobID, ref string) {
	job, err := a.jobs.GetJob(ctx, jobID)
	if err != nil {
		a.log.Warn("archive ref not recorded, job lookup failed",
			zap.String("job_id", jobID), zap.Error(err))
		return
	}
	job.ArchiveRef = ref
	if err := a.jobs.UpdateJob(ctx, job); err != nil {
		a.log.Warn("archive ref not recorded",
			zap.String("job_id", jobID), zap.Error(err))
		return
	}
	a.log.Debug("document archived",
		zap.String("job_id", jobID),
		zap.String("archive_ref", ref),
	)
}
