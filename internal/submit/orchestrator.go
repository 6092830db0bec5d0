// Package submit drives claim submission against the backend with bounded
// exponential backoff, classifying failures as retryable or fatal.
package submit

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-benefits/claimflow/internal/model"
	"github.com/meridian-benefits/claimflow/pkg/claimsapi"
)

// Config controls the retry schedule.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Default: 4.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff and bounds the jitter.
	// Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff (before jitter). Default: 30s.
	MaxDelay time.Duration

	// AttemptTimeout bounds each individual backend call. Expiry counts
	// as a retryable failure. Default: 30s.
	AttemptTimeout time.Duration
}

// DefaultConfig returns the standard submission schedule.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    4,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	return c
}

// Outcome is the terminal result of a submission sequence.
type Outcome struct {
	Reference string
	Attempts  []model.SubmissionAttempt
	Err       error // nil iff Reference is set
	// Interrupted is true when shutdown cancelled the sequence between
	// attempts; the job stays at its last ledgered state for resume.
	Interrupted bool
}

// AttemptRecorder receives every attempt as it completes, before any
// backoff sleep. Used for write-ahead ledgering of the attempt sequence.
type AttemptRecorder func(attempt model.SubmissionAttempt, soFar []model.SubmissionAttempt)

// Orchestrator submits claims through a backend client.
type Orchestrator struct {
	backend claimsapi.Client
	breaker *Breaker
	cfg     Config
}

// New creates an Orchestrator. breaker may be nil to disable circuit
// breaking.
func New(backend claimsapi.Client, breaker *Breaker, cfg Config) *Orchestrator {
	return &Orchestrator{backend: backend, breaker: breaker, cfg: cfg.withDefaults()}
}

// Submit runs the attempt loop for one claim. Fatal failures stop
// immediately; retryable failures back off
// min(base·2^(n−1), max) + jitter[0, base) and retry until MaxAttempts.
// A cancelled ctx stops after the in-flight attempt, never mid-backoff
// into another try.
func (o *Orchestrator) Submit(ctx context.Context, jobID string, payload claimsapi.Payload, record AttemptRecorder) Outcome {
	log := zap.L().With(zap.String("job_id", jobID))

	var attempts []model.SubmissionAttempt
	var lastErr error

	for n := 1; n <= o.cfg.MaxAttempts; n++ {
		if ctx.Err() != nil {
			return Outcome{Attempts: attempts, Err: ctx.Err(), Interrupted: true}
		}

		started := time.Now().UTC()
		ref, err := o.attempt(ctx, payload)

		att := model.SubmissionAttempt{
			Number:     n,
			StartedAt:  started,
			DurationMS: time.Since(started).Milliseconds(),
		}

		if err == nil {
			att.Outcome = model.AttemptSuccess
			att.Reference = ref
			attempts = append(attempts, att)
			if record != nil {
				record(att, attempts)
			}
			return Outcome{Reference: ref, Attempts: attempts}
		}

		lastErr = err
		retryable := IsRetryable(err)
		if retryable {
			att.Outcome = model.AttemptRetryableFailure
		} else {
			att.Outcome = model.AttemptFatalFailure
		}
		att.Reason = err.Error()
		attempts = append(attempts, att)
		if record != nil {
			record(att, attempts)
		}

		if !retryable {
			log.Warn("submission rejected, not retrying",
				zap.Int("attempt", n),
				zap.Error(err),
			)
			return Outcome{Attempts: attempts, Err: err}
		}

		if n == o.cfg.MaxAttempts {
			break
		}

		delay := o.backoff(n)
		log.Info("submission attempt failed, backing off",
			zap.Int("attempt", n),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Outcome{Attempts: attempts, Err: lastErr, Interrupted: true}
		case <-timer.C:
		}
	}

	log.Warn("submission attempts exhausted",
		zap.Int("attempts", len(attempts)),
		zap.Error(lastErr),
	)
	return Outcome{Attempts: attempts, Err: lastErr}
}

// attempt makes one backend call under the per-attempt timeout, routed
// through the circuit breaker when one is configured.
func (o *Orchestrator) attempt(ctx context.Context, payload claimsapi.Payload) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	if o.breaker == nil {
		return o.backend.SubmitClaim(attemptCtx, payload)
	}

	var ref string
	err := o.breaker.Execute(attemptCtx, func(ctx context.Context) error {
		var callErr error
		ref, callErr = o.backend.SubmitClaim(ctx, payload)
		return callErr
	})
	return ref, err
}

// backoff computes the delay after failed attempt n (1-based):
// min(base·2^(n−1), max) plus random jitter in [0, base).
func (o *Orchestrator) backoff(n int) time.Duration {
	delay := o.cfg.BaseDelay << uint(n-1)
	if delay > o.cfg.MaxDelay || delay <= 0 {
		delay = o.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(o.cfg.BaseDelay)))
	return delay + jitter
}
