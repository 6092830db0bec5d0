// Package pipeline drives claim jobs from document receipt to a terminal
// state.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-benefits/claimflow/internal/classify"
	"github.com/meridian-benefits/claimflow/internal/fingerprint"
	"github.com/meridian-benefits/claimflow/internal/ledger"
	"github.com/meridian-benefits/claimflow/internal/metrics"
	"github.com/meridian-benefits/claimflow/internal/model"
	"github.com/meridian-benefits/claimflow/internal/normalize"
	"github.com/meridian-benefits/claimflow/internal/store"
	"github.com/meridian-benefits/claimflow/internal/submit"
	"github.com/meridian-benefits/claimflow/pkg/claimsapi"
)

// Extractor produces raw claim fields and a confidence score from a
// scanned document.
type Extractor interface {
	Extract(ctx context.Context, document []byte) (model.RawExtraction, float64, error)
}

// Submitter runs the retry sequence against the claims backend.
type Submitter interface {
	Submit(ctx context.Context, jobID string, payload claimsapi.Payload, record submit.AttemptRecorder) submit.Outcome
}

// DocArchiver receives a copy of the source document for audit retention.
type DocArchiver interface {
	Enqueue(jobID, filename string, data []byte, contentType string)
}

// ExceptionNotifier mirrors exception jobs to an external review surface.
type ExceptionNotifier interface {
	CreateException(ctx context.Context, jobID string, job *model.ClaimJob) error
	ResolveException(ctx context.Context, jobID string) error
}

// Runner owns the state machine for a single claim job. All transitions
// are ledgered before the next step begins.
type Runner struct {
	store     store.Store
	ledger    *ledger.Writer
	extractor Extractor
	submitter Submitter
	archiver  DocArchiver
	notifier  ExceptionNotifier
	bands     classify.Bands
	log       *zap.Logger
}

// RunnerOpt configures optional collaborators.
type RunnerOpt func(*Runner)

// WithArchiver installs the document archiver.
func WithArchiver(a DocArchiver) RunnerOpt {
	return func(r *Runner) { r.archiver = a }
}

// WithNotifier installs the exception review notifier.
func WithNotifier(n ExceptionNotifier) RunnerOpt {
	return func(r *Runner) { r.notifier = n }
}

// WithBands overrides the routing thresholds.
func WithBands(b classify.Bands) RunnerOpt {
	return func(r *Runner) { r.bands = b }
}

// NewRunner creates a Runner over the given collaborators.
func NewRunner(st store.Store, lw *ledger.Writer, ex Extractor, sub Submitter, opts ...RunnerOpt) *Runner {
	r := &Runner{
		store:     st,
		ledger:    lw,
		extractor: ex,
		submitter: sub,
		bands:     classify.DefaultBands(),
		log:       zap.L().With(zap.String("component", "pipeline.runner")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run drives one inbound document to a terminal state (or to the
// submitting suspension point on shutdown). It returns the job in its
// final observed state; the error is non-nil only for persistence
// failures, never for per-job outcomes like Failed or Duplicate.
func (r *Runner) Run(ctx context.Context, event model.DocumentEvent) (*model.ClaimJob, error) {
	now := time.Now().UTC()
	job := &model.ClaimJob{
		ID:          uuid.New().String(),
		Fingerprint: fingerprint.Compute(event.Sender, event.Attachment),
		SourceRef:   event.EventID,
		Sender:      event.Sender,
		State:       model.JobStateNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := r.store.LookupOrInsert(ctx, job.Fingerprint, job.ID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fingerprint lookup")
	}

	if !res.Inserted {
		prior, err := r.store.GetJob(ctx, res.ExistingJobID)
		switch {
		case err != nil:
			// The fingerprint maps to a job whose create never landed
			// (crash between index insert and job insert). Adopt the
			// mapped ID and proceed as the winner.
			job.ID = res.ExistingJobID
		case prior.SourceRef == event.EventID && !prior.State.Terminal():
			// Same document redelivered after a crash: resume its job.
			return r.resume(ctx, prior, event.Attachment, event.Filename)
		default:
			return r.markDuplicate(ctx, job, res.ExistingJobID)
		}
	}

	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "pipeline: create job")
	}
	if err := r.record(ctx, job, map[string]any{"source_ref": job.SourceRef, "sender": job.Sender}); err != nil {
		return nil, err
	}

	if r.archiver != nil {
		r.archiver.Enqueue(job.ID, event.Filename, event.Attachment, "")
	}

	return r.resume(ctx, job, event.Attachment, event.Filename)
}

// Resume drives a persisted job onward from its current state. Only
// jobs that already carry a normalized claim can be resumed this way;
// jobs still at new need their document redelivered through Run.
func (r *Runner) Resume(ctx context.Context, job *model.ClaimJob) (*model.ClaimJob, error) {
	if job.State == model.JobStateNew {
		return job, eris.Errorf("pipeline: job %s has no extracted claim to resume from", job.ID)
	}
	return r.resume(ctx, job, nil, "")
}

// resume continues a job from its persisted state. The attachment is
// needed only while the job has no normalized claim yet.
func (r *Runner) resume(ctx context.Context, job *model.ClaimJob, attachment []byte, filename string) (*model.ClaimJob, error) {
	switch job.State {
	case model.JobStateNew:
		if err := r.extractAndRoute(ctx, job, attachment); err != nil {
			return job, err
		}
	case model.JobStateExtracted:
		if err := r.route(ctx, job); err != nil {
			return job, err
		}
	case model.JobStateRouted, model.JobStateSubmitting:
		// fall through to submission below
	default:
		return job, nil
	}

	if job.State == model.JobStateRouted || job.State == model.JobStateSubmitting {
		if err := r.submitJob(ctx, job); err != nil {
			return job, err
		}
	}
	return job, nil
}

func (r *Runner) extractAndRoute(ctx context.Context, job *model.ClaimJob, attachment []byte) error {
	raw, confidence, err := r.extractor.Extract(ctx, attachment)
	if err != nil {
		return r.fail(ctx, job, eris.Wrap(err, "extraction failure").Error())
	}

	claim, err := normalize.Normalize(raw, confidence)
	if err != nil {
		return r.fail(ctx, job, err.Error())
	}

	job.Claim = claim
	job.State = model.JobStateExtracted
	if err := r.persist(ctx, job); err != nil {
		return err
	}
	if err := r.record(ctx, job, map[string]any{
		"invoice_number": claim.InvoiceNumber,
		"claim_amount":   claim.ClaimAmount.String(),
		"confidence":     claim.Confidence,
	}); err != nil {
		return err
	}

	return r.route(ctx, job)
}

func (r *Runner) route(ctx context.Context, job *model.ClaimJob) error {
	route, err := r.bands.Route(job.Claim.Confidence)
	if err != nil {
		return r.fail(ctx, job, err.Error())
	}

	job.Route = route
	job.State = model.JobStateRouted
	if err := r.persist(ctx, job); err != nil {
		return err
	}
	if err := r.record(ctx, job, map[string]any{
		"route":      string(route),
		"confidence": job.Claim.Confidence,
	}); err != nil {
		return err
	}
	metrics.IncJobRouted(string(route))

	if !route.Submits() {
		return r.toException(ctx, job, "confidence below review threshold")
	}
	return nil
}

func (r *Runner) submitJob(ctx context.Context, job *model.ClaimJob) error {
	job.State = model.JobStateSubmitting
	if err := r.persist(ctx, job); err != nil {
		return err
	}
	if err := r.record(ctx, job, r.submittingPayload(job, nil)); err != nil {
		return err
	}

	payload := claimsapi.Payload{
		EventDate:      job.Claim.EventDate.Format("2006-01-02"),
		SubmissionDate: time.Now().Format(time.RFC3339),
		ClaimAmount:    job.Claim.ClaimAmount.String(),
		InvoiceNumber:  job.Claim.InvoiceNumber,
		PolicyNumber:   job.Claim.PolicyNumber,
	}

	outcome := r.submitter.Submit(ctx, job.ID, payload, func(att model.SubmissionAttempt, soFar []model.SubmissionAttempt) {
		metrics.IncSubmissionAttempt(string(att.Outcome))
		if err := r.store.AppendAttempt(ctx, job.ID, att); err != nil {
			r.log.Warn("attempt not persisted", zap.String("job_id", job.ID), zap.Error(err))
		}
		job.AttemptCount = att.Number
		if err := r.persist(ctx, job); err != nil {
			r.log.Warn("attempt count not persisted", zap.String("job_id", job.ID), zap.Error(err))
		}
		// Re-ledger the submitting record with the attempt sequence so
		// far; the (job_id, state) upsert keeps it a single row.
		if err := r.record(ctx, job, r.submittingPayload(job, soFar)); err != nil {
			r.log.Warn("attempt not ledgered", zap.String("job_id", job.ID), zap.Error(err))
		}
	})

	switch {
	case outcome.Interrupted:
		// Shutdown mid-sequence: the job stays at submitting for resume.
		r.log.Info("submission interrupted by shutdown", zap.String("job_id", job.ID))
		return nil

	case outcome.Err == nil:
		job.Reference = outcome.Reference
		job.State = model.JobStateSubmitted
		if err := r.persist(ctx, job); err != nil {
			return err
		}
		metrics.IncJobTerminal(string(job.State))
		return r.record(ctx, job, map[string]any{
			"reference": outcome.Reference,
			"flagged":   job.Route == model.RouteFlaggedSubmit,
			"attempts":  len(outcome.Attempts),
		})

	default:
		return r.fail(ctx, job, outcome.Err.Error())
	}
}

// ApproveCorrection re-enters an exception job at submitting with the
// corrected claim. Duplicate detection is not re-run; the job keeps its
// original fingerprint and identity.
func (r *Runner) ApproveCorrection(ctx context.Context, jobID string, corrected *model.ExtractedClaim) (*model.ClaimJob, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load job %s", jobID)
	}
	if job.State != model.JobStateException {
		return nil, eris.Errorf("pipeline: job %s is %s, not %s", jobID, job.State, model.JobStateException)
	}
	if corrected == nil {
		return nil, eris.New("pipeline: corrected claim required")
	}

	job.Claim = corrected
	job.FailureReason = ""
	if err := r.submitJob(ctx, job); err != nil {
		return job, err
	}

	if r.notifier != nil && job.State == model.JobStateSubmitted {
		if err := r.notifier.ResolveException(ctx, jobID); err != nil {
			r.log.Warn("review board not updated", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	return job, nil
}

func (r *Runner) markDuplicate(ctx context.Context, job *model.ClaimJob, priorJobID string) (*model.ClaimJob, error) {
	job.State = model.JobStateDuplicate
	job.FailureReason = ""
	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "pipeline: create duplicate job")
	}
	if err := r.record(ctx, job, map[string]any{"duplicate_of": priorJobID}); err != nil {
		return job, err
	}
	metrics.IncDuplicate()
	metrics.IncJobTerminal(string(job.State))
	r.log.Info("duplicate document suppressed",
		zap.String("job_id", job.ID),
		zap.String("duplicate_of", priorJobID),
	)
	return job, nil
}

func (r *Runner) toException(ctx context.Context, job *model.ClaimJob, reason string) error {
	job.State = model.JobStateException
	job.FailureReason = reason
	if err := r.persist(ctx, job); err != nil {
		return err
	}
	if err := r.record(ctx, job, map[string]any{"reason": reason}); err != nil {
		return err
	}
	metrics.IncJobTerminal(string(job.State))

	if r.notifier != nil {
		if err := r.notifier.CreateException(ctx, job.ID, job); err != nil {
			r.log.Warn("review board not notified", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, job *model.ClaimJob, reason string) error {
	job.State = model.JobStateFailed
	job.FailureReason = reason
	if err := r.persist(ctx, job); err != nil {
		return err
	}
	metrics.IncJobTerminal(string(job.State))
	r.log.Warn("claim job failed",
		zap.String("job_id", job.ID),
		zap.String("reason", reason),
	)
	return r.record(ctx, job, map[string]any{"reason": reason})
}

func (r *Runner) persist(ctx context.Context, job *model.ClaimJob) error {
	if err := r.store.UpdateJob(ctx, job); err != nil {
		return eris.Wrapf(err, "pipeline: persist job %s", job.ID)
	}
	return nil
}

// record writes the transition to the ledger before the next step runs.
func (r *Runner) record(ctx context.Context, job *model.ClaimJob, payload map[string]any) error {
	rec := model.LedgerRecord{
		JobID:     job.ID,
		State:     job.State,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if err := r.ledger.Record(ctx, rec); err != nil {
		return eris.Wrapf(err, "pipeline: ledger %s", rec.Key())
	}
	return nil
}

func (r *Runner) submittingPayload(job *model.ClaimJob, attempts []model.SubmissionAttempt) map[string]any {
	payload := map[string]any{
		"route":    string(job.Route),
		"attempts": len(attempts),
	}
	if len(attempts) > 0 {
		seq := make([]map[string]any, len(attempts))
		for i, att := range attempts {
			seq[i] = map[string]any{
				"number":  att.Number,
				"outcome": string(att.Outcome),
				"reason":  att.Reason,
			}
		}
		payload["attempt_log"] = seq
	}
	return payload
}
