package model

import "time"

// JobState represents the lifecycle state of a claim job.
type JobState string

const (
	JobStateNew        JobState = "new"
	JobStateDuplicate  JobState = "duplicate"
	JobStateExtracted  JobState = "extracted"
	JobStateRouted     JobState = "routed"
	JobStateSubmitting JobState = "submitting"
	JobStateSubmitted  JobState = "submitted"
	JobStateException  JobState = "exception"
	JobStateFailed     JobState = "failed"
)

// Terminal reports whether the state ends normal processing. Exception is
// terminal here even though an approved correction can re-enter the
// pipeline at Submitting.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateDuplicate, JobStateSubmitted, JobStateException, JobStateFailed:
		return true
	default:
		return false
	}
}

// Route is the classifier's verdict for an extracted claim.
type Route string

const (
	RouteAutoSubmit    Route = "auto_submit"
	RouteFlaggedSubmit Route = "flagged_submit"
	RouteException     Route = "exception"
)

// Submits reports whether the route proceeds to the submission path.
func (r Route) Submits() bool {
	return r == RouteAutoSubmit || r == RouteFlaggedSubmit
}

// AttemptOutcome classifies a single submission attempt.
type AttemptOutcome string

const (
	AttemptSuccess          AttemptOutcome = "success"
	AttemptRetryableFailure AttemptOutcome = "retryable_failure"
	AttemptFatalFailure     AttemptOutcome = "fatal_failure"
)

// SubmissionAttempt records one call to the claims backend. The sequence
// on a job is append-only.
type SubmissionAttempt struct {
	Number     int            `json:"number"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMS int64          `json:"duration_ms"`
	Outcome    AttemptOutcome `json:"outcome"`
	Reference  string         `json:"reference,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// ClaimJob is the unit of work driven through the state machine. Owned
// exclusively by its worker until it reaches a terminal state.
type ClaimJob struct {
	ID            string          `json:"id"`
	Fingerprint   string          `json:"fingerprint"`
	SourceRef     string          `json:"source_ref"`
	Sender        string          `json:"sender,omitempty"`
	State         JobState        `json:"state"`
	Route         Route           `json:"route,omitempty"`
	Claim         *ExtractedClaim `json:"claim,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	ArchiveRef    string          `json:"archive_ref,omitempty"`
	AttemptCount  int             `json:"attempt_count"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
