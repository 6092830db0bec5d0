// Package store persists claim jobs, the fingerprint index, and the
// local ledger buffer.
package store

import (
	"context"

	"github.com/meridian-benefits/claimflow/internal/fingerprint"
	"github.com/meridian-benefits/claimflow/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	State  model.JobState   `json:"state,omitempty"`
	States []model.JobState `json:"states,omitempty"`
	Limit  int              `json:"limit,omitempty"`
}

// BufferedRecord is a ledger record held in the local buffer, ordered by
// its insertion sequence.
type BufferedRecord struct {
	Seq    int64              `json:"seq"`
	Record model.LedgerRecord `json:"record"`
}

// Store defines the persistence interface for the claim pipeline. Every
// Store also satisfies fingerprint.Index.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.ClaimJob) error
	UpdateJob(ctx context.Context, job *model.ClaimJob) error
	GetJob(ctx context.Context, jobID string) (*model.ClaimJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.ClaimJob, error)

	// Submission attempts (append-only per job)
	AppendAttempt(ctx context.Context, jobID string, att model.SubmissionAttempt) error
	ListAttempts(ctx context.Context, jobID string) ([]model.SubmissionAttempt, error)

	// Fingerprint index
	LookupOrInsert(ctx context.Context, fp, jobID string) (fingerprint.Resolution, error)

	// Ledger buffer (ordered, one row per (job_id, state))
	EnqueueLedger(ctx context.Context, rec model.LedgerRecord) error
	PeekLedger(ctx context.Context, limit int) ([]BufferedRecord, error)
	AckLedger(ctx context.Context, seq int64) error
	CountLedger(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
