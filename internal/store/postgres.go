package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/meridian-benefits/claimflow/internal/db"
	"github.com/meridian-benefits/claimflow/internal/fingerprint"
	"github.com/meridian-benefits/claimflow/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_job": `SELECT id, fingerprint, source_ref, sender, state, route, claim, reference,
	 failure_reason, archive_ref, attempt_count, created_at, updated_at FROM jobs WHERE id = $1`,
	"update_job": `UPDATE jobs SET state = $1, route = $2, claim = $3, reference = $4,
	 failure_reason = $5, archive_ref = $6, attempt_count = $7, updated_at = $8 WHERE id = $9`,
	"insert_fingerprint": `INSERT INTO fingerprints (fingerprint, job_id, created_at) VALUES ($1, $2, $3)
	 ON CONFLICT (fingerprint) DO NOTHING`,
	"append_attempt": `INSERT INTO job_attempts (job_id, number, started_at, duration_ms, outcome, reference, reason)
	 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"enqueue_ledger": `INSERT INTO ledger_buffer (job_id, state, ts, payload) VALUES ($1, $2, $3, $4)
	 ON CONFLICT (job_id, state) DO UPDATE SET ts = EXCLUDED.ts, payload = EXCLUDED.payload`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	fingerprint    TEXT NOT NULL,
	source_ref     TEXT NOT NULL,
	sender         TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	route          TEXT NOT NULL DEFAULT '',
	claim          JSONB,
	reference      TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	archive_ref    TEXT NOT NULL DEFAULT '',
	attempt_count  INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_attempts (
	seq         BIGSERIAL PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	number      INTEGER NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	outcome     TEXT NOT NULL,
	reference   TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS fingerprints (
	fingerprint TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger_buffer (
	seq     BIGSERIAL PRIMARY KEY,
	job_id  TEXT NOT NULL,
	state   TEXT NOT NULL,
	ts      TIMESTAMPTZ NOT NULL,
	payload JSONB,
	UNIQUE (job_id, state)
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_fingerprint ON jobs(fingerprint);
CREATE INDEX IF NOT EXISTS idx_job_attempts_job_id ON job_attempts(job_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.ClaimJob) error {
	claimJSON, err := marshalClaimJSON(job.Claim)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, fingerprint, source_ref, sender, state, route, claim,
		 reference, failure_reason, archive_ref, attempt_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.Fingerprint, job.SourceRef, job.Sender, string(job.State),
		string(job.Route), claimJSON, job.Reference, job.FailureReason,
		job.ArchiveRef, job.AttemptCount, job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.ClaimJob) error {
	claimJSON, err := marshalClaimJSON(job.Claim)
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $1, route = $2, claim = $3, reference = $4,
		 failure_reason = $5, archive_ref = $6, attempt_count = $7, updated_at = $8
		 WHERE id = $9`,
		string(job.State), string(job.Route), claimJSON, job.Reference,
		job.FailureReason, job.ArchiveRef, job.AttemptCount, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.ClaimJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, fingerprint, source_ref, sender, state, route, claim, reference,
		 failure_reason, archive_ref, attempt_count, created_at, updated_at
		 FROM jobs WHERE id = $1`,
		jobID,
	)
	j, err := scanJobPG(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ClaimJob, error) {
	query := `SELECT id, fingerprint, source_ref, sender, state, route, claim, reference,
	 failure_reason, archive_ref, attempt_count, created_at, updated_at
	 FROM jobs WHERE 1=1`
	var args []any

	states := filter.States
	if filter.State != "" {
		states = append(states, filter.State)
	}
	if len(states) > 0 {
		query += ` AND state IN (`
		for i, st := range states {
			if i > 0 {
				query += `, `
			}
			args = append(args, string(st))
			query += fmt.Sprintf(`$%d`, len(args))
		}
		query += `)`
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.ClaimJob
	for rows.Next() {
		j, err := scanJobPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) AppendAttempt(ctx context.Context, jobID string, att model.SubmissionAttempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_attempts (job_id, number, started_at, duration_ms, outcome, reference, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		jobID, att.Number, att.StartedAt, att.DurationMS, string(att.Outcome), att.Reference, att.Reason,
	)
	return eris.Wrapf(err, "postgres: append attempt for job %s", jobID)
}

func (s *PostgresStore) ListAttempts(ctx context.Context, jobID string) ([]model.SubmissionAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT number, started_at, duration_ms, outcome, reference, reason
		 FROM job_attempts WHERE job_id = $1 ORDER BY seq ASC`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list attempts for job %s", jobID)
	}
	defer rows.Close()

	var attempts []model.SubmissionAttempt
	for rows.Next() {
		var att model.SubmissionAttempt
		var outcome string
		if err := rows.Scan(&att.Number, &att.StartedAt, &att.DurationMS, &outcome, &att.Reference, &att.Reason); err != nil {
			return nil, eris.Wrap(err, "postgres: scan attempt")
		}
		att.Outcome = model.AttemptOutcome(outcome)
		attempts = append(attempts, att)
	}
	return attempts, eris.Wrap(rows.Err(), "postgres: list attempts iterate")
}

// LookupOrInsert atomically claims the fingerprint for jobID. The unique
// constraint serializes concurrent callers; a loser reads the winner's
// job id.
func (s *PostgresStore) LookupOrInsert(ctx context.Context, fp, jobID string) (fingerprint.Resolution, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO fingerprints (fingerprint, job_id, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fp, jobID, time.Now().UTC(),
	)
	if err != nil {
		return fingerprint.Resolution{}, eris.Wrap(err, "postgres: insert fingerprint")
	}
	if tag.RowsAffected() == 1 {
		return fingerprint.Resolution{Inserted: true}, nil
	}

	var existing string
	err = s.pool.QueryRow(ctx,
		`SELECT job_id FROM fingerprints WHERE fingerprint = $1`, fp,
	).Scan(&existing)
	if err != nil {
		return fingerprint.Resolution{}, eris.Wrap(err, "postgres: lookup fingerprint")
	}
	return fingerprint.Resolution{ExistingJobID: existing}, nil
}

// EnqueueLedger buffers a ledger record, keeping the newest snapshot per
// (job_id, state).
func (s *PostgresStore) EnqueueLedger(ctx context.Context, rec model.LedgerRecord) error {
	payload, err := marshalPayloadJSON(rec.Payload)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ledger_buffer (job_id, state, ts, payload) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (job_id, state) DO UPDATE SET ts = EXCLUDED.ts, payload = EXCLUDED.payload`,
		rec.JobID, string(rec.State), rec.Timestamp, payload,
	)
	return eris.Wrapf(err, "postgres: enqueue ledger record %s", rec.Key())
}

func (s *PostgresStore) PeekLedger(ctx context.Context, limit int) ([]BufferedRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT seq, job_id, state, ts, payload FROM ledger_buffer ORDER BY seq ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: peek ledger buffer")
	}
	defer rows.Close()

	var out []BufferedRecord
	for rows.Next() {
		var br BufferedRecord
		var state string
		var payload []byte
		if err := rows.Scan(&br.Seq, &br.Record.JobID, &state, &br.Record.Timestamp, &payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan buffered record")
		}
		br.Record.State = model.JobState(state)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &br.Record.Payload); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal buffered payload")
			}
		}
		out = append(out, br)
	}
	return out, eris.Wrap(rows.Err(), "postgres: peek ledger iterate")
}

func (s *PostgresStore) AckLedger(ctx context.Context, seq int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM ledger_buffer WHERE seq = $1`, seq)
	return eris.Wrapf(err, "postgres: ack ledger seq %d", seq)
}

func (s *PostgresStore) CountLedger(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_buffer`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count ledger buffer")
}

func marshalClaimJSON(claim *model.ExtractedClaim) ([]byte, error) {
	if claim == nil {
		return nil, nil
	}
	data, err := json.Marshal(claim)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal claim")
	}
	return data, nil
}

func marshalPayloadJSON(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal payload")
	}
	return data, nil
}

func scanJobPG(row pgx.Row) (*model.ClaimJob, error) {
	var j model.ClaimJob
	var state, route string
	var claimJSON []byte

	err := row.Scan(&j.ID, &j.Fingerprint, &j.SourceRef, &j.Sender, &state, &route,
		&claimJSON, &j.Reference, &j.FailureReason, &j.ArchiveRef, &j.AttemptCount,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("job not found")
	}
	if err != nil {
		return nil, err
	}

	j.State = model.JobState(state)
	j.Route = model.Route(route)
	if len(claimJSON) > 0 {
		j.Claim = &model.ExtractedClaim{}
		if err := json.Unmarshal(claimJSON, j.Claim); err != nil {
			return nil, eris.Wrap(err, "unmarshal claim")
		}
	}
	return &j, nil
}
