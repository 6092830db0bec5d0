package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/meridian-benefits/claimflow/internal/fingerprint"
	"github.com/meridian-benefits/claimflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	fingerprint    TEXT NOT NULL,
	source_ref     TEXT NOT NULL,
	sender         TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	route          TEXT NOT NULL DEFAULT '',
	claim          TEXT,
	reference      TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	archive_ref    TEXT NOT NULL DEFAULT '',
	attempt_count  INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS job_attempts (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	number      INTEGER NOT NULL,
	started_at  DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	outcome     TEXT NOT NULL,
	reference   TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS fingerprints (
	fingerprint TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_buffer (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id    TEXT NOT NULL,
	state     TEXT NOT NULL,
	ts        DATETIME NOT NULL,
	payload   TEXT,
	UNIQUE(job_id, state)
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_fingerprint ON jobs(fingerprint);
CREATE INDEX IF NOT EXISTS idx_job_attempts_job_id ON job_attempts(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.ClaimJob) error {
	claimJSON, err := marshalClaim(job.Claim)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, fingerprint, source_ref, sender, state, route, claim,
		 reference, failure_reason, archive_ref, attempt_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Fingerprint, job.SourceRef, job.Sender, string(job.State),
		string(job.Route), claimJSON, job.Reference, job.FailureReason,
		job.ArchiveRef, job.AttemptCount, job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.ClaimJob) error {
	claimJSON, err := marshalClaim(job.Claim)
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, route = ?, claim = ?, reference = ?,
		 failure_reason = ?, archive_ref = ?, attempt_count = ?, updated_at = ?
		 WHERE id = ?`,
		string(job.State), string(job.Route), claimJSON, job.Reference,
		job.FailureReason, job.ArchiveRef, job.AttemptCount, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return checkRowsAffected(res, "job", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.ClaimJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, source_ref, sender, state, route, claim, reference,
		 failure_reason, archive_ref, attempt_count, created_at, updated_at
		 FROM jobs WHERE id = ?`,
		jobID,
	)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ClaimJob, error) {
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
			query += `?`
			args = append(args, string(st))
		}
		query += `)`
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.ClaimJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) AppendAttempt(ctx context.Context, jobID string, att model.SubmissionAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_attempts (job_id, number, started_at, duration_ms, outcome, reference, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jobID, att.Number, att.StartedAt, att.DurationMS, string(att.Outcome), att.Reference, att.Reason,
	)
	return eris.Wrapf(err, "sqlite: append attempt for job %s", jobID)
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, jobID string) ([]model.SubmissionAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT number, started_at, duration_ms, outcome, reference, reason
		 FROM job_attempts WHERE job_id = ? ORDER BY seq ASC`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list attempts for job %s", jobID)
	}
	defer rows.Close()

	var attempts []model.SubmissionAttempt
	for rows.Next() {
		var att model.SubmissionAttempt
		var outcome string
		if err := rows.Scan(&att.Number, &att.StartedAt, &att.DurationMS, &outcome, &att.Reference, &att.Reason); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attempt")
		}
		att.Outcome = model.AttemptOutcome(outcome)
		attempts = append(attempts, att)
	}
	return attempts, eris.Wrap(rows.Err(), "sqlite: list attempts iterate")
}

// LookupOrInsert atomically claims the fingerprint for jobID. The insert
// serializes concurrent callers at the primary key; a loser reads the
// winner's job id.
func (s *SQLiteStore) LookupOrInsert(ctx context.Context, fp, jobID string) (fingerprint.Resolution, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (fingerprint, job_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		fp, jobID, time.Now().UTC(),
	)
	if err != nil {
		return fingerprint.Resolution{}, eris.Wrap(err, "sqlite: insert fingerprint")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fingerprint.Resolution{}, eris.Wrap(err, "sqlite: fingerprint rows affected")
	}
	if n == 1 {
		return fingerprint.Resolution{Inserted: true}, nil
	}

	var existing string
	err = s.db.QueryRowContext(ctx,
		`SELECT job_id FROM fingerprints WHERE fingerprint = ?`, fp,
	).Scan(&existing)
	if err != nil {
		return fingerprint.Resolution{}, eris.Wrap(err, "sqlite: lookup fingerprint")
	}
	return fingerprint.Resolution{ExistingJobID: existing}, nil
}

// EnqueueLedger buffers a ledger record. The (job_id, state) constraint
// keeps the newest snapshot for a transition instead of duplicating it.
func (s *SQLiteStore) EnqueueLedger(ctx context.Context, rec model.LedgerRecord) error {
	payload, err := marshalPayload(rec.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledger_buffer (job_id, state, ts, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(job_id, state) DO UPDATE SET ts = excluded.ts, payload = excluded.payload`,
		rec.JobID, string(rec.State), rec.Timestamp, payload,
	)
	return eris.Wrapf(err, "sqlite: enqueue ledger record %s", rec.Key())
}

func (s *SQLiteStore) PeekLedger(ctx context.Context, limit int) ([]BufferedRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, job_id, state, ts, payload FROM ledger_buffer ORDER BY seq ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: peek ledger buffer")
	}
	defer rows.Close()

	var out []BufferedRecord
	for rows.Next() {
		var br BufferedRecord
		var state string
		var payload sql.NullString
		if err := rows.Scan(&br.Seq, &br.Record.JobID, &state, &br.Record.Timestamp, &payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan buffered record")
		}
		br.Record.State = model.JobState(state)
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &br.Record.Payload); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal buffered payload")
			}
		}
		out = append(out, br)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: peek ledger iterate")
}

func (s *SQLiteStore) AckLedger(ctx context.Context, seq int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ledger_buffer WHERE seq = ?`, seq)
	return eris.Wrapf(err, "sqlite: ack ledger seq %d", seq)
}

func (s *SQLiteStore) CountLedger(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_buffer`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count ledger buffer")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func marshalClaim(claim *model.ExtractedClaim) (sql.NullString, error) {
	if claim == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(claim)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "store: marshal claim")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func marshalPayload(payload map[string]any) (sql.NullString, error) {
	if payload == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "store: marshal payload")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.ClaimJob, error) {
	var j model.ClaimJob
	var state, route string
	var claimJSON sql.NullString

	err := row.Scan(&j.ID, &j.Fingerprint, &j.SourceRef, &j.Sender, &state, &route,
		&claimJSON, &j.Reference, &j.FailureReason, &j.ArchiveRef, &j.AttemptCount,
		&j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("job not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan job")
	}

	j.State = model.JobState(state)
	j.Route = model.Route(route)
	if claimJSON.Valid && claimJSON.String != "" {
		j.Claim = &model.ExtractedClaim{}
		if err := json.Unmarshal([]byte(claimJSON.String), j.Claim); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal claim")
		}
	}
	return &j, nil
}
