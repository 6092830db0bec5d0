package model

import "time"

// LedgerRecord is one audit row per job-state transition. The sink holds
// at most one row per (JobID, State); replays upsert on that key.
type LedgerRecord struct {
	JobID     string         `json:"job_id"`
	State     JobState       `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Key returns the idempotence key for the record.
func (r LedgerRecord) Key() string {
	return r.JobID + "/" + string(r.State)
}
