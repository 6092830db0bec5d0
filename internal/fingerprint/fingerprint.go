// Package fingerprint derives stable document identities and provides the
// duplicate-suppression index.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Compute derives a stable fingerprint from the sender and the attachment
// content digest. Resubmissions of the same scan by the same sender hash
// to the same value.
func Compute(sender string, attachment []byte) string {
	content := sha256.Sum256(attachment)

	h := sha256.New()
	h.Write([]byte(sender))
	h.Write([]byte{'\n'})
	h.Write(content[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Resolution is the outcome of a lookup-or-insert. Exactly one caller per
// fingerprint ever observes Inserted.
type Resolution struct {
	Inserted      bool
	ExistingJobID string
}

// Index is the authoritative fingerprint → first-job map. Entries are
// never removed; retention is an external concern.
type Index interface {
	// LookupOrInsert atomically claims the fingerprint for jobID. If the
	// fingerprint was already claimed, the winner's job ID is returned.
	LookupOrInsert(ctx context.Context, fp, jobID string) (Resolution, error)
}

// MemoryIndex is a mutex-guarded in-process Index. The store-backed index
// is authoritative in deployments; this one serves tests and single-shot runs.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemoryIndex returns an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]string)}
}

func (m *MemoryIndex) LookupOrInsert(_ context.Context, fp, jobID string) (Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[fp]; ok {
		return Resolution{ExistingJobID: existing}, nil
	}
	m.entries[fp] = jobID
	return Resolution{Inserted: true}, nil
}
