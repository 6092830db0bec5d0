package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-benefits/claimflow/internal/model"
	"github.com/meridian-benefits/claimflow/internal/store"
	"github.com/meridian-benefits/claimflow/internal/submit"
)

type fakeSource struct {
	mu      sync.Mutex
	pending []model.DocumentEvent
	acked   []string
}

func (f *fakeSource) Poll(_ context.Context) ([]model.DocumentEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.DocumentEvent, len(f.pending))
	copy(out, f.pending)
	return out, nil
}

func (f *fakeSource) Ack(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, eventID)
	kept := f.pending[:0]
	for _, e := range f.pending {
		if e.EventID != eventID {
			kept = append(kept, e)
		}
	}
	f.pending = kept
	return nil
}

func (f *fakeSource) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.acked))
	copy(out, f.acked)
	return out
}

func TestCoordinator_CycleProcessesAndAcks(t *testing.T) {
	f := newRunnerFixture(t)
	src := &fakeSource{}
	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		src.pending = append(src.pending, testEvent(id))
	}

	c := NewCoordinator(f.runner, src, f.store, CoordinatorConfig{Workers: 2})
	require.NoError(t, c.cycle(context.Background()))

	assert.ElementsMatch(t, []string{"evt-1", "evt-2", "evt-3"}, src.ackedIDs())

	jobs, err := f.store.ListJobs(context.Background(), store.JobFilter{State: model.JobStateSubmitted})
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
	dups, err := f.store.ListJobs(context.Background(), store.JobFilter{State: model.JobStateDuplicate})
	require.NoError(t, err)
	assert.Empty(t, dups)
}

func TestCoordinator_SameFingerprintDeferred(t *testing.T) {
	f := newRunnerFixture(t)
	src := &fakeSource{}
	// Two deliveries of identical content. Exactly one wins; the other
	// settles as a duplicate, this cycle or the next.
	a := testEvent("shared")
	a.EventID = "evt-a"
	b := testEvent("shared")
	b.EventID = "evt-b"
	src.pending = []model.DocumentEvent{a, b}

	c := NewCoordinator(f.runner, src, f.store, CoordinatorConfig{Workers: 1})
	require.NoError(t, c.cycle(context.Background()))
	require.NoError(t, c.cycle(context.Background()))

	assert.ElementsMatch(t, []string{"evt-a", "evt-b"}, src.ackedIDs())

	dups, err := f.store.ListJobs(context.Background(), store.JobFilter{State: model.JobStateDuplicate})
	require.NoError(t, err)
	assert.Len(t, dups, 1)
	winners, err := f.store.ListJobs(context.Background(), store.JobFilter{State: model.JobStateSubmitted})
	require.NoError(t, err)
	assert.Len(t, winners, 1)
	assert.Len(t, f.submitter.payloads, 1)
}

func TestCoordinator_ResumeDrivesInterruptedJobs(t *testing.T) {
	f := newRunnerFixture(t)
	f.submitter.outcome = submit.Outcome{Interrupted: true}
	f.submitter.attempts = nil

	job, err := f.runner.Run(context.Background(), testEvent("evt-1"))
	require.NoError(t, err)
	require.Equal(t, model.JobStateSubmitting, job.State)

	f.submitter.outcome = submit.Outcome{Reference: "REF-R"}
	f.submitter.attempts = []model.SubmissionAttempt{
		{Number: 1, Outcome: model.AttemptSuccess, Reference: "REF-R"},
	}

	c := NewCoordinator(f.runner, &fakeSource{}, f.store, CoordinatorConfig{})
	require.NoError(t, c.Resume(context.Background()))

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateSubmitted, stored.State)
	assert.Equal(t, "REF-R", stored.Reference)
}

func TestCoordinator_ResumeIgnoresTerminalJobs(t *testing.T) {
	f := newRunnerFixture(t)

	job, err := f.runner.Run(context.Background(), testEvent("evt-1"))
	require.NoError(t, err)
	require.Equal(t, model.JobStateSubmitted, job.State)

	c := NewCoordinator(f.runner, &fakeSource{}, f.store, CoordinatorConfig{})
	require.NoError(t, c.Resume(context.Background()))

	assert.Len(t, f.submitter.payloads, 1)
}

func TestCoordinator_RunStopsOnCancel(t *testing.T) {
	f := newRunnerFixture(t)
	src := &fakeSource{}
	c := NewCoordinator(f.runner, src, f.store, CoordinatorConfig{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop after cancel")
	}
}

func TestCoordinator_Defaults(t *testing.T) {
	c := NewCoordinator(nil, nil, nil, CoordinatorConfig{})
	assert.Equal(t, 4, c.cfg.Workers)
	assert.Equal(t, 30*time.Second, c.cfg.PollInterval)
}
