package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-benefits/claimflow/internal/model"
	"github.com/meridian-benefits/claimflow/internal/store"
)

// flakySink records accepted writes and can be toggled down.
type flakySink struct {
	mu       sync.Mutex
	down     bool
	accepted []model.LedgerRecord
}

func (f *flakySink) AppendOrUpdate(_ context.Context, rec model.LedgerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return eris.New("sink unavailable")
	}
	f.accepted = append(f.accepted, rec)
	return nil
}

func (f *flakySink) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakySink) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.accepted))
	for i, r := range f.accepted {
		out[i] = r.Key()
	}
	return out
}

func newTestWriter(t *testing.T) (*Writer, *flakySink, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "buffer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	sink := &flakySink{}
	return NewWriter(sink, st, Config{}), sink, st
}

func rec(jobID string, state model.JobState) model.LedgerRecord {
	return model.LedgerRecord{JobID: jobID, State: state, Timestamp: time.Now().UTC()}
}

func TestWriter_RecordHitsSinkDirectly(t *testing.T) {
	w, sink, st := newTestWriter(t)
	ctx := context.Background()

	require.NoError(t, w.Record(ctx, rec("j1", model.JobStateNew)))

	assert.Equal(t, []string{"j1/new"}, sink.keys())
	n, err := st.CountLedger(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriter_SinkDownBuffersRecord(t *testing.T) {
	w, sink, st := newTestWriter(t)
	ctx := context.Background()
	sink.setDown(true)

	require.NoError(t, w.Record(ctx, rec("j1", model.JobStateNew)))

	assert.Empty(t, sink.keys())
	n, err := st.CountLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWriter_NonEmptyBufferForcesBuffering(t *testing.T) {
	w, sink, st := newTestWriter(t)
	ctx := context.Background()

	sink.setDown(true)
	require.NoError(t, w.Record(ctx, rec("j1", model.JobStateNew)))

	// Sink is back, but the earlier record is still buffered: the new
	// one must queue behind it to keep the sink in order.
	sink.setDown(false)
	require.NoError(t, w.Record(ctx, rec("j1", model.JobStateExtracted)))

	assert.Empty(t, sink.keys())
	n, err := st.CountLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWriter_FlushReplaysInOrder(t *testing.T) {
	w, sink, st := newTestWriter(t)
	ctx := context.Background()

	sink.setDown(true)
	require.NoError(t, w.Record(ctx, rec("j1", model.JobStateNew)))
	require.NoError(t, w.Record(ctx, rec("j1", model.JobStateExtracted)))
	require.NoError(t, w.Record(ctx, rec("j2", model.JobStateNew)))

	sink.setDown(false)
	replayed, err := w.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, replayed)
	assert.Equal(t, []string{"j1/new", "j1/extracted", "j2/new"}, sink.keys())

	n, err := st.CountLedger(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriter_FlushStopsAtFirstFailure(t *testing.T) {
	w, sink, st := newTestWriter(t)
	ctx := context.Background()

	sink.setDown(true)
	require.NoError(t, w.Record(ctx, rec("j1", model.JobStateNew)))
	require.NoError(t, w.Record(ctx, rec("j1", model.JobStateExtracted)))

	_, err := w.Flush(ctx)
	require.Error(t, err)

	// Nothing acked, nothing reordered.
	n, err := st.CountLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWriter_ReplayKeepsUpsertSemantics(t *testing.T) {
	w, sink, _ := newTestWriter(t)
	ctx := context.Background()

	sink.setDown(true)
	r := rec("j1", model.JobStateSubmitting)
	r.Payload = map[string]any{"attempts": float64(1)}
	require.NoError(t, w.Record(ctx, r))

	// Same transition recorded again while buffered collapses into one
	// buffered row holding the latest payload.
	r.Payload = map[string]any{"attempts": float64(2)}
	require.NoError(t, w.Record(ctx, r))

	sink.setDown(false)
	replayed, err := w.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.accepted, 1)
	assert.Equal(t, float64(2), sink.accepted[0].Payload["attempts"])
}

func TestWriter_RunReplaysOnTick(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "buffer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	sink := &flakySink{}
	w := NewWriter(sink, st, Config{ReplayInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink.setDown(true)
	require.NoError(t, w.Record(ctx, rec("j1", model.JobStateNew)))
	sink.setDown(false)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(sink.keys()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
