// Package ledger records every job state transition to the durable sink,
// falling back to the local store buffer when the sink is unavailable.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-benefits/claimflow/internal/metrics"
	"github.com/meridian-benefits/claimflow/internal/model"
	"github.com/meridian-benefits/claimflow/internal/store"
	"github.com/meridian-benefits/claimflow/pkg/ledgersink"
)

// Config tunes the background replay loop.
type Config struct {
	ReplayInterval time.Duration `yaml:"replay_interval" mapstructure:"replay_interval"`
	ReplayBatch    int           `yaml:"replay_batch" mapstructure:"replay_batch"`
}

func (c Config) withDefaults() Config {
	if c.ReplayInterval <= 0 {
		c.ReplayInterval = 15 * time.Second
	}
	if c.ReplayBatch <= 0 {
		c.ReplayBatch = 100
	}
	return c
}

// Writer is the pipeline's write-ahead ledger. Record never loses an
// accepted record: a sink failure lands it in the store buffer, and the
// replay loop drains the buffer in original order once the sink recovers.
type Writer struct {
	sink  ledgersink.Sink
	store store.Store
	cfg   Config
	log   *zap.Logger

	// mu serializes sink writes so replayed records cannot interleave
	// with fresh ones.
	mu sync.Mutex
}

// NewWriter creates a ledger writer over sink with st as the local buffer.
func NewWriter(sink ledgersink.Sink, st store.Store, cfg Config) *Writer {
	return &Writer{
		sink:  sink,
		store: st,
		cfg:   cfg.withDefaults(),
		log:   zap.L().With(zap.String("component", "ledger.writer")),
	}
}

// Record writes rec to the sink, or buffers it when the sink is down or
// older records are still waiting. Returns an error only if the buffer
// itself rejects the record.
func (w *Writer) Record(ctx context.Context, rec model.LedgerRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Older records waiting in the buffer must reach the sink first.
	pending, err := w.store.CountLedger(ctx)
	if err != nil {
		return eris.Wrap(err, "ledger: count buffer")
	}
	if pending > 0 {
		return w.buffer(ctx, rec)
	}

	if err := w.sink.AppendOrUpdate(ctx, rec); err != nil {
		w.log.Warn("ledger sink unavailable, buffering record",
			zap.String("record", rec.Key()),
			zap.Error(err),
		)
		return w.buffer(ctx, rec)
	}
	return nil
}

func (w *Writer) buffer(ctx context.Context, rec model.LedgerRecord) error {
	if err := w.store.EnqueueLedger(ctx, rec); err != nil {
		return eris.Wrapf(err, "ledger: buffer record %s", rec.Key())
	}
	if n, err := w.store.CountLedger(ctx); err == nil {
		metrics.SetLedgerBufferDepth(n)
	}
	return nil
}

// Run starts the periodic replay loop. It blocks until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) {
	w.log.Info("starting ledger replay loop",
		zap.Duration("interval", w.cfg.ReplayInterval),
	)

	ticker := time.NewTicker(w.cfg.ReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("ledger replay loop stopped")
			return
		case <-ticker.C:
			if _, err := w.Flush(ctx); err != nil {
				w.log.Debug("ledger replay pass incomplete", zap.Error(err))
			}
		}
	}
}

// Flush drains the buffer into the sink in insertion order, acknowledging
// each record only after the sink accepts it. It stops at the first sink
// failure to preserve ordering and returns the count replayed.
func (w *Writer) Flush(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	replayed := 0
	for {
		batch, err := w.store.PeekLedger(ctx, w.cfg.ReplayBatch)
		if err != nil {
			return replayed, eris.Wrap(err, "ledger: peek buffer")
		}
		if len(batch) == 0 {
			break
		}

		for _, br := range batch {
			if err := ctx.Err(); err != nil {
				return replayed, eris.Wrap(err, "ledger: flush cancelled")
			}
			if err := w.sink.AppendOrUpdate(ctx, br.Record); err != nil {
				w.updateDepth(ctx)
				return replayed, eris.Wrapf(err, "ledger: replay record %s", br.Record.Key())
			}
			if err := w.store.AckLedger(ctx, br.Seq); err != nil {
				return replayed, eris.Wrapf(err, "ledger: ack seq %d", br.Seq)
			}
			replayed++
			metrics.IncLedgerReplayed()
		}
	}

	if replayed > 0 {
		w.log.Info("ledger buffer replayed", zap.Int("records", replayed))
	}
	w.updateDepth(ctx)
	return replayed, nil
}

// Pending reports how many records are waiting in the local buffer.
func (w *Writer) Pending(ctx context.Context) (int, error) {
	return w.store.CountLedger(ctx)
}

func (w *Writer) updateDepth(ctx context.Context) {
	if n, err := w.store.CountLedger(ctx); err == nil {
		metrics.SetLedgerBufferDepth(n)
	}
}
