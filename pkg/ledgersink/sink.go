// Package ledgersink writes claim ledger records to their durable
// destination. The pipeline treats the sink as best-effort: failures are
// absorbed by the local buffer and replayed later.
package ledgersink

import (
	"context"

	"github.com/meridian-benefits/claimflow/internal/model"
)

// Sink accepts ledger records keyed by (job_id, state). Writing the same
// key twice must update the existing entry rather than duplicate it.
type Sink interface {
	AppendOrUpdate(ctx context.Context, rec model.LedgerRecord) error
}
