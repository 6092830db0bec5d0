// Package inbound polls document drop points for new claim scans.
package inbound

import (
	"context"

	"github.com/meridian-benefits/claimflow/internal/model"
)

// Source yields inbound claim documents. Poll returns whatever is
// currently waiting; Ack removes a consumed document from the drop point
// so it is not returned again.
type Source interface {
	Poll(ctx context.Context) ([]model.DocumentEvent, error)
	Ack(ctx context.Context, eventID string) error
}
