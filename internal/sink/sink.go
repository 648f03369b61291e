// Package sink hands normalized invoice lines to downstream storage.
package sink

import (
	"context"
	"errors"

	"taxrelay.app/relay/internal/model"
)

var ErrNotFound = errors.New("invoice line not found")

// Sink accepts canonical records. Submitting the same line id twice must be harmless.
type Sink interface {
	Submit(ctx context.Context, line model.NormalizedInvoiceLine) error
}
