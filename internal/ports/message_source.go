package ports

import (
	"context"

	"github.com/mikey/sms-spam-filter/internal/core"
)

// MessageSource delivers normalized incoming messages
type MessageSource interface {
	// Next returns the next message, or io.EOF when the source is exhausted
	Next(ctx context.Context) (*core.Message, error)

	// Close releases the source
	Close() error
}
