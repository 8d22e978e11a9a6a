package ports

import (
	"context"

	"github.com/mikey/sms-spam-filter/internal/core"
)

// MessageFilter defines the interface for front ends that feed messages to the classifier
type MessageFilter interface {
	// ProcessMessage classifies and stores a message and reports the verdict
	ProcessMessage(ctx context.Context, msg *core.Message) (*core.Classification, error)

	// Start starts the filter
	Start() error

	// Stop stops the filter
	Stop() error
}
