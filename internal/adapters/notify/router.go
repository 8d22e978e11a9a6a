// Package notify decides how loudly a classified message is announced.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/core"
)

// Urgency of a notification
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencySilent Urgency = "silent"
	UrgencyNone   Urgency = "none"
)

// UrgencyFor maps a category to its notification urgency
func UrgencyFor(category core.Category) Urgency {
	switch category {
	case core.CategoryInbox:
		return UrgencyHigh
	case core.CategoryNeedsReview:
		return UrgencySilent
	default:
		return UrgencyNone
	}
}

// LogRouter implements core.NotificationRouter by logging the decision and
// counting deliveries per urgency
type LogRouter struct {
	logger *zap.Logger

	mu     sync.Mutex
	counts map[Urgency]int
}

// NewLogRouter creates a new LogRouter
func NewLogRouter(logger *zap.Logger) *LogRouter {
	return &LogRouter{
		logger: logger.Named("notify"),
		counts: make(map[Urgency]int),
	}
}

// Route implements core.NotificationRouter
func (r *LogRouter) Route(ctx context.Context, msg *core.Message, result *core.Classification) error {
	urgency := UrgencyFor(result.Category)

	r.mu.Lock()
	r.counts[urgency]++
	r.mu.Unlock()

	if urgency == UrgencyNone {
		r.logger.Debug("Notification suppressed",
			zap.Int64("message_id", msg.ID),
			zap.String("sender", msg.Sender))
		return nil
	}

	r.logger.Info("Notification",
		zap.Int64("message_id", msg.ID),
		zap.String("sender", msg.Sender),
		zap.String("urgency", string(urgency)),
		zap.String("category", string(result.Category)))
	return nil
}

// Counts returns how many messages were routed at each urgency
func (r *LogRouter) Counts() map[Urgency]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Urgency]int, len(r.counts))
	for u, n := range r.counts {
		out[u] = n
	}
	return out
}
