// Package reputation guards sender reputation reads with a circuit breaker and
// collapses concurrent reads of the same sender into one.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mikey/sms-spam-filter/internal/core"
)

// BreakerSettings configures the read circuit breaker
type BreakerSettings struct {
	// MaxRequests allowed while half-open
	MaxRequests uint32
	// Interval after which failure counts reset while closed
	Interval time.Duration
	// Timeout the breaker stays open before probing again
	Timeout time.Duration
	// ConsecutiveFailures that open the breaker
	ConsecutiveFailures uint32
}

// DefaultBreakerSettings returns the settings used when nothing is configured
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Store decorates a core.ReputationRepository
type Store struct {
	repo   core.ReputationRepository
	cb     *gobreaker.CircuitBreaker
	flight singleflight.Group
	logger *zap.Logger
}

// NewStore wraps repo
func NewStore(repo core.ReputationRepository, settings BreakerSettings, logger *zap.Logger) *Store {
	logger = logger.Named("reputation")
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}

	return &Store{
		repo:   repo,
		logger: logger,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "reputation-read",
			MaxRequests: settings.MaxRequests,
			Interval:    settings.Interval,
			Timeout:     settings.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
			// a cancelled read says nothing about the store's health
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			},
		}),
	}
}

// Get returns the sender's reputation, or nil if there is none.
// Failures, including an open breaker, are wrapped with core.ErrReputationLookup.
// The shared read is detached from any one caller; each caller stops
// waiting when its own ctx is done.
func (s *Store) Get(ctx context.Context, sender string) (*core.SenderReputation, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(sender, func() (interface{}, error) {
		return s.cb.Execute(func() (interface{}, error) {
			return s.repo.Get(shared, sender)
		})
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", core.ErrReputationLookup, ctx.Err())
	}
	if res.Err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrReputationLookup, res.Err)
	}

	rep, _ := res.Val.(*core.SenderReputation)
	if rep == nil {
		return nil, nil
	}
	// results are shared between callers
	cp := *rep
	return &cp, nil
}

// Upsert writes through to the wrapped repository
func (s *Store) Upsert(ctx context.Context, update core.ReputationUpdate) (*core.SenderReputation, error) {
	rep, err := s.repo.Upsert(ctx, update)
	s.flight.Forget(update.Sender)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Sender reputation written",
		zap.String("sender", rep.Sender),
		zap.Bool("pinned", rep.PinnedToInbox),
		zap.Bool("auto_spam", rep.AutoSpam),
		zap.Float64("importance", rep.ImportanceScore),
		zap.Float64("spam", rep.SpamScore))
	return rep, nil
}

// SetPinned pins or unpins a sender; pinning clears auto-spam
func (s *Store) SetPinned(ctx context.Context, sender string, pinned bool) (*core.SenderReputation, error) {
	return s.Upsert(ctx, core.PinUpdate(sender, pinned))
}

// SetAutoSpam sets or clears auto-spam; setting it clears the pin
func (s *Store) SetAutoSpam(ctx context.Context, sender string, autoSpam bool) (*core.SenderReputation, error) {
	return s.Upsert(ctx, core.AutoSpamUpdate(sender, autoSpam))
}

// State returns the breaker state for diagnostics
func (s *Store) State() string {
	return s.cb.State().String()
}
