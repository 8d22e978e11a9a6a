package reputation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/adapters/storage/memory"
	"github.com/mikey/sms-spam-filter/internal/core"
)

type failingRepo struct {
	calls atomic.Int32
}

func (f *failingRepo) Get(context.Context, string) (*core.SenderReputation, error) {
	f.calls.Add(1)
	return nil, errors.New("database is locked")
}

func (f *failingRepo) Upsert(context.Context, core.ReputationUpdate) (*core.SenderReputation, error) {
	return nil, errors.New("database is locked")
}

func TestStore_PassThrough(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memory.NewStore(zap.NewNop()).Reputation(), DefaultBreakerSettings(), zap.NewNop())

	rep, err := s.Get(ctx, "AMZN")
	require.NoError(t, err)
	assert.Nil(t, rep)

	rep, err = s.SetPinned(ctx, "AMZN", true)
	require.NoError(t, err)
	assert.True(t, rep.PinnedToInbox)

	rep, err = s.SetAutoSpam(ctx, "AMZN", true)
	require.NoError(t, err)
	assert.True(t, rep.AutoSpam)
	assert.False(t, rep.PinnedToInbox, "the two flags are never both set")

	rep, err = s.Get(ctx, "AMZN")
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.True(t, rep.AutoSpam)

	// callers get their own copy
	rep.AutoSpam = false
	again, _ := s.Get(ctx, "AMZN")
	assert.True(t, again.AutoSpam)
}

func TestStore_BreakerOpensAfterFailures(t *testing.T) {
	repo := &failingRepo{}
	s := NewStore(repo, BreakerSettings{ConsecutiveFailures: 3, Timeout: time.Hour}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Get(ctx, "AMZN")
		assert.ErrorIs(t, err, core.ErrReputationLookup)
	}
	assert.Equal(t, int32(3), repo.calls.Load())
	assert.Equal(t, "open", s.State())

	// open breaker fails fast without touching the repository
	_, err := s.Get(ctx, "AMZN")
	assert.ErrorIs(t, err, core.ErrReputationLookup)
	assert.Equal(t, int32(3), repo.calls.Load())
}

func TestStore_CancelledCallsDoNotTrip(t *testing.T) {
	repo := &cancelledRepo{}
	s := NewStore(repo, BreakerSettings{ConsecutiveFailures: 1, Timeout: time.Hour}, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := s.Get(context.Background(), "AMZN")
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", s.State())
}

type cancelledRepo struct{}

func (cancelledRepo) Get(context.Context, string) (*core.SenderReputation, error) {
	return nil, context.Canceled
}

func (cancelledRepo) Upsert(context.Context, core.ReputationUpdate) (*core.SenderReputation, error) {
	return nil, context.Canceled
}

// slowRepo blocks reads until released, honouring the read's context
type slowRepo struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *slowRepo) Get(ctx context.Context, sender string) (*core.SenderReputation, error) {
	r.once.Do(func() { close(r.started) })
	select {
	case <-r.release:
		return &core.SenderReputation{Sender: sender, PinnedToInbox: true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *slowRepo) Upsert(context.Context, core.ReputationUpdate) (*core.SenderReputation, error) {
	return nil, errors.New("read only")
}

func TestStore_SharedReadSurvivesFirstCallerTimeout(t *testing.T) {
	repo := &slowRepo{started: make(chan struct{}), release: make(chan struct{})}
	s := NewStore(repo, DefaultBreakerSettings(), zap.NewNop())

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Get(short, "AMZN")
		firstErr <- err
	}()
	<-repo.started

	type outcome struct {
		rep *core.SenderReputation
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		rep, err := s.Get(context.Background(), "AMZN")
		second <- outcome{rep, err}
	}()

	err := <-firstErr
	assert.ErrorIs(t, err, core.ErrReputationLookup)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(repo.release)
	got := <-second
	require.NoError(t, got.err)
	require.NotNil(t, got.rep)
	assert.True(t, got.rep.PinnedToInbox)
	assert.Equal(t, "closed", s.State())
}
