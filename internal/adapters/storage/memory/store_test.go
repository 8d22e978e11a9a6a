package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/core"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMessageRepo(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())
	repo := s.Messages()

	msg := &core.Message{Sender: "VM-PROMO", Body: "offer", Timestamp: base, Category: core.CategorySpam}
	id, err := repo.Insert(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Zero(t, msg.ID, "caller's message is not modified")

	_, err = repo.Insert(ctx, msg)
	assert.ErrorIs(t, err, core.ErrDuplicate)

	for i := 1; i <= 3; i++ {
		_, err := repo.Insert(ctx, &core.Message{Sender: "VM-PROMO", Body: "offer", Timestamp: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	recent, err := repo.RecentBySender(ctx, "VM-PROMO", base.Add(time.Minute), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].Timestamp.Before(recent[1].Timestamp))
	assert.Equal(t, int64(4), recent[1].ID)

	require.NoError(t, repo.UpdateCategory(ctx, id, core.CategoryInbox, true))
	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.CategoryInbox, got.Category)
	require.NotNil(t, got.ManualCategory)

	// returned copies do not alias the store
	got.Category = core.CategorySpam
	again, _ := repo.Get(ctx, id)
	assert.Equal(t, core.CategoryInbox, again.Category)

	require.NoError(t, repo.SoftDelete(ctx, id, base))
	purged, err := repo.Purge(ctx, base.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	_, err = repo.Get(ctx, id)
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.ErrorIs(t, repo.Restore(ctx, id), core.ErrNotFound)
}

func TestReputationRepo(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())
	s.SetClock(func() time.Time { return base })
	repo := s.Reputation()

	rep, err := repo.Get(ctx, "AMZN")
	require.NoError(t, err)
	assert.Nil(t, rep)

	rep, err = repo.Upsert(ctx, core.PinUpdate("AMZN", true))
	require.NoError(t, err)
	assert.True(t, rep.PinnedToInbox)
	assert.Equal(t, base, rep.LastCorrectedAt)

	rep, err = repo.Upsert(ctx, core.AutoSpamUpdate("AMZN", true))
	require.NoError(t, err)
	assert.True(t, rep.AutoSpam)
	assert.False(t, rep.PinnedToInbox)
}

func TestAuditRepo(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())
	audit := s.Audit()

	id := int64(7)
	require.NoError(t, audit.Insert(ctx, &core.AuditRecord{ID: "a", MessageID: &id, Classifier: "rule", CreatedAt: base}))
	require.NoError(t, audit.Insert(ctx, &core.AuditRecord{ID: "b", MessageID: &id, Classifier: "hybrid", CreatedAt: base}))
	require.NoError(t, audit.Insert(ctx, &core.AuditRecord{ID: "a", MessageID: &id, Classifier: "ignored", CreatedAt: base.Add(time.Hour)}))

	rec, err := audit.LatestFor(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "b", rec.ID)

	removed, err := audit.PruneOlderThan(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	rec, err = audit.LatestFor(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, rec)
}
