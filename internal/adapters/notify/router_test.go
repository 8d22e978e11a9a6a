package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mikey/sms-spam-filter/internal/core"
)

func TestUrgencyFor(t *testing.T) {
	assert.Equal(t, UrgencyHigh, UrgencyFor(core.CategoryInbox))
	assert.Equal(t, UrgencySilent, UrgencyFor(core.CategoryNeedsReview))
	assert.Equal(t, UrgencyNone, UrgencyFor(core.CategorySpam))
}

func TestLogRouter_Route(t *testing.T) {
	obs, logs := observer.New(zapcore.InfoLevel)
	r := NewLogRouter(zap.New(obs))
	ctx := context.Background()
	msg := &core.Message{ID: 4, Sender: "AMZN"}

	require.NoError(t, r.Route(ctx, msg, core.NewClassification(core.CategoryInbox, 0.9)))
	require.NoError(t, r.Route(ctx, msg, core.NewClassification(core.CategorySpam, 0.9)))
	require.NoError(t, r.Route(ctx, msg, core.NewClassification(core.CategorySpam, 0.8)))

	assert.Equal(t, map[Urgency]int{UrgencyHigh: 1, UrgencyNone: 2}, r.Counts())

	entries := logs.FilterMessage("Notification").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "high", entries[0].ContextMap()["urgency"])
}
