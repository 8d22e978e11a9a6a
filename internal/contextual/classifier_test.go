package contextual

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/core"
)

type fakeRecent struct {
	msgs  []*core.Message
	err   error
	calls int
}

func (f *fakeRecent) RecentBySender(_ context.Context, sender string, since time.Time, limit int) ([]*core.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []*core.Message
	for _, m := range f.msgs {
		if m.Sender == sender && !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func newTestClassifier(recent RecentMessages) *Classifier {
	return NewClassifier(newTestRefiner(10), recent, ClassifierConfig{}, zap.NewNop())
}

func TestClassifier_UsesStoredHistory(t *testing.T) {
	recent := &fakeRecent{msgs: []*core.Message{
		{ID: 1, Sender: "VM-BANKX", Body: "Your OTP is 4521", Timestamp: saturdayNight.Add(-time.Minute)},
	}}
	c := newTestClassifier(recent)

	msg := &core.Message{ID: 2, Sender: "VM-BANKX", Body: "Rs 500 debited from a/c XX12", Timestamp: saturdayNight}
	result, err := c.Classify(context.Background(), msg, core.DefaultPreferences())
	require.NoError(t, err)
	assert.Equal(t, core.CategoryInbox, result.Category)
	assert.Equal(t, []string{ReasonFollowUp}, result.Reasons)
	assert.Equal(t, Name, result.Classifier)
	assert.Equal(t, int64(2), result.MessageID)
	assert.Equal(t, 1, recent.calls)
}

func TestClassifier_HistoryFailureDegrades(t *testing.T) {
	c := newTestClassifier(&fakeRecent{err: errors.New("disk gone")})

	msg := &core.Message{Sender: "VM-BANKX", Body: "Rs 500 debited from a/c XX12", Timestamp: saturdayNight}
	result, err := c.Classify(context.Background(), msg, core.DefaultPreferences())
	require.NoError(t, err)
	assert.Equal(t, core.CategoryInbox, result.Category)
	assert.NotContains(t, result.Reasons, ReasonFollowUp)
}

func TestClassifier_ExplainLeavesStateAlone(t *testing.T) {
	c := newTestClassifier(nil)
	msg := &core.Message{Sender: "AMZN", Body: "Your order has been shipped", Timestamp: weekdayMorning}

	_, err := c.Explain(context.Background(), msg, core.DefaultPreferences())
	require.NoError(t, err)
	h, _, _ := c.Refiner().Sizes()
	assert.Zero(t, h)

	_, err = c.Classify(context.Background(), msg, core.DefaultPreferences())
	require.NoError(t, err)
	h, _, _ = c.Refiner().Sizes()
	assert.Equal(t, 1, h)
}

func TestClassifier_BatchKeepsSenderOrder(t *testing.T) {
	c := newTestClassifier(&fakeRecent{})

	// the debit is listed first but happened after the OTP
	msgs := []*core.Message{
		{ID: 1, Sender: "VM-BANKX", Body: "Rs 500 debited from a/c XX12", Timestamp: saturdayNight.Add(time.Minute)},
		{ID: 2, Sender: "VM-DEALS", Body: "Exclusive deal just for you", Timestamp: saturdayNight},
		{ID: 3, Sender: "VM-BANKX", Body: "Your OTP is 4521", Timestamp: saturdayNight},
	}

	results, err := c.ClassifyBatch(context.Background(), msgs, core.DefaultPreferences())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, int64(1), results[0].MessageID)
	assert.Equal(t, []string{ReasonFollowUp}, results[0].Reasons)
	assert.Equal(t, core.CategorySpam, results[1].Category)
	assert.Equal(t, core.CategoryInbox, results[2].Category)
	assert.True(t, results[2].Hard)

	snap := c.Refiner().Snapshot("VM-BANKX")
	require.NotNil(t, snap.History)
	assert.Equal(t, 2, snap.History.MessageCount)
}

func TestClassifier_CancelledContext(t *testing.T) {
	c := newTestClassifier(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Classify(ctx, &core.Message{Sender: "A", Body: "b"}, core.DefaultPreferences())
	assert.ErrorIs(t, err, context.Canceled)

	_, err = c.ClassifyBatch(ctx, []*core.Message{{Sender: "A", Body: "b"}}, core.DefaultPreferences())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifier_LearnAndThreshold(t *testing.T) {
	c := newTestClassifier(nil)
	msg := &core.Message{Sender: "AMZN", Body: "Exclusive deal just for you", Timestamp: weekdayMorning}

	require.NoError(t, c.LearnFromCorrection(context.Background(), msg, core.CategorySpam, core.CategoryInbox))
	assert.Equal(t, 1, c.Refiner().Snapshot("AMZN").Corrections)
	assert.Equal(t, 0.5, c.ConfidenceThreshold())
}
