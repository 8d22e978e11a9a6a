package contextual

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mikey/sms-spam-filter/internal/core"
	"github.com/mikey/sms-spam-filter/internal/rules"
	"github.com/mikey/sms-spam-filter/internal/whitelist"
)

// Wednesday and Saturday, both in UTC
var (
	weekdayMorning = time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	saturdayNight  = time.Date(2024, 1, 13, 22, 0, 0, 0, time.UTC)
)

func newTestRefiner(capacity int, important ...string) *Refiner {
	cfg := DefaultConfig()
	cfg.Capacity = capacity
	cfg.Location = time.UTC
	return NewRefiner(cfg, whitelist.NewChecker(important, nil), zap.NewNop())
}

func msgAt(sender, body string, ts time.Time) *core.Message {
	return &core.Message{Sender: sender, Body: body, Timestamp: ts}
}

func TestRefiner_Precedence(t *testing.T) {
	prefs := core.DefaultPreferences()

	otpEarlier := msgAt("VM-BANKX", "Your OTP is 4521", saturdayNight.Add(-2*time.Minute))
	flood := make([]*core.Message, 6)
	for i := range flood {
		flood[i] = msgAt("VM-PROMOX", "hi", weekdayMorning.Add(-time.Duration(i+1)*time.Minute))
	}

	tests := []struct {
		name         string
		msg          *core.Message
		recent       []*core.Message
		wantCategory core.Category
		wantReason   string
		wantConf     float64
	}{
		{
			name:         "one-time code",
			msg:          msgAt("AX-SWIGGY", "Your OTP is 482913", saturdayNight),
			wantCategory: core.CategoryInbox,
			wantReason:   rules.ReasonOTP,
			wantConf:     0.95,
		},
		{
			name:         "abuse warning",
			msg:          msgAt("VM-HDFCBK", "Reported as spam: Rs 500 debited", weekdayMorning),
			wantCategory: core.CategorySpam,
			wantReason:   rules.ReasonAbuseWarning,
			wantConf:     0.95,
		},
		{
			name:         "transaction follows an OTP",
			msg:          msgAt("VM-BANKX", "Rs 500 debited from a/c XX12", saturdayNight),
			recent:       []*core.Message{otpEarlier},
			wantCategory: core.CategoryInbox,
			wantReason:   ReasonFollowUp,
			wantConf:     0.9,
		},
		{
			name:         "banking during business hours",
			msg:          msgAt("VM-HDFCBK", "Your statement is ready", weekdayMorning),
			wantCategory: core.CategoryInbox,
			wantReason:   ReasonBusinessHours,
			wantConf:     0.5,
		},
		{
			name:         "banking outside business hours falls through",
			msg:          msgAt("VM-HDFCBK", "Your statement is ready", saturdayNight),
			wantCategory: core.CategoryInbox,
			wantReason:   rules.ReasonNoSpamIndicator,
			wantConf:     0.5,
		},
		{
			name:         "high frequency",
			msg:          msgAt("VM-PROMOX", "hello there", weekdayMorning),
			recent:       flood,
			wantCategory: core.CategorySpam,
			wantReason:   fmt.Sprintf("High message frequency (6 in the last %s)", time.Hour),
			wantConf:     0.5,
		},
		{
			name:         "first-time sender with spam indicators",
			msg:          msgAt("VM-DEALS", "Exclusive deal just for you", weekdayMorning),
			wantCategory: core.CategorySpam,
			wantReason:   ReasonFirstTimeSpam,
			wantConf:     0.5,
		},
		{
			name:         "first-time sender without importance indicators",
			msg:          msgAt("+919800000000", "hello there", weekdayMorning),
			wantCategory: core.CategoryNeedsReview,
			wantReason:   ReasonFirstTimeUnknown,
			wantConf:     0.5,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRefiner(10)
			result := r.ClassifyWithContext(tc.msg, tc.recent, prefs, true)
			assert.Equal(t, tc.wantCategory, result.Category)
			assert.Contains(t, result.Reasons, tc.wantReason)
			assert.InDelta(t, tc.wantConf, result.Confidence, 1e-9)
		})
	}
}

func TestRefiner_ImportantSenderSkipsFrequencyRule(t *testing.T) {
	r := newTestRefiner(10, "PROMOX")
	recent := make([]*core.Message, 6)
	for i := range recent {
		recent[i] = msgAt("VM-PROMOX", "hi", weekdayMorning.Add(-time.Duration(i+1)*time.Minute))
	}

	result := r.ClassifyWithContext(msgAt("VM-PROMOX", "hello there", weekdayMorning), recent, core.DefaultPreferences(), true)
	assert.Equal(t, core.CategoryNeedsReview, result.Category)
	assert.Equal(t, []string{ReasonFirstTimeUnknown}, result.Reasons)
}

func TestRefiner_ConsistentHistoryRaisesConfidence(t *testing.T) {
	r := newTestRefiner(10)
	prefs := core.DefaultPreferences()

	first := r.ClassifyWithContext(msgAt("AMZN", "Your order has been shipped", weekdayMorning), nil, prefs, true)
	assert.Equal(t, core.CategoryInbox, first.Category)
	assert.InDelta(t, 0.5, first.Confidence, 1e-9)

	second := r.ClassifyWithContext(msgAt("AMZN", "Your order was delivered", weekdayMorning.Add(time.Hour)), nil, prefs, true)
	assert.Equal(t, core.CategoryInbox, second.Category)
	assert.InDelta(t, 0.8, second.Confidence, 1e-9)

	snap := r.Snapshot("AMZN")
	require.NotNil(t, snap.History)
	assert.Equal(t, 2, snap.History.MessageCount)
	assert.True(t, snap.History.ConsistentCategory)
	assert.Equal(t, weekdayMorning.Add(time.Hour), snap.History.LastSeen)
}

func TestRefiner_ImportantTypesLowerScore(t *testing.T) {
	body := "Lottery results out!! Call 9876543210 about your order"

	plain := newTestRefiner(10).ClassifyWithContext(msgAt("VM-LOTTO", body, saturdayNight), nil, core.DefaultPreferences(), true)
	assert.Equal(t, core.CategoryNeedsReview, plain.Category)

	prefs := core.DefaultPreferences()
	prefs.ImportantTypes = []core.MessageType{core.TypeEcommerce}
	discounted := newTestRefiner(10).ClassifyWithContext(msgAt("VM-LOTTO", body, saturdayNight), nil, prefs, true)
	assert.Equal(t, core.CategoryInbox, discounted.Category)
	assert.Contains(t, discounted.Reasons, "Important message type: ecommerce")
}

func TestRefiner_ExplainDoesNotMutate(t *testing.T) {
	r := newTestRefiner(2)
	prefs := core.DefaultPreferences()

	r.ClassifyWithContext(msgAt("A1", "hello", weekdayMorning), nil, prefs, false)
	h, tr, c := r.Sizes()
	assert.Zero(t, h+tr+c)

	r.ClassifyWithContext(msgAt("A1", "hello", weekdayMorning), nil, prefs, true)
	r.ClassifyWithContext(msgAt("B1", "hello", weekdayMorning), nil, prefs, true)

	// a read-only pass over A1 must not save it from eviction
	r.ClassifyWithContext(msgAt("A1", "hello again", weekdayMorning), nil, prefs, false)
	before := r.Snapshot("A1")
	require.NotNil(t, before.History)
	assert.Equal(t, 1, before.History.MessageCount)

	r.ClassifyWithContext(msgAt("C1", "hello", weekdayMorning), nil, prefs, true)
	assert.Nil(t, r.Snapshot("A1").History)
	assert.NotNil(t, r.Snapshot("B1").History)
	assert.NotNil(t, r.Snapshot("C1").History)
}

func TestRefiner_EvictionIsLogged(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	cfg := DefaultConfig()
	cfg.Capacity = 1
	cfg.Location = time.UTC
	r := NewRefiner(cfg, nil, zap.New(obs))
	prefs := core.DefaultPreferences()

	r.ClassifyWithContext(msgAt("A1", "hello", weekdayMorning), nil, prefs, true)
	assert.Zero(t, logs.FilterMessage("Context entry evicted").Len())

	r.ClassifyWithContext(msgAt("B1", "hello", weekdayMorning), nil, prefs, true)
	evicted := logs.FilterMessage("Context entry evicted").All()
	require.Len(t, evicted, 1)
	assert.Equal(t, "history", evicted[0].ContextMap()["table"])
	assert.Equal(t, "A1", evicted[0].ContextMap()["sender"])

	h, _, _ := r.Sizes()
	assert.Equal(t, 1, h)
}

func TestRefiner_SendersKeyedExactly(t *testing.T) {
	r := newTestRefiner(10)
	msg := msgAt("VM-HDFCBK", "Your statement is ready", weekdayMorning)

	r.ClassifyWithContext(msg, nil, core.DefaultPreferences(), true)
	r.LearnFromCorrection(msg, core.CategoryInbox, core.CategorySpam)

	assert.NotNil(t, r.Snapshot("VM-HDFCBK").History)
	assert.NotNil(t, r.Snapshot("VM-HDFCBK").Trust)
	other := r.Snapshot("AD-HDFCBK")
	assert.Nil(t, other.History)
	assert.Nil(t, other.Trust)
	assert.Zero(t, other.Corrections)
}

func TestRefiner_LearnFromCorrection(t *testing.T) {
	r := newTestRefiner(10)
	prefs := core.DefaultPreferences()
	msg := msgAt("AMZN", "Exclusive deal just for you", weekdayMorning)

	r.LearnFromCorrection(msg, core.CategorySpam, core.CategoryInbox)

	result := r.ClassifyWithContext(msg, nil, prefs, true)
	assert.Equal(t, core.CategoryInbox, result.Category)
	assert.Equal(t, []string{ReasonTrusted}, result.Reasons)
	assert.InDelta(t, 0.65, result.Confidence, 1e-9)

	snap := r.Snapshot("AMZN")
	require.NotNil(t, snap.Trust)
	assert.Equal(t, ConversationTrust{Importance: 0.8, Spam: 0.2}, *snap.Trust)
	assert.Equal(t, 1, snap.Corrections)

	r.LearnFromCorrection(msg, core.CategoryInbox, core.CategoryNeedsReview)
	snap = r.Snapshot("AMZN")
	assert.Equal(t, ConversationTrust{Importance: 0.8, Spam: 0.2}, *snap.Trust)
	assert.Equal(t, 2, snap.Corrections)

	r.LearnFromCorrection(msg, core.CategoryInbox, core.CategorySpam)
	result = r.ClassifyWithContext(msgAt("AMZN", "Your order has been shipped", weekdayMorning), nil, prefs, true)
	assert.Equal(t, core.CategorySpam, result.Category)
	assert.Equal(t, []string{ReasonDistrusted}, result.Reasons)
}

func TestRefiner_ClearAllContext(t *testing.T) {
	r := newTestRefiner(10)
	msg := msgAt("AMZN", "Your order has been shipped", weekdayMorning)
	r.ClassifyWithContext(msg, nil, core.DefaultPreferences(), true)
	r.LearnFromCorrection(msg, core.CategoryInbox, core.CategorySpam)

	r.ClearAllContext()
	h, tr, c := r.Sizes()
	assert.Zero(t, h)
	assert.Zero(t, tr)
	assert.Zero(t, c)
}

func TestRefiner_ConcurrentUse(t *testing.T) {
	r := newTestRefiner(8)
	prefs := core.DefaultPreferences()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := fmt.Sprintf("VM-S%d", i%5)
			for j := 0; j < 50; j++ {
				msg := msgAt(sender, "Exclusive deal just for you", weekdayMorning.Add(time.Duration(j)*time.Second))
				result := r.ClassifyWithContext(msg, nil, prefs, j%3 != 0)
				assert.True(t, result.Category.Valid())
				if j%10 == 0 {
					r.LearnFromCorrection(msg, result.Category, core.CategoryInbox)
				}
				r.Snapshot(sender)
			}
		}(i)
	}
	wg.Wait()

	h, tr, c := r.Sizes()
	assert.LessOrEqual(t, h, 8)
	assert.LessOrEqual(t, tr, 8)
	assert.LessOrEqual(t, c, 8)
}
