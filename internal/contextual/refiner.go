package contextual

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/core"
	"github.com/mikey/sms-spam-filter/internal/rules"
	"github.com/mikey/sms-spam-filter/internal/whitelist"
)

// Reasons produced by the refiner in addition to the rule engine ones
const (
	ReasonFollowUp         = "Follows a recent OTP from the same sender"
	ReasonTrusted          = "Trusted conversation"
	ReasonDistrusted       = "Conversation previously marked as spam"
	ReasonBusinessHours    = "Banking message during business hours"
	ReasonFirstTimeSpam    = "First message from sender with spam indicators"
	ReasonFirstTimeUnknown = "First message from unknown sender"
)

const (
	trustThreshold        = 0.7
	importantTypeDiscount = 15.0

	baseConfidence     = 0.5
	knownSenderBonus   = 0.1
	consistentBonus    = 0.2
	trustRecordBonus   = 0.15
	overrideConfidence = 0.95
	followUpConfidence = 0.9
)

// Config controls the refiner's tables and heuristics
type Config struct {
	Capacity           int
	BusinessHoursStart int
	BusinessHoursEnd   int
	Location           *time.Location
	FrequencyWindow    time.Duration
	FrequencyLimit     int
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Capacity:           100,
		BusinessHoursStart: 9,
		BusinessHoursEnd:   18,
		Location:           time.Local,
		FrequencyWindow:    time.Hour,
		FrequencyLimit:     5,
	}
}

// SenderHistory summarizes what the refiner has decided for a sender so far
type SenderHistory struct {
	LastCategory       core.Category
	MessageCount       int
	ConsistentCategory bool
	LastSeen           time.Time
}

// ConversationTrust is the advisory trust learned from user corrections
type ConversationTrust struct {
	Importance float64
	Spam       float64
}

// Snapshot is a copy of everything the refiner holds for one sender
type Snapshot struct {
	History     *SenderHistory
	Trust       *ConversationTrust
	Corrections int
}

// Refiner adjusts verdicts using short-lived per-sender context.
// Its tables are bounded and live only in memory.
type Refiner struct {
	mu          sync.RWMutex
	history     *simplelru.LRU[string, SenderHistory]
	trust       *simplelru.LRU[string, ConversationTrust]
	corrections *simplelru.LRU[string, int]

	cfg       Config
	important *whitelist.Checker
	logger    *zap.Logger
}

// NewRefiner creates a refiner. important may be nil.
func NewRefiner(cfg Config, important *whitelist.Checker, logger *zap.Logger) *Refiner {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.FrequencyWindow <= 0 {
		cfg.FrequencyWindow = def.FrequencyWindow
	}
	if cfg.FrequencyLimit <= 0 {
		cfg.FrequencyLimit = def.FrequencyLimit
	}
	if cfg.BusinessHoursEnd <= cfg.BusinessHoursStart {
		cfg.BusinessHoursStart, cfg.BusinessHoursEnd = def.BusinessHoursStart, def.BusinessHoursEnd
	}

	logger = logger.Named("contextual")
	r := &Refiner{
		cfg:       cfg,
		important: important,
		logger:    logger,
	}
	r.history = newTable[SenderHistory](cfg.Capacity, logger, "history")
	r.trust = newTable[ConversationTrust](cfg.Capacity, logger, "trust")
	r.corrections = newTable[int](cfg.Capacity, logger, "corrections")
	return r
}

// newTable creates one bounded table. The LRU is not locked; r.mu guards it.
func newTable[V any](capacity int, logger *zap.Logger, table string) *simplelru.LRU[string, V] {
	t, err := simplelru.NewLRU[string, V](capacity, func(sender string, _ V) {
		logger.Debug("Context entry evicted",
			zap.String("table", table),
			zap.String("sender", sender))
	})
	if err != nil {
		// capacity is always positive here
		panic(err)
	}
	return t
}

// ClassifyWithContext classifies msg given the sender's recent messages.
// When updateContext is false nothing in the refiner changes, including access order.
func (r *Refiner) ClassifyWithContext(msg *core.Message, recent []*core.Message, prefs core.UserPreferences, updateContext bool) *core.Classification {
	key := senderKey(msg.Sender)

	if updateContext {
		r.mu.Lock()
		defer r.mu.Unlock()
	} else {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	var (
		hist, known    = r.history.Peek(key)
		trust, trusted = r.trust.Peek(key)
	)
	if updateContext {
		// refresh recency for senders that are still active
		r.history.Get(key)
		r.trust.Get(key)
	}

	result, fixed := r.decide(msg, recent, prefs, known, trust, trusted)
	if !fixed {
		conf := baseConfidence
		if known {
			conf += knownSenderBonus
			if hist.ConsistentCategory && hist.LastCategory == result.Category {
				conf += consistentBonus
			}
		}
		if trusted {
			conf += trustRecordBonus
		}
		result.Confidence = core.Clamp01(conf)
	}

	if updateContext {
		r.recordLocked(key, result.Category, msg.Timestamp)
	}
	return result
}

// decide walks the heuristics in precedence order. fixed reports whether the
// verdict carries its own confidence.
func (r *Refiner) decide(msg *core.Message, recent []*core.Message, prefs core.UserPreferences,
	known bool, trust ConversationTrust, trusted bool) (*core.Classification, bool) {

	body := msg.Body

	if rules.IsOneTimeCode(body) {
		c := core.NewClassification(core.CategoryInbox, overrideConfidence, rules.ReasonOTP)
		c.Hard = true
		return c, true
	}
	if rules.IsAbuseWarning(body) {
		c := core.NewClassification(core.CategorySpam, overrideConfidence, rules.ReasonAbuseWarning)
		c.Hard = true
		return c, true
	}

	banking := rules.HasBankingSignal(msg.Sender, body)
	if banking && hasRecentOneTimeCode(msg, recent) {
		return core.NewClassification(core.CategoryInbox, followUpConfidence, ReasonFollowUp), true
	}

	if trusted {
		if trust.Importance >= trustThreshold {
			return core.NewClassification(core.CategoryInbox, 0, ReasonTrusted), false
		}
		if trust.Spam >= trustThreshold {
			return core.NewClassification(core.CategorySpam, 0, ReasonDistrusted), false
		}
	}

	if banking && r.inBusinessHours(msg.Timestamp) {
		return core.NewClassification(core.CategoryInbox, 0, ReasonBusinessHours), false
	}

	if n := r.recentCount(msg, recent); n > r.cfg.FrequencyLimit && !r.important.IsWhitelisted(msg.Sender) {
		return core.NewClassification(core.CategorySpam, 0,
			fmt.Sprintf("High message frequency (%d in the last %s)", n, r.cfg.FrequencyWindow)), false
	}

	types := rules.MatchMessageTypes(body)
	if !known {
		if len(rules.SpamKeywordMatches(body)) >= 2 || rules.HasShortLink(body) {
			return core.NewClassification(core.CategorySpam, 0, ReasonFirstTimeSpam), false
		}
		if !banking && len(types) == 0 {
			return core.NewClassification(core.CategoryNeedsReview, 0, ReasonFirstTimeUnknown), false
		}
	}

	score := rules.SpamScore(body)
	var discounted []core.MessageType
	for _, t := range types {
		if prefs.HasImportantType(t) {
			score -= importantTypeDiscount
			discounted = append(discounted, t)
		}
	}
	if score < 0 {
		score = 0
	}

	result := rules.ScoreVerdict(score, rules.SpamThreshold(prefs.FilteringMode, prefs.SpamTolerance))
	for _, t := range discounted {
		result.AddReason("Important message type: " + string(t))
	}
	return result, false
}

func (r *Refiner) inBusinessHours(ts time.Time) bool {
	if ts.IsZero() {
		return false
	}
	local := ts.In(r.cfg.Location)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	h := local.Hour()
	return h >= r.cfg.BusinessHoursStart && h < r.cfg.BusinessHoursEnd
}

// recentCount counts the sender's messages in the window before msg
func (r *Refiner) recentCount(msg *core.Message, recent []*core.Message) int {
	if msg.Timestamp.IsZero() {
		return 0
	}
	from := msg.Timestamp.Add(-r.cfg.FrequencyWindow)
	key := senderKey(msg.Sender)

	n := 0
	for _, m := range recent {
		if m == nil || senderKey(m.Sender) != key {
			continue
		}
		if !m.Timestamp.Before(from) && !m.Timestamp.After(msg.Timestamp) {
			n++
		}
	}
	return n
}

func hasRecentOneTimeCode(msg *core.Message, recent []*core.Message) bool {
	key := senderKey(msg.Sender)
	for _, m := range recent {
		if m != nil && senderKey(m.Sender) == key && rules.IsOneTimeCode(m.Body) {
			return true
		}
	}
	return false
}

func (r *Refiner) recordLocked(key string, category core.Category, seen time.Time) {
	h, ok := r.history.Get(key)
	if !ok {
		h = SenderHistory{
			LastCategory:       category,
			MessageCount:       1,
			ConsistentCategory: true,
			LastSeen:           seen,
		}
	} else {
		h.ConsistentCategory = h.ConsistentCategory && h.LastCategory == category
		h.LastCategory = category
		h.MessageCount++
		if seen.After(h.LastSeen) {
			h.LastSeen = seen
		}
	}
	r.history.Add(key, h)
}

// LearnFromCorrection records a user correction in the trust and tally tables.
// A correction to NeedsReview leaves the trust record as it was.
func (r *Refiner) LearnFromCorrection(msg *core.Message, previous, corrected core.Category) {
	key := senderKey(msg.Sender)

	r.mu.Lock()
	defer r.mu.Unlock()

	switch corrected {
	case core.CategoryInbox:
		r.trust.Add(key, ConversationTrust{Importance: 0.8, Spam: 0.2})
	case core.CategorySpam:
		r.trust.Add(key, ConversationTrust{Importance: 0.2, Spam: 0.8})
	}

	count, _ := r.corrections.Get(key)
	r.corrections.Add(key, count+1)

	r.logger.Debug("Learned from correction",
		zap.String("sender", key),
		zap.String("previous", string(previous)),
		zap.String("corrected", string(corrected)),
		zap.Int("corrections", count+1))
}

// ClearAllContext drops everything the refiner has learned
func (r *Refiner) ClearAllContext() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history.Purge()
	r.trust.Purge()
	r.corrections.Purge()
	r.logger.Info("Cleared contextual state")
}

// Snapshot returns copies of the entries held for sender without touching access order
func (r *Refiner) Snapshot(sender string) Snapshot {
	key := senderKey(sender)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var snap Snapshot
	if h, ok := r.history.Peek(key); ok {
		snap.History = &h
	}
	if t, ok := r.trust.Peek(key); ok {
		snap.Trust = &t
	}
	snap.Corrections, _ = r.corrections.Peek(key)
	return snap
}

// Sizes returns the number of entries in the history, trust and correction tables
func (r *Refiner) Sizes() (history, trust, corrections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.Len(), r.trust.Len(), r.corrections.Len()
}

// senderKey is the exact sender ID, the same key the repositories use
func senderKey(sender string) string {
	return sender
}
