package core

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Category is the disposition assigned to a message
type Category string

const (
	CategoryInbox       Category = "INBOX"
	CategorySpam        Category = "SPAM"
	CategoryNeedsReview Category = "NEEDS_REVIEW"
)

// ParseCategory converts a user or storage supplied name into a Category
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inbox":
		return CategoryInbox, nil
	case "spam":
		return CategorySpam, nil
	case "needs_review", "needsreview", "needs-review", "review":
		return CategoryNeedsReview, nil
	}
	return "", fmt.Errorf("%w: unknown category %q", ErrValidation, s)
}

// Valid reports whether c is one of the three known dispositions
func (c Category) Valid() bool {
	return c == CategoryInbox || c == CategorySpam || c == CategoryNeedsReview
}

// Message represents a short text message known to the filter
type Message struct {
	ID             int64
	Sender         string
	Body           string
	Timestamp      time.Time
	Category       Category
	IsRead         bool
	IsArchived     bool
	IsDeleted      bool
	DeletedAt      *time.Time
	ManualCategory *Category
	IsImportant    bool
	IsOutgoing     bool
}

// Classification is the verdict produced for a single message
type Classification struct {
	Category   Category
	Confidence float64
	Reasons    []string
	MessageID  int64

	// Hard is set by the one-time-code and explicit abuse-warning rules;
	// nothing of lower priority may change a hard verdict.
	Hard bool

	// Classifier is the tag written to the audit log.
	Classifier string
}

// NewClassification builds a classification with a clamped confidence
func NewClassification(category Category, confidence float64, reasons ...string) *Classification {
	return &Classification{
		Category:   category,
		Confidence: Clamp01(confidence),
		Reasons:    append([]string(nil), reasons...),
	}
}

// AddReason appends an explanation to the verdict
func (c *Classification) AddReason(reason string) {
	c.Reasons = append(c.Reasons, reason)
}

// Adjust adds delta to the confidence and clamps the result
func (c *Classification) Adjust(delta float64) {
	c.Confidence = Clamp01(c.Confidence + delta)
}

// Clone returns a deep copy
func (c *Classification) Clone() *Classification {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Reasons = append([]string(nil), c.Reasons...)
	return &cp
}

// Clamp01 bounds v to [0,1]
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SenderReputation is the durable trust record for one sender
type SenderReputation struct {
	Sender          string
	PinnedToInbox   bool
	AutoSpam        bool
	ImportanceScore float64
	SpamScore       float64
	ImportanceVotes int
	SpamVotes       int
	LastCorrectedAt time.Time
}

// ReputationUpdate carries the fields to change on a reputation write.
// Nil fields keep their previously stored value.
type ReputationUpdate struct {
	Sender          string
	PinnedToInbox   *bool
	AutoSpam        *bool
	ImportanceScore *float64
	SpamScore       *float64
	ImportanceVotes *int
	SpamVotes       *int
}

// MergeReputation applies update on top of prev (which may be nil)
func MergeReputation(prev *SenderReputation, update ReputationUpdate, now time.Time) SenderReputation {
	merged := SenderReputation{Sender: update.Sender}
	if prev != nil {
		merged = *prev
		merged.Sender = update.Sender
	}

	if update.PinnedToInbox != nil {
		merged.PinnedToInbox = *update.PinnedToInbox
	}
	if update.AutoSpam != nil {
		merged.AutoSpam = *update.AutoSpam
	}
	if update.ImportanceScore != nil {
		merged.ImportanceScore = Clamp01(*update.ImportanceScore)
	}
	if update.SpamScore != nil {
		merged.SpamScore = Clamp01(*update.SpamScore)
	}
	if update.ImportanceVotes != nil {
		merged.ImportanceVotes = *update.ImportanceVotes
	}
	if update.SpamVotes != nil {
		merged.SpamVotes = *update.SpamVotes
	}
	merged.LastCorrectedAt = now

	return merged
}

// ReasonSeparator joins reasons in the audit log
const ReasonSeparator = "|"

// Audit classifier tags that are not classifier names
const (
	TagHybrid       = "hybrid"
	TagUserFeedback = "user_feedback"
	TagFallback     = "fallback"
)

// AuditRecord is one immutable entry in the classification audit log
type AuditRecord struct {
	ID         string
	MessageID  *int64
	Classifier string
	Category   Category
	Confidence float64
	Reasons    string
	CreatedAt  time.Time
}

// JoinReasons flattens reasons for storage
func JoinReasons(reasons []string) string {
	cleaned := make([]string, 0, len(reasons))
	for _, r := range reasons {
		r = strings.TrimSpace(strings.ReplaceAll(r, ReasonSeparator, "/"))
		if r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return strings.Join(cleaned, ReasonSeparator)
}

// SplitReasons restores the list written by JoinReasons
func SplitReasons(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return nil
	}
	return strings.Split(joined, ReasonSeparator)
}

// FilteringMode controls how aggressive spam filtering is
type FilteringMode string

const (
	FilteringLenient  FilteringMode = "lenient"
	FilteringModerate FilteringMode = "moderate"
	FilteringStrict   FilteringMode = "strict"
)

// SpamTolerance is how much promotional content the user accepts
type SpamTolerance string

const (
	ToleranceLow      SpamTolerance = "low"
	ToleranceModerate SpamTolerance = "moderate"
	ToleranceHigh     SpamTolerance = "high"
)

// MessageType is a user-declared kind of message the user cares about
type MessageType string

const (
	TypeBanking   MessageType = "banking"
	TypeEcommerce MessageType = "ecommerce"
	TypeTravel    MessageType = "travel"
	TypeUtilities MessageType = "utilities"
	TypePersonal  MessageType = "personal"
)

// UserPreferences holds the user's filtering settings
type UserPreferences struct {
	FilteringMode    FilteringMode
	SpamTolerance    SpamTolerance
	ImportantTypes   []MessageType
	FeedbackLearning bool
}

// DefaultPreferences returns the settings used before the user changes anything
func DefaultPreferences() UserPreferences {
	return UserPreferences{
		FilteringMode:    FilteringModerate,
		SpamTolerance:    ToleranceModerate,
		ImportantTypes:   []MessageType{TypeBanking},
		FeedbackLearning: true,
	}
}

// HasImportantType reports whether t was declared important
func (p UserPreferences) HasImportantType(t MessageType) bool {
	for _, it := range p.ImportantTypes {
		if it == t {
			return true
		}
	}
	return false
}

// PinUpdate pins or unpins a sender. Pinning clears the auto-spam flag.
func PinUpdate(sender string, pinned bool) ReputationUpdate {
	update := ReputationUpdate{Sender: sender, PinnedToInbox: &pinned}
	if pinned {
		off := false
		update.AutoSpam = &off
	}
	return update
}

// AutoSpamUpdate sets or clears the auto-spam flag. Enabling it clears the pin.
func AutoSpamUpdate(sender string, autoSpam bool) ReputationUpdate {
	update := ReputationUpdate{Sender: sender, AutoSpam: &autoSpam}
	if autoSpam {
		off := false
		update.PinnedToInbox = &off
	}
	return update
}

// CorrectionVote returns the reputation change for a user correction to
// corrected. It reports false for corrections that carry no vote.
func CorrectionVote(prev *SenderReputation, sender string, corrected Category) (ReputationUpdate, bool) {
	var cur SenderReputation
	if prev != nil {
		cur = *prev
	}

	var importance, spam float64
	update := ReputationUpdate{Sender: sender}
	switch corrected {
	case CategoryInbox:
		importance = math.Min(1, math.Max(cur.ImportanceScore+0.1, 0.8))
		spam = math.Min(cur.SpamScore, 0.2)
		votes := cur.ImportanceVotes + 1
		update.ImportanceVotes = &votes
	case CategorySpam:
		spam = math.Min(1, math.Max(cur.SpamScore+0.1, 0.8))
		importance = math.Min(cur.ImportanceScore, 0.2)
		votes := cur.SpamVotes + 1
		update.SpamVotes = &votes
	default:
		return ReputationUpdate{}, false
	}

	update.ImportanceScore = &importance
	update.SpamScore = &spam
	return update, true
}
