package core

import (
	"context"
	"time"
)

// Classifier defines the capability shared by every message classifier
type Classifier interface {
	// Name returns the tag recorded in the audit log
	Name() string

	// Classify produces a verdict for one message
	Classify(ctx context.Context, msg *Message, prefs UserPreferences) (*Classification, error)

	// ClassifyBatch classifies several messages, preserving per-sender order
	ClassifyBatch(ctx context.Context, msgs []*Message, prefs UserPreferences) ([]*Classification, error)

	// LearnFromCorrection is called when the user overrides a verdict
	LearnFromCorrection(ctx context.Context, msg *Message, previous, corrected Category) error

	// ConfidenceThreshold is the minimum confidence for a non-review verdict
	ConfidenceThreshold() float64
}

// Explainer is implemented by classifiers that can re-evaluate a message
// without touching any learned state
type Explainer interface {
	Explain(ctx context.Context, msg *Message, prefs UserPreferences) (*Classification, error)
}

// HardRules returns the verdict of the non-overridable rules, or nil if none applies
type HardRules interface {
	HardOverride(sender, body string) *Classification
}

// MessageRepository stores messages
type MessageRepository interface {
	// Insert stores msg and returns its new identity, or ErrDuplicate
	Insert(ctx context.Context, msg *Message) (int64, error)

	// Get returns a message or ErrNotFound
	Get(ctx context.Context, id int64) (*Message, error)

	// UpdateCategory moves a message; manual marks it as a user override
	UpdateCategory(ctx context.Context, id int64, category Category, manual bool) error

	// RecentBySender returns up to limit messages from sender received at or after since, oldest first
	RecentBySender(ctx context.Context, sender string, since time.Time, limit int) ([]*Message, error)

	SetRead(ctx context.Context, id int64, read bool) error
	SetArchived(ctx context.Context, id int64, archived bool) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	Restore(ctx context.Context, id int64) error

	// Purge physically removes messages soft-deleted before the cutoff
	Purge(ctx context.Context, deletedBefore time.Time) (int64, error)
}

// ReputationRepository stores sender reputation
type ReputationRepository interface {
	// Get returns nil, nil when the sender has no record
	Get(ctx context.Context, sender string) (*SenderReputation, error)

	// Upsert merges update into the stored record and returns the result
	Upsert(ctx context.Context, update ReputationUpdate) (*SenderReputation, error)
}

// AuditRepository is the append-only classification audit log
type AuditRepository interface {
	// Insert appends a record; a record whose ID already exists is ignored
	Insert(ctx context.Context, rec *AuditRecord) error

	// LatestFor returns the most recent record for a message, or nil, nil
	LatestFor(ctx context.Context, messageID int64) (*AuditRecord, error)

	// PruneOlderThan removes records created before cutoff
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PreferencesProvider exposes the user's current preferences
type PreferencesProvider interface {
	Current() UserPreferences
}

// NotificationRouter is told about every stored verdict so it can pick a delivery urgency
type NotificationRouter interface {
	Route(ctx context.Context, msg *Message, result *Classification) error
}
