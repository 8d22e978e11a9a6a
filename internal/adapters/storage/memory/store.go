package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/core"
)

type dedupKey struct {
	sender string
	body   string
	ts     int64
}

type auditEntry struct {
	rec *core.AuditRecord
	seq int64
}

// Store is an in-memory implementation of the message, reputation and audit
// repositories. Data is lost when the process exits.
type Store struct {
	mu         sync.RWMutex
	messages   map[int64]*core.Message
	dedup      map[dedupKey]int64
	reputation map[string]core.SenderReputation
	audit      map[string]auditEntry
	nextID     int64
	auditSeq   int64
	now        func() time.Time
	logger     *zap.Logger
}

// NewStore creates a new in-memory store
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		messages:   make(map[int64]*core.Message),
		dedup:      make(map[dedupKey]int64),
		reputation: make(map[string]core.SenderReputation),
		audit:      make(map[string]auditEntry),
		now:        time.Now,
		logger:     logger.Named("memory-store"),
	}
}

// SetClock replaces the time source used for reputation timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Messages returns the message repository
func (s *Store) Messages() *MessageRepo { return &MessageRepo{s: s} }

// Reputation returns the sender reputation repository
func (s *Store) Reputation() *ReputationRepo { return &ReputationRepo{s: s} }

// Audit returns the audit log repository
func (s *Store) Audit() *AuditRepo { return &AuditRepo{s: s} }

// Close is a no-op kept for parity with the SQLite store
func (s *Store) Close() error {
	return nil
}

func copyMessage(m *core.Message) *core.Message {
	cp := *m
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		cp.DeletedAt = &t
	}
	if m.ManualCategory != nil {
		c := *m.ManualCategory
		cp.ManualCategory = &c
	}
	return &cp
}

// MessageRepo implements core.MessageRepository
type MessageRepo struct {
	s *Store
}

// Insert stores msg, rejecting exact sender, body and timestamp repeats
func (r *MessageRepo) Insert(ctx context.Context, msg *core.Message) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := dedupKey{sender: msg.Sender, body: msg.Body, ts: msg.Timestamp.UnixNano()}
	if _, ok := r.s.dedup[key]; ok {
		return 0, core.ErrDuplicate
	}

	r.s.nextID++
	stored := copyMessage(msg)
	stored.ID = r.s.nextID
	stored.IsDeleted = false
	stored.DeletedAt = nil
	r.s.messages[stored.ID] = stored
	r.s.dedup[key] = stored.ID

	return stored.ID, nil
}

// Get returns a copy of a message
func (r *MessageRepo) Get(ctx context.Context, id int64) (*core.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: message %d", core.ErrNotFound, id)
	}
	return copyMessage(m), nil
}

// UpdateCategory changes the category of a message
func (r *MessageRepo) UpdateCategory(ctx context.Context, id int64, category core.Category, manual bool) error {
	return r.update(id, func(m *core.Message) {
		m.Category = category
		if manual {
			c := category
			m.ManualCategory = &c
		}
	})
}

// RecentBySender returns the newest limit non-deleted messages from sender at or after since, oldest first
func (r *MessageRepo) RecentBySender(ctx context.Context, sender string, since time.Time, limit int) ([]*core.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	var out []*core.Message
	for _, m := range r.s.messages {
		if m.Sender == sender && !m.IsDeleted && !m.Timestamp.Before(since) {
			out = append(out, copyMessage(m))
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit >= 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// SetRead sets the read flag
func (r *MessageRepo) SetRead(ctx context.Context, id int64, read bool) error {
	return r.update(id, func(m *core.Message) { m.IsRead = read })
}

// SetArchived sets the archived flag
func (r *MessageRepo) SetArchived(ctx context.Context, id int64, archived bool) error {
	return r.update(id, func(m *core.Message) { m.IsArchived = archived })
}

// SoftDelete flags a message as deleted
func (r *MessageRepo) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	return r.update(id, func(m *core.Message) {
		m.IsDeleted = true
		m.DeletedAt = &at
	})
}

// Restore clears the deleted flag
func (r *MessageRepo) Restore(ctx context.Context, id int64) error {
	return r.update(id, func(m *core.Message) {
		m.IsDeleted = false
		m.DeletedAt = nil
	})
}

// Purge removes messages soft-deleted before deletedBefore and detaches their audit records
func (r *MessageRepo) Purge(ctx context.Context, deletedBefore time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var removed int64
	for id, m := range r.s.messages {
		if !m.IsDeleted || m.DeletedAt == nil || !m.DeletedAt.Before(deletedBefore) {
			continue
		}
		delete(r.s.messages, id)
		delete(r.s.dedup, dedupKey{sender: m.Sender, body: m.Body, ts: m.Timestamp.UnixNano()})
		for _, e := range r.s.audit {
			if e.rec.MessageID != nil && *e.rec.MessageID == id {
				e.rec.MessageID = nil
			}
		}
		removed++
	}
	return removed, nil
}

func (r *MessageRepo) update(id int64, fn func(*core.Message)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.messages[id]
	if !ok {
		return fmt.Errorf("%w: message %d", core.ErrNotFound, id)
	}
	fn(m)
	return nil
}

// ReputationRepo implements core.ReputationRepository
type ReputationRepo struct {
	s *Store
}

// Get returns the reputation of sender, or nil if there is none
func (r *ReputationRepo) Get(ctx context.Context, sender string) (*core.SenderReputation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rep, ok := r.s.reputation[sender]
	if !ok {
		return nil, nil
	}
	return &rep, nil
}

// Upsert merges update into the stored record
func (r *ReputationRepo) Upsert(ctx context.Context, update core.ReputationUpdate) (*core.SenderReputation, error) {
	if update.Sender == "" {
		return nil, fmt.Errorf("%w: sender is required", core.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var prev *core.SenderReputation
	if existing, ok := r.s.reputation[update.Sender]; ok {
		prev = &existing
	}
	merged := core.MergeReputation(prev, update, r.s.now())
	r.s.reputation[update.Sender] = merged

	r.s.logger.Debug("Sender reputation updated",
		zap.String("sender", merged.Sender),
		zap.Bool("pinned", merged.PinnedToInbox),
		zap.Bool("auto_spam", merged.AutoSpam))

	return &merged, nil
}

// AuditRepo implements core.AuditRepository
type AuditRepo struct {
	s *Store
}

// Insert appends rec; a record with an existing ID is ignored
func (a *AuditRepo) Insert(ctx context.Context, rec *core.AuditRecord) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	if _, ok := a.s.audit[rec.ID]; ok {
		return nil
	}
	cp := *rec
	if rec.MessageID != nil {
		id := *rec.MessageID
		cp.MessageID = &id
	}
	a.s.auditSeq++
	a.s.audit[rec.ID] = auditEntry{rec: &cp, seq: a.s.auditSeq}
	return nil
}

// LatestFor returns the newest record for a message; ties go to the last inserted
func (a *AuditRepo) LatestFor(ctx context.Context, messageID int64) (*core.AuditRecord, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	var latest *auditEntry
	for _, e := range a.s.audit {
		if e.rec.MessageID == nil || *e.rec.MessageID != messageID {
			continue
		}
		if latest == nil || e.rec.CreatedAt.After(latest.rec.CreatedAt) ||
			(e.rec.CreatedAt.Equal(latest.rec.CreatedAt) && e.seq > latest.seq) {
			e := e
			latest = &e
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest.rec
	return &cp, nil
}

// PruneOlderThan removes records created before cutoff
func (a *AuditRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	var removed int64
	for id, e := range a.s.audit {
		if e.rec.CreatedAt.Before(cutoff) {
			delete(a.s.audit, id)
			removed++
		}
	}
	return removed, nil
}
