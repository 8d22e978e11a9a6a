package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/sms-spam-filter/internal/core"
)

// MessageRepo implements core.MessageRepository
type MessageRepo struct {
	s *Store
}

type messageRow struct {
	ID             int64          `db:"id"`
	Sender         string         `db:"sender"`
	Body           string         `db:"body"`
	TimestampNs    int64          `db:"timestamp_ns"`
	Category       string         `db:"category"`
	IsRead         bool           `db:"is_read"`
	IsArchived     bool           `db:"is_archived"`
	IsDeleted      bool           `db:"is_deleted"`
	DeletedAtNs    sql.NullInt64  `db:"deleted_at_ns"`
	ManualCategory sql.NullString `db:"manual_category"`
	IsImportant    bool           `db:"is_important"`
	IsOutgoing     bool           `db:"is_outgoing"`
}

const messageColumns = `id, sender, body, timestamp_ns, category, is_read, is_archived, is_deleted,
	deleted_at_ns, manual_category, is_important, is_outgoing`

func (r messageRow) toMessage() *core.Message {
	msg := &core.Message{
		ID:          r.ID,
		Sender:      r.Sender,
		Body:        r.Body,
		Timestamp:   fromNanos(r.TimestampNs),
		Category:    core.Category(r.Category),
		IsRead:      r.IsRead,
		IsArchived:  r.IsArchived,
		IsDeleted:   r.IsDeleted,
		IsImportant: r.IsImportant,
		IsOutgoing:  r.IsOutgoing,
	}
	if r.DeletedAtNs.Valid {
		t := fromNanos(r.DeletedAtNs.Int64)
		msg.DeletedAt = &t
	}
	if r.ManualCategory.Valid {
		c := core.Category(r.ManualCategory.String)
		msg.ManualCategory = &c
	}
	return msg
}

// Insert stores msg. A message with the same sender, body and timestamp is rejected with core.ErrDuplicate.
func (m *MessageRepo) Insert(ctx context.Context, msg *core.Message) (int64, error) {
	var manual sql.NullString
	if msg.ManualCategory != nil {
		manual = sql.NullString{String: string(*msg.ManualCategory), Valid: true}
	}

	result, err := m.s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (sender, body, timestamp_ns, category, is_read, is_archived,
			manual_category, is_important, is_outgoing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.Sender, msg.Body, toNanos(msg.Timestamp), string(msg.Category), msg.IsRead, msg.IsArchived,
		manual, msg.IsImportant, msg.IsOutgoing)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return 0, core.ErrDuplicate
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get message id: %w", err)
	}
	return id, nil
}

// Get returns a message by ID
func (m *MessageRepo) Get(ctx context.Context, id int64) (*core.Message, error) {
	var row messageRow
	err := m.s.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message %d", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return row.toMessage(), nil
}

// UpdateCategory changes the category of a message
func (m *MessageRepo) UpdateCategory(ctx context.Context, id int64, category core.Category, manual bool) error {
	if manual {
		return m.update(ctx, id, `UPDATE messages SET category = ?, manual_category = ? WHERE id = ?`,
			string(category), string(category), id)
	}
	return m.update(ctx, id, `UPDATE messages SET category = ? WHERE id = ?`, string(category), id)
}

// RecentBySender returns the newest limit non-deleted messages from sender at or after since, oldest first
func (m *MessageRepo) RecentBySender(ctx context.Context, sender string, since time.Time, limit int) ([]*core.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []messageRow
	err := m.s.db.SelectContext(ctx, &rows, `
		SELECT `+messageColumns+` FROM messages
		WHERE sender = ? AND timestamp_ns >= ? AND is_deleted = 0
		ORDER BY timestamp_ns DESC, id DESC
		LIMIT ?
	`, sender, toNanos(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}

	msgs := make([]*core.Message, len(rows))
	for i, row := range rows {
		msgs[len(rows)-1-i] = row.toMessage()
	}
	return msgs, nil
}

// SetRead sets the read flag
func (m *MessageRepo) SetRead(ctx context.Context, id int64, read bool) error {
	return m.update(ctx, id, `UPDATE messages SET is_read = ? WHERE id = ?`, read, id)
}

// SetArchived sets the archived flag
func (m *MessageRepo) SetArchived(ctx context.Context, id int64, archived bool) error {
	return m.update(ctx, id, `UPDATE messages SET is_archived = ? WHERE id = ?`, archived, id)
}

// SoftDelete flags a message as deleted
func (m *MessageRepo) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	return m.update(ctx, id, `UPDATE messages SET is_deleted = 1, deleted_at_ns = ? WHERE id = ?`, toNanos(at), id)
}

// Restore clears the deleted flag
func (m *MessageRepo) Restore(ctx context.Context, id int64) error {
	return m.update(ctx, id, `UPDATE messages SET is_deleted = 0, deleted_at_ns = NULL WHERE id = ?`, id)
}

// Purge removes messages soft-deleted before deletedBefore
func (m *MessageRepo) Purge(ctx context.Context, deletedBefore time.Time) (int64, error) {
	result, err := m.s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE is_deleted = 1 AND deleted_at_ns < ?`, toNanos(deletedBefore))
	if err != nil {
		return 0, fmt.Errorf("failed to purge messages: %w", err)
	}
	return result.RowsAffected()
}

func (m *MessageRepo) update(ctx context.Context, id int64, query string, args ...interface{}) error {
	result, err := m.s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: message %d", core.ErrNotFound, id)
	}
	return nil
}
