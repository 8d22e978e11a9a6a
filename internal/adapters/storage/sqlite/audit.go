package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/sms-spam-filter/internal/core"
)

// AuditRepo implements core.AuditRepository
type AuditRepo struct {
	s *Store
}

type auditRow struct {
	ID          string        `db:"id"`
	MessageID   sql.NullInt64 `db:"message_id"`
	Classifier  string        `db:"classifier"`
	Category    string        `db:"category"`
	Confidence  float64       `db:"confidence"`
	Reasons     string        `db:"reasons"`
	CreatedAtNs int64         `db:"created_at_ns"`
}

// Insert appends rec; a record with an existing ID is ignored
func (a *AuditRepo) Insert(ctx context.Context, rec *core.AuditRecord) error {
	var messageID sql.NullInt64
	if rec.MessageID != nil {
		messageID = sql.NullInt64{Int64: *rec.MessageID, Valid: true}
	}

	_, err := a.s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO classification_audit (id, message_id, classifier, category, confidence, reasons, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, messageID, rec.Classifier, string(rec.Category), rec.Confidence, rec.Reasons, toNanos(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// LatestFor returns the newest record for a message; ties go to the last inserted
func (a *AuditRepo) LatestFor(ctx context.Context, messageID int64) (*core.AuditRecord, error) {
	var row auditRow
	err := a.s.db.GetContext(ctx, &row, `
		SELECT id, message_id, classifier, category, confidence, reasons, created_at_ns
		FROM classification_audit
		WHERE message_id = ?
		ORDER BY created_at_ns DESC, rowid DESC
		LIMIT 1
	`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}

	rec := &core.AuditRecord{
		ID:         row.ID,
		Classifier: row.Classifier,
		Category:   core.Category(row.Category),
		Confidence: row.Confidence,
		Reasons:    row.Reasons,
		CreatedAt:  fromNanos(row.CreatedAtNs),
	}
	if row.MessageID.Valid {
		id := row.MessageID.Int64
		rec.MessageID = &id
	}
	return rec, nil
}

// PruneOlderThan removes records created before cutoff
func (a *AuditRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := a.s.db.ExecContext(ctx, `DELETE FROM classification_audit WHERE created_at_ns < ?`, toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return removed, nil
}
