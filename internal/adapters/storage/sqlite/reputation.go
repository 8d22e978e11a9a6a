package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mikey/sms-spam-filter/internal/core"
)

// ReputationRepo implements core.ReputationRepository
type ReputationRepo struct {
	s *Store
}

type reputationRow struct {
	Sender            string  `db:"sender"`
	PinnedToInbox     bool    `db:"pinned_to_inbox"`
	AutoSpam          bool    `db:"auto_spam"`
	ImportanceScore   float64 `db:"importance_score"`
	SpamScore         float64 `db:"spam_score"`
	ImportanceVotes   int     `db:"importance_votes"`
	SpamVotes         int     `db:"spam_votes"`
	LastCorrectedAtNs int64   `db:"last_corrected_at_ns"`
}

const reputationQuery = `
	SELECT sender, pinned_to_inbox, auto_spam, importance_score, spam_score,
		importance_votes, spam_votes, last_corrected_at_ns
	FROM sender_reputation WHERE sender = ?`

// Get returns the reputation of sender, or nil if there is none
func (r *ReputationRepo) Get(ctx context.Context, sender string) (*core.SenderReputation, error) {
	return getReputation(ctx, r.s.db, sender)
}

func getReputation(ctx context.Context, q sqlx.QueryerContext, sender string) (*core.SenderReputation, error) {
	var row reputationRow
	err := sqlx.GetContext(ctx, q, &row, reputationQuery, sender)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sender reputation: %w", err)
	}

	return &core.SenderReputation{
		Sender:          row.Sender,
		PinnedToInbox:   row.PinnedToInbox,
		AutoSpam:        row.AutoSpam,
		ImportanceScore: row.ImportanceScore,
		SpamScore:       row.SpamScore,
		ImportanceVotes: row.ImportanceVotes,
		SpamVotes:       row.SpamVotes,
		LastCorrectedAt: fromNanos(row.LastCorrectedAtNs),
	}, nil
}

// Upsert merges update into the stored record inside one transaction
func (r *ReputationRepo) Upsert(ctx context.Context, update core.ReputationUpdate) (*core.SenderReputation, error) {
	if update.Sender == "" {
		return nil, fmt.Errorf("%w: sender is required", core.ErrValidation)
	}

	tx, err := r.s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}

	prev, err := getReputation(ctx, tx, update.Sender)
	if err != nil {
		return nil, txEnd(tx, err)
	}

	merged := core.MergeReputation(prev, update, r.s.now())
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sender_reputation (sender, pinned_to_inbox, auto_spam, importance_score,
			spam_score, importance_votes, spam_votes, last_corrected_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, merged.Sender, merged.PinnedToInbox, merged.AutoSpam, merged.ImportanceScore, merged.SpamScore,
		merged.ImportanceVotes, merged.SpamVotes, toNanos(merged.LastCorrectedAt))
	if err != nil {
		return nil, txEnd(tx, fmt.Errorf("failed to write sender reputation: %w", err))
	}

	if err := txEnd(tx, nil); err != nil {
		return nil, err
	}
	return &merged, nil
}
