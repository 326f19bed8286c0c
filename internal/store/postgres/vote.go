package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devjwplat/platbot/internal/clock"
	"github.com/devjwplat/platbot/internal/store"
)

// VoteRepo implements store.VoteRepository with sqlx.
type VoteRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewVoteRepo returns a new VoteRepo.
func NewVoteRepo(db *sqlx.DB, clk clock.Clock) *VoteRepo {
	return &VoteRepo{db: db, clock: clk}
}

func (r *VoteRepo) Create(ctx context.Context, v *store.Vote) error {
	query := `INSERT INTO votes (target_id, created_by_id, reason, status, created_at, expires_at)
	           VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	if v.CreatedAt.IsZero() {
		v.CreatedAt = r.clock.Now().UTC()
	}
	v.Status = store.StatusPending
	if err := r.db.QueryRowContext(ctx, query,
		v.TargetID, v.CreatedByID, v.Reason, v.Status, v.CreatedAt, v.ExpiresAt,
	).Scan(&v.ID); err != nil {
		return fmt.Errorf("creating vote: %w", err)
	}
	return nil
}

func (r *VoteRepo) GetByID(ctx context.Context, id string) (*store.Vote, error) {
	var v store.Vote
	err := r.db.GetContext(ctx, &v, `SELECT * FROM votes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting vote: %w", err)
	}
	return &v, nil
}

func (r *VoteRepo) ListExpiredPending(ctx context.Context, now time.Time) ([]store.Vote, error) {
	var votes []store.Vote
	err := r.db.SelectContext(ctx, &votes,
		`SELECT * FROM votes WHERE status = 'pending' AND expires_at <= $1 ORDER BY expires_at ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing expired pending votes: %w", err)
	}
	return votes, nil
}

// Resolve is a compare-and-swap on the status column: the WHERE clause only
// matches while the vote is still pending, so exactly one resolver wins.
func (r *VoteRepo) Resolve(ctx context.Context, id string, status store.VoteStatus, resolvedAt time.Time, resolvedByID *string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE votes SET status = $1, resolved_at = $2, resolved_by_id = $3
		 WHERE id = $4 AND status = 'pending'`,
		status, resolvedAt.UTC(), resolvedByID, id,
	)
	if err != nil {
		return fmt.Errorf("resolving vote: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		// Either the vote does not exist or it already left pending.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return store.ErrAlreadyResolved
	}
	return nil
}
