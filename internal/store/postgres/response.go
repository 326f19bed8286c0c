package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/devjwplat/platbot/internal/clock"
	"github.com/devjwplat/platbot/internal/store"
)

// ResponseRepo implements store.ResponseRepository with sqlx.
type ResponseRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewResponseRepo returns a new ResponseRepo.
func NewResponseRepo(db *sqlx.DB, clk clock.Clock) *ResponseRepo {
	return &ResponseRepo{db: db, clock: clk}
}

// Create inserts a response. The UNIQUE(vote_id, user_id) constraint plus
// ON CONFLICT DO NOTHING turns a duplicate into zero affected rows, which is
// reported as store.ErrDuplicateResponse.
func (r *ResponseRepo) Create(ctx context.Context, vr *store.VoteResponse) error {
	if vr.CreatedAt.IsZero() {
		vr.CreatedAt = r.clock.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO vote_responses (vote_id, user_id, response, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (vote_id, user_id) DO NOTHING`,
		vr.VoteID, vr.UserID, vr.Response, vr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating vote response: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return store.ErrDuplicateResponse
	}
	return nil
}

func (r *ResponseRepo) ListByVote(ctx context.Context, voteID string) ([]store.VoteResponse, error) {
	var responses []store.VoteResponse
	err := r.db.SelectContext(ctx, &responses,
		`SELECT * FROM vote_responses WHERE vote_id = $1 ORDER BY created_at ASC`, voteID)
	if err != nil {
		return nil, fmt.Errorf("listing vote responses: %w", err)
	}
	return responses, nil
}

func (r *ResponseRepo) Tally(ctx context.Context, voteID string) (store.Tally, error) {
	var t store.Tally
	err := r.db.GetContext(ctx, &t,
		`SELECT
		   COUNT(*) FILTER (WHERE response = 'agree')    AS agree,
		   COUNT(*) FILTER (WHERE response = 'disagree') AS disagree
		 FROM vote_responses WHERE vote_id = $1`, voteID)
	if err != nil {
		return store.Tally{}, fmt.Errorf("tallying vote responses: %w", err)
	}
	return t, nil
}
