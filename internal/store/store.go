package store

import (
	"context"
	"errors"
	"time"
)

// VoteStatus is the lifecycle state of a nomination vote. The state machine
// is one-way: pending moves to exactly one of the terminal states.
type VoteStatus string

const (
	StatusPending  VoteStatus = "pending"
	StatusApproved VoteStatus = "approved"
	StatusRejected VoteStatus = "rejected"
	StatusExpired  VoteStatus = "expired"
)

// Terminal reports whether the status is a terminal state.
func (s VoteStatus) Terminal() bool { return s != StatusPending }

// Response is a single voter's answer to a nomination.
type Response string

const (
	ResponseAgree    Response = "agree"
	ResponseDisagree Response = "disagree"
)

// Errors returned by repositories.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyResolved indicates a vote status update lost the race
	// because the vote had already left the pending state.
	ErrAlreadyResolved = errors.New("vote already resolved")
	// ErrDuplicateResponse indicates the voter already responded to the vote.
	ErrDuplicateResponse = errors.New("response already recorded")
)

// Player represents a registered player. Points is the single source of
// truth for ranking and milestones.
type Player struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Points    int       `db:"points"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Vote represents a peer nomination for a bonus point.
type Vote struct {
	ID           string     `db:"id"`
	TargetID     string     `db:"target_id"`
	CreatedByID  string     `db:"created_by_id"`
	Reason       string     `db:"reason"`
	Status       VoteStatus `db:"status"`
	CreatedAt    time.Time  `db:"created_at"`
	ExpiresAt    time.Time  `db:"expires_at"`
	ResolvedAt   *time.Time `db:"resolved_at"`
	ResolvedByID *string    `db:"resolved_by_id"`
}

// VoteResponse is one voter's response to one vote. At most one row exists
// per (vote, voter) pair.
type VoteResponse struct {
	VoteID    string    `db:"vote_id"`
	UserID    string    `db:"user_id"`
	Response  Response  `db:"response"`
	CreatedAt time.Time `db:"created_at"`
}

// Tally is the aggregated response count for a vote.
type Tally struct {
	Agree    int `db:"agree"`
	Disagree int `db:"disagree"`
}

// PlayerRepository defines player persistence operations.
type PlayerRepository interface {
	Create(ctx context.Context, p *Player) error
	GetByID(ctx context.Context, id string) (*Player, error)
	List(ctx context.Context) ([]Player, error)
	// IncrementPoints applies an atomic relative update to the player's
	// points column. It must never be implemented as read-modify-write.
	IncrementPoints(ctx context.Context, id string, delta int) error
}

// VoteRepository defines nomination persistence operations.
type VoteRepository interface {
	Create(ctx context.Context, v *Vote) error
	GetByID(ctx context.Context, id string) (*Vote, error)
	// ListExpiredPending returns pending votes with expires_at <= now.
	ListExpiredPending(ctx context.Context, now time.Time) ([]Vote, error)
	// Resolve transitions a vote to a terminal status. The update is
	// conditional on the vote still being pending; if another resolver
	// won the race, ErrAlreadyResolved is returned.
	Resolve(ctx context.Context, id string, status VoteStatus, resolvedAt time.Time, resolvedByID *string) error
}

// ResponseRepository defines vote response persistence operations.
type ResponseRepository interface {
	// Create records a response. A second response from the same voter on
	// the same vote returns ErrDuplicateResponse.
	Create(ctx context.Context, r *VoteResponse) error
	ListByVote(ctx context.Context, voteID string) ([]VoteResponse, error)
	Tally(ctx context.Context, voteID string) (Tally, error)
}
