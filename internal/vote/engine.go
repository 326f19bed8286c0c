// Package vote implements the peer nomination engine: creating nominations,
// collecting responses inside the voting window and resolving expired votes.
package vote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/devjwplat/platbot/internal/clock"
	"github.com/devjwplat/platbot/internal/event"
	"github.com/devjwplat/platbot/internal/feed"
	"github.com/devjwplat/platbot/internal/store"
)

var meter = otel.Meter("github.com/devjwplat/platbot/internal/vote")

// Errors returned by engine operations.
var (
	ErrSelfNomination = errors.New("self-nomination is not allowed")
)

// Config holds the voting rules.
type Config struct {
	// Window is how long a nomination stays open for responses.
	Window time.Duration
	// AllowSelfNomination permits players to nominate themselves.
	AllowSelfNomination bool
	// SelfUserID, when set, suppresses popup notifications for
	// nominations created by that user (a client does not notify itself
	// about its own nomination).
	SelfUserID string
}

// Engine coordinates the nomination lifecycle. One Engine is created per
// active session; it owns its popup queue and holds no global state.
type Engine struct {
	votes     store.VoteRepository
	responses store.ResponseRepository
	players   store.PlayerRepository
	events    event.Store
	source    feed.Source
	logger    *slog.Logger
	tracer    trace.Tracer
	clock     clock.Clock
	cfg       Config

	resolved metric.Int64Counter

	mu      sync.Mutex
	queue   []Notification
	running bool
}

// NewEngine returns a new vote Engine.
func NewEngine(repos *store.Repositories, source feed.Source, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock, cfg Config) *Engine {
	resolved, err := meter.Int64Counter("platbot.votes.resolved")
	if err != nil {
		logger.Warn("creating vote counter", slog.Any("error", err))
	}

	return &Engine{
		votes:     repos.Votes,
		responses: repos.Responses,
		players:   repos.Players,
		events:    repos.Events,
		source:    source,
		logger:    logger,
		tracer:    tp.Tracer("github.com/devjwplat/platbot/internal/vote"),
		clock:     clk,
		cfg:       cfg,
		resolved:  resolved,
	}
}

// Decide applies the resolution rule to a response tally:
//
//   - zero responses: approved (the nomination sticks by default)
//   - agree > disagree: approved
//   - disagree > agree: rejected
//   - non-zero tie: expired (window elapsed without a decision)
func Decide(t store.Tally) store.VoteStatus {
	switch {
	case t.Agree == 0 && t.Disagree == 0:
		return store.StatusApproved
	case t.Agree > t.Disagree:
		return store.StatusApproved
	case t.Disagree > t.Agree:
		return store.StatusRejected
	default:
		return store.StatusExpired
	}
}

// CreateNomination inserts a new pending nomination expiring one voting
// window from now.
func (e *Engine) CreateNomination(ctx context.Context, targetID, createdByID, reason string) (*store.Vote, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.CreateNomination",
		trace.WithAttributes(
			attribute.String("target_id", targetID),
			attribute.String("created_by_id", createdByID),
		),
	)
	defer span.End()

	if !e.cfg.AllowSelfNomination && targetID == createdByID {
		return nil, ErrSelfNomination
	}

	if _, err := e.players.GetByID(ctx, targetID); err != nil {
		return nil, fmt.Errorf("looking up nominee: %w", err)
	}

	now := e.clock.Now().UTC()
	v := &store.Vote{
		TargetID:    targetID,
		CreatedByID: createdByID,
		Reason:      reason,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.cfg.Window),
	}
	if err := e.votes.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("creating nomination: %w", err)
	}

	e.appendEvent(ctx, v.ID, event.VoteCreated, event.VoteCreatedData{
		TargetID:    targetID,
		CreatedByID: createdByID,
		Reason:      reason,
		ExpiresAt:   v.ExpiresAt,
	})

	e.logger.InfoContext(ctx, "nomination created",
		slog.String("vote_id", v.ID),
		slog.String("target_id", targetID),
		slog.String("created_by_id", createdByID),
	)
	return v, nil
}

// RecordResponse records a voter's response. A voter gets at most one
// response per vote; a duplicate returns store.ErrDuplicateResponse.
func (e *Engine) RecordResponse(ctx context.Context, voteID, userID string, response store.Response) error {
	ctx, span := e.tracer.Start(ctx, "Engine.RecordResponse",
		trace.WithAttributes(
			attribute.String("vote_id", voteID),
			attribute.String("user_id", userID),
			attribute.String("response", string(response)),
		),
	)
	defer span.End()

	v, err := e.votes.GetByID(ctx, voteID)
	if err != nil {
		return fmt.Errorf("looking up vote: %w", err)
	}
	if v.Status.Terminal() {
		e.logger.InfoContext(ctx, "ignoring response to resolved vote",
			slog.String("vote_id", voteID),
			slog.String("status", string(v.Status)),
		)
		return nil
	}

	err = e.responses.Create(ctx, &store.VoteResponse{
		VoteID:   voteID,
		UserID:   userID,
		Response: response,
	})
	if errors.Is(err, store.ErrDuplicateResponse) {
		e.logger.InfoContext(ctx, "duplicate vote response rejected",
			slog.String("vote_id", voteID),
			slog.String("user_id", userID),
		)
		return err
	}
	if err != nil {
		return fmt.Errorf("recording response: %w", err)
	}
	return nil
}

// ResolveExpiredVotes resolves every pending vote whose window has elapsed
// and returns the number of votes it transitioned. Per-vote failures are
// logged and skipped so one bad vote cannot stall the sweep.
func (e *Engine) ResolveExpiredVotes(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.ResolveExpiredVotes")
	defer span.End()

	now := e.clock.Now().UTC()
	expired, err := e.votes.ListExpiredPending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("listing expired votes: %w", err)
	}

	count := 0
	for i := range expired {
		v := &expired[i]
		if err := e.resolveOne(ctx, v, now); err != nil {
			e.logger.ErrorContext(ctx, "resolving expired vote failed",
				slog.String("vote_id", v.ID),
				slog.Any("error", err),
			)
			continue
		}
		count++
	}
	return count, nil
}

// resolveOne tallies and transitions a single expired vote. The status
// update is a compare-and-swap on pending, so a concurrent resolver losing
// the race skips the award and this stays idempotent.
func (e *Engine) resolveOne(ctx context.Context, v *store.Vote, now time.Time) error {
	tally, err := e.responses.Tally(ctx, v.ID)
	if err != nil {
		return fmt.Errorf("tallying responses: %w", err)
	}

	outcome := Decide(tally)

	err = e.votes.Resolve(ctx, v.ID, outcome, now, nil)
	if errors.Is(err, store.ErrAlreadyResolved) {
		e.logger.InfoContext(ctx, "vote already resolved, skipping",
			slog.String("vote_id", v.ID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("updating vote status: %w", err)
	}

	e.finishResolution(ctx, v, outcome, tally, nil)
	return nil
}

// AcceptNomination is the manual override: a privileged actor approves a
// pending vote before expiry. A vote that already left pending is a no-op.
// A fetch failure is surfaced so the caller can offer a retry.
func (e *Engine) AcceptNomination(ctx context.Context, voteID, resolverID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.AcceptNomination",
		trace.WithAttributes(attribute.String("vote_id", voteID)),
	)
	defer span.End()

	return e.override(ctx, voteID, resolverID, store.StatusApproved)
}

// DeclineNomination is the manual override rejecting a pending vote.
func (e *Engine) DeclineNomination(ctx context.Context, voteID, resolverID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.DeclineNomination",
		trace.WithAttributes(attribute.String("vote_id", voteID)),
	)
	defer span.End()

	return e.override(ctx, voteID, resolverID, store.StatusRejected)
}

func (e *Engine) override(ctx context.Context, voteID, resolverID string, outcome store.VoteStatus) error {
	v, err := e.votes.GetByID(ctx, voteID)
	if err != nil {
		return fmt.Errorf("looking up vote: %w", err)
	}
	if v.Status.Terminal() {
		e.logger.InfoContext(ctx, "manual override on resolved vote ignored",
			slog.String("vote_id", voteID),
			slog.String("status", string(v.Status)),
		)
		return nil
	}

	now := e.clock.Now().UTC()
	err = e.votes.Resolve(ctx, voteID, outcome, now, &resolverID)
	if errors.Is(err, store.ErrAlreadyResolved) {
		e.logger.InfoContext(ctx, "manual override lost resolution race",
			slog.String("vote_id", voteID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("updating vote status: %w", err)
	}

	e.finishResolution(ctx, v, outcome, store.Tally{}, &resolverID)
	return nil
}

// finishResolution applies the point award for approvals and records the
// audit event. It runs only on the resolver that won the status CAS, which
// keeps the award at exactly once per vote.
func (e *Engine) finishResolution(ctx context.Context, v *store.Vote, outcome store.VoteStatus, tally store.Tally, resolverID *string) {
	if outcome == store.StatusApproved {
		if err := e.players.IncrementPoints(ctx, v.TargetID, 1); err != nil {
			e.logger.ErrorContext(ctx, "applying point award failed",
				slog.String("vote_id", v.ID),
				slog.String("target_id", v.TargetID),
				slog.Any("error", err),
			)
		}
	}

	if e.resolved != nil {
		e.resolved.Add(ctx, 1, metric.WithAttributes(attribute.String("vote.outcome", string(outcome))))
	}

	e.appendEvent(ctx, v.ID, event.VoteResolved, event.VoteResolvedData{
		Status:       string(outcome),
		Agree:        tally.Agree,
		Disagree:     tally.Disagree,
		ResolvedByID: resolverID,
	})

	e.logger.InfoContext(ctx, "vote resolved",
		slog.String("vote_id", v.ID),
		slog.String("outcome", string(outcome)),
		slog.Int("agree", tally.Agree),
		slog.Int("disagree", tally.Disagree),
	)
}

// Sweep runs ResolveExpiredVotes on a fixed interval until ctx is
// cancelled. Sweep failures are logged and retried on the next tick.
func (e *Engine) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ResolveExpiredVotes(ctx); err != nil {
				e.logger.ErrorContext(ctx, "resolution sweep failed, retrying next tick", slog.Any("error", err))
			}
		}
	}
}

// appendEvent writes an audit event, logging and dropping failures.
func (e *Engine) appendEvent(ctx context.Context, aggregateID string, t event.Type, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.ErrorContext(ctx, "marshalling audit event", slog.Any("error", err))
		return
	}
	if err := e.events.Append(ctx, event.Event{
		AggregateID: aggregateID,
		Type:        t,
		Data:        data,
		Version:     0,
	}); err != nil {
		e.logger.ErrorContext(ctx, "appending audit event",
			slog.String("type", string(t)),
			slog.Any("error", err),
		)
	}
}
