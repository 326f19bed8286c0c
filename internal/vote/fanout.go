package vote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/devjwplat/platbot/internal/feed"
	"github.com/devjwplat/platbot/internal/store"
)

// Notification is a nomination popup shown to peers. The bare change-feed
// row is enriched with display names before it reaches the queue.
type Notification struct {
	VoteID        string    `json:"voteId"`
	TargetID      string    `json:"targetId"`
	TargetName    string    `json:"targetName"`
	CreatedByID   string    `json:"createdById"`
	CreatedByName string    `json:"createdByName"`
	Reason        string    `json:"reason"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// voteRow is the shape of a votes row in a change notification.
type voteRow struct {
	ID          string    `json:"id"`
	TargetID    string    `json:"target_id"`
	CreatedByID string    `json:"created_by_id"`
	Reason      string    `json:"reason"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Run consumes nomination inserts from the change feed and fills the popup
// queue until ctx is cancelled. It returns an error if the engine is
// already running or the feed subscription fails.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("vote engine already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	sub, err := e.source.Subscribe("votes")
	if err != nil {
		return err
	}
	defer sub.Close()

	e.logger.InfoContext(ctx, "vote engine running")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			e.handleChange(ctx, ev)
		}
	}
}

// handleChange enqueues a popup for a freshly inserted pending nomination.
func (e *Engine) handleChange(ctx context.Context, ev feed.Event) {
	if ev.Op != feed.OpInsert {
		return
	}

	var row voteRow
	if err := ev.DecodeNew(&row); err != nil {
		e.logger.ErrorContext(ctx, "decoding vote change", slog.Any("error", err))
		return
	}
	if row.Status != "" && row.Status != string(store.StatusPending) {
		return
	}

	// The creator's own client does not announce its own nomination.
	if e.cfg.SelfUserID != "" && row.CreatedByID == e.cfg.SelfUserID {
		return
	}

	n := Notification{
		VoteID:      row.ID,
		TargetID:    row.TargetID,
		CreatedByID: row.CreatedByID,
		Reason:      row.Reason,
		ExpiresAt:   row.ExpiresAt,
	}
	n.TargetName = e.playerName(ctx, row.TargetID)
	n.CreatedByName = e.playerName(ctx, row.CreatedByID)

	e.mu.Lock()
	e.queue = append(e.queue, n)
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "nomination queued for display",
		slog.String("vote_id", row.ID),
		slog.String("target", n.TargetName),
	)
}

// playerName resolves a display name, falling back to the raw id when the
// lookup fails so a popup is still shown.
func (e *Engine) playerName(ctx context.Context, id string) string {
	p, err := e.players.GetByID(ctx, id)
	if err != nil {
		e.logger.WarnContext(ctx, "resolving player name",
			slog.String("player_id", id),
			slog.Any("error", err),
		)
		return id
	}
	return p.Name
}

// NextNotification pops the oldest pending nomination popup, if any.
func (e *Engine) NextNotification() (Notification, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.queue) == 0 {
		return Notification{}, false
	}
	n := e.queue[0]
	e.queue = e.queue[1:]
	return n, true
}
