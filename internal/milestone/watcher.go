package milestone

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/devjwplat/platbot/internal/clock"
	"github.com/devjwplat/platbot/internal/feed"
	"github.com/devjwplat/platbot/internal/notify"
	"github.com/devjwplat/platbot/internal/store"
)

var meter = otel.Meter("github.com/devjwplat/platbot/internal/milestone")

// Config holds watcher settings.
type Config struct {
	// Milestones is the set of point totals that fire a celebration.
	Milestones []int
	// PollInterval is the snapshot reconciliation interval.
	PollInterval time.Duration
	// HistorySize bounds the activity history buffer.
	HistorySize int
}

// playerRow is the shape of a players row in a change notification.
type playerRow struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// Watcher observes player point changes through two independent producers,
// the realtime feed and a periodic snapshot poll, and funnels both through
// one idempotent transition check so redelivered or out-of-order events
// cannot re-fire a milestone.
type Watcher struct {
	players  store.PlayerRepository
	source   feed.Source
	notifier notify.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock
	cfg      Config

	milestones map[int]struct{}
	fired      metric.Int64Counter

	mu        sync.Mutex
	lastKnown map[string]int
	queue     []Event
	history   []Event
	running   bool
}

// NewWatcher returns a stopped Watcher.
func NewWatcher(players store.PlayerRepository, source feed.Source, notifier notify.Notifier, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock, cfg Config) *Watcher {
	set := make(map[int]struct{}, len(cfg.Milestones))
	for _, m := range cfg.Milestones {
		set[m] = struct{}{}
	}

	fired, err := meter.Int64Counter("platbot.milestones.fired")
	if err != nil {
		logger.Warn("creating milestone counter", slog.Any("error", err))
	}

	return &Watcher{
		players:    players,
		source:     source,
		notifier:   notifier,
		logger:     logger,
		tracer:     tp.Tracer("github.com/devjwplat/platbot/internal/milestone"),
		clock:      clk,
		cfg:        cfg,
		milestones: set,
		fired:      fired,
		lastKnown:  make(map[string]int),
	}
}

// IsMilestone reports whether points is a member of the milestone set.
func (w *Watcher) IsMilestone(points int) bool {
	_, ok := w.milestones[points]
	return ok
}

// Run loads the baseline snapshot, subscribes to the change feed and polls
// until ctx is cancelled. It returns an error if the watcher is already
// running or the feed subscription fails.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	// Baseline: record current totals so pre-existing points never fire.
	// A failed read here is tolerable because players first seen later are
	// recorded without firing.
	if err := w.poll(ctx); err != nil {
		w.logger.WarnContext(ctx, "initial snapshot failed, starting with empty baseline", slog.Any("error", err))
	}

	sub, err := w.source.Subscribe("players")
	if err != nil {
		return err
	}
	defer sub.Close()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.InfoContext(ctx, "ledger watcher running",
		slog.Int("milestones", len(w.milestones)),
		slog.Duration("poll_interval", w.cfg.PollInterval),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			w.handleChange(ctx, e)
		case <-ticker.C:
			if err := w.poll(ctx); err != nil {
				w.logger.WarnContext(ctx, "snapshot poll failed, retrying next tick", slog.Any("error", err))
			}
		}
	}
}

// handleChange applies a single feed event to the transition check.
func (w *Watcher) handleChange(ctx context.Context, e feed.Event) {
	switch e.Op {
	case feed.OpInsert, feed.OpUpdate:
		var row playerRow
		if err := e.DecodeNew(&row); err != nil {
			w.logger.ErrorContext(ctx, "decoding player change", slog.Any("error", err))
			return
		}
		w.observe(ctx, row.ID, row.Name, row.Points)
	case feed.OpDelete:
		var row playerRow
		if err := e.DecodeOld(&row); err == nil {
			w.forget(row.ID)
		}
	}
}

// poll reconciles against a full snapshot, catching changes the feed
// dropped.
func (w *Watcher) poll(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "Watcher.Poll")
	defer span.End()

	players, err := w.players.List(ctx)
	if err != nil {
		return err
	}
	for _, p := range players {
		w.observe(ctx, p.ID, p.Name, p.Points)
	}
	return nil
}

// observe is the single transition check both producers funnel through. A
// milestone fires only on a genuine change from the last recorded total to
// a value in the milestone set; observing the same value again is a no-op.
func (w *Watcher) observe(ctx context.Context, playerID, playerName string, points int) {
	w.mu.Lock()

	prev, known := w.lastKnown[playerID]
	w.lastKnown[playerID] = points

	// First sighting establishes the baseline without firing, whether it
	// comes from the startup snapshot or a later insert.
	if !known || prev == points || !w.IsMilestone(points) {
		w.mu.Unlock()
		return
	}

	ev := Event{
		ID:         uuid.NewString(),
		PlayerID:   playerID,
		PlayerName: playerName,
		Points:     points,
		Action:     Action(points),
		CreatedAt:  w.clock.Now().UTC(),
	}
	w.queue = append(w.queue, ev)
	w.history = append([]Event{ev}, w.history...)
	if len(w.history) > w.cfg.HistorySize {
		w.history = w.history[:w.cfg.HistorySize]
	}
	w.mu.Unlock()

	if w.fired != nil {
		w.fired.Add(ctx, 1, metric.WithAttributes(attribute.Int("milestone.points", points)))
	}
	w.logger.InfoContext(ctx, "milestone crossed",
		slog.String("player_id", playerID),
		slog.String("player", playerName),
		slog.Int("points", points),
	)

	// Best-effort delivery. A channel failure never unwinds the crossing
	// that was just recorded.
	if err := w.notifier.MilestoneReached(ctx, playerName, points, ev.Action); err != nil {
		w.logger.ErrorContext(ctx, "milestone notification failed",
			slog.String("player", playerName),
			slog.Int("points", points),
			slog.Any("error", err),
		)
	}
}

// forget drops a player from the baseline map.
func (w *Watcher) forget(playerID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.lastKnown, playerID)
}

// Next pops the oldest pending popup event, if any.
func (w *Watcher) Next() (Event, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.queue) == 0 {
		return Event{}, false
	}
	ev := w.queue[0]
	w.queue = w.queue[1:]
	return ev, true
}

// History returns the bounded activity feed, most recent first.
func (w *Watcher) History() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Event, len(w.history))
	copy(out, w.history)
	return out
}
