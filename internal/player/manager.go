// Package player handles registration, ranking and manual point awards.
package player

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/devjwplat/platbot/internal/event"
	"github.com/devjwplat/platbot/internal/store"
)

// Ranked is a player with their 1-based leaderboard position.
type Ranked struct {
	store.Player
	Rank int `json:"rank"`
}

// Manager handles player operations.
type Manager struct {
	players store.PlayerRepository
	events  event.Store
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewManager returns a new player Manager.
func NewManager(players store.PlayerRepository, events event.Store, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		players: players,
		events:  events,
		logger:  logger,
		tracer:  tp.Tracer("github.com/devjwplat/platbot/internal/player"),
	}
}

// Register creates a new player at zero points.
func (m *Manager) Register(ctx context.Context, name string) (*store.Player, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Register",
		trace.WithAttributes(attribute.String("name", name)),
	)
	defer span.End()

	p := &store.Player{Name: name}
	if err := m.players.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("creating player: %w", err)
	}

	data, _ := json.Marshal(event.PlayerRegisteredData{Name: name})
	if err := m.events.Append(ctx, event.Event{
		AggregateID: p.ID,
		Type:        event.PlayerRegistered,
		Data:        data,
		Version:     1,
	}); err != nil {
		m.logger.ErrorContext(ctx, "failed to append player registered event", slog.Any("error", err))
	}

	m.logger.InfoContext(ctx, "player registered",
		slog.String("player_id", p.ID),
		slog.String("name", name),
	)
	return p, nil
}

// Award applies a manual point adjustment to a player. The increment is
// atomic at the store so concurrent awards cannot lose updates.
func (m *Manager) Award(ctx context.Context, playerID string, delta int, reason string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Award",
		trace.WithAttributes(
			attribute.String("player_id", playerID),
			attribute.Int("delta", delta),
		),
	)
	defer span.End()

	if err := m.players.IncrementPoints(ctx, playerID, delta); err != nil {
		return fmt.Errorf("awarding points: %w", err)
	}

	data, _ := json.Marshal(event.PointsAwardedData{
		PlayerID: playerID,
		Delta:    delta,
		Reason:   reason,
	})
	if err := m.events.Append(ctx, event.Event{
		AggregateID: playerID,
		Type:        event.PointsAwarded,
		Data:        data,
		Version:     0,
	}); err != nil {
		m.logger.ErrorContext(ctx, "failed to append points awarded event", slog.Any("error", err))
	}

	m.logger.InfoContext(ctx, "points awarded",
		slog.String("player_id", playerID),
		slog.Int("delta", delta),
		slog.String("reason", reason),
	)
	return nil
}

// Get returns a player by id.
func (m *Manager) Get(ctx context.Context, playerID string) (*store.Player, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Get")
	defer span.End()

	return m.players.GetByID(ctx, playerID)
}

// Leaderboard returns all players ordered by points with their rank.
func (m *Manager) Leaderboard(ctx context.Context) ([]Ranked, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Leaderboard")
	defer span.End()

	players, err := m.players.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}

	ranked := make([]Ranked, len(players))
	for i, p := range players {
		ranked[i] = Ranked{Player: p, Rank: i + 1}
	}
	return ranked, nil
}
