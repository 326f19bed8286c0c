package player_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/devjwplat/platbot/internal/clock"
	"github.com/devjwplat/platbot/internal/event"
	"github.com/devjwplat/platbot/internal/player"
	"github.com/devjwplat/platbot/internal/store"
	"github.com/devjwplat/platbot/internal/store/memstore"
)

func newTestManager(t *testing.T) (*player.Manager, *memstore.Store) {
	t.Helper()

	clk := &clock.Mock{T: time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)}
	s := memstore.New(clk)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return player.NewManager(s.Players(), s.Events(), logger, noop.NewTracerProvider()), s
}

func TestManager_Register(t *testing.T) {
	m, s := newTestManager(t)
	ctx := context.Background()

	p, err := m.Register(ctx, "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID == "" {
		t.Error("registered player has no id")
	}
	if p.Points != 0 {
		t.Errorf("new player has %d points, want 0", p.Points)
	}

	events, err := s.Events().LoadByType(ctx, event.PlayerRegistered)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("got %d registration events, want 1", len(events))
	}
}

func TestManager_Award(t *testing.T) {
	m, s := newTestManager(t)
	ctx := context.Background()

	p, err := m.Register(ctx, "Alice")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Award(ctx, p.ID, 3, "manual correction"); err != nil {
		t.Fatal(err)
	}
	if err := m.Award(ctx, p.ID, -1, "penalty"); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Points != 2 {
		t.Errorf("got %d points, want 2", got.Points)
	}

	events, err := s.Events().LoadByType(ctx, event.PointsAwarded)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("got %d award events, want 2", len(events))
	}
}

func TestManager_Award_UnknownPlayer(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.Award(context.Background(), "missing", 1, "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestManager_Leaderboard(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Register(ctx, "Alice"); err != nil {
		t.Fatal(err)
	}
	bob, _ := m.Register(ctx, "Bob")
	carol, _ := m.Register(ctx, "Carol")

	if err := m.Award(ctx, bob.ID, 5, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.Award(ctx, carol.ID, 2, ""); err != nil {
		t.Fatal(err)
	}

	ranked, err := m.Leaderboard(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 3 {
		t.Fatalf("got %d players, want 3", len(ranked))
	}

	wantOrder := []string{"Bob", "Carol", "Alice"}
	for i, want := range wantOrder {
		if ranked[i].Name != want {
			t.Errorf("rank %d is %q, want %q", i+1, ranked[i].Name, want)
		}
		if ranked[i].Rank != i+1 {
			t.Errorf("got rank %d at position %d", ranked[i].Rank, i)
		}
	}
}
