package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/devjwplat/platbot/internal/clock"
	"github.com/devjwplat/platbot/internal/feed"
	"github.com/devjwplat/platbot/internal/store"
	"github.com/devjwplat/platbot/internal/store/postgres"
)

// TestChangeFeed_Postgres drives the full notification path: a row change
// fires the schema trigger, pg_notify publishes the payload, and the
// listener fans it out to subscribers.
func TestChangeFeed_Postgres(t *testing.T) {
	db, dsn := newTestDBWithDSN(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	listener := feed.NewListener(dsn, logger)
	if err := listener.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := listener.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	sub, err := listener.Subscribe("players")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	clk := &clock.Mock{T: time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)}
	players := postgres.NewPlayerRepo(db, clk)

	p := &store.Player{Name: "Alice"}
	if err := players.Create(ctx, p); err != nil {
		t.Fatal(err)
	}

	waitFor := func(op feed.Op, wantPoints int) {
		t.Helper()
		deadline := time.After(10 * time.Second)
		for {
			select {
			case e := <-sub.C:
				if e.Op != op {
					continue
				}
				var row struct {
					ID     string `json:"id"`
					Points int    `json:"points"`
				}
				if err := e.DecodeNew(&row); err != nil {
					t.Fatal(err)
				}
				if row.ID == p.ID && row.Points == wantPoints {
					return
				}
			case <-deadline:
				t.Fatalf("no %s event with %d points received", op, wantPoints)
			}
		}
	}

	waitFor(feed.OpInsert, 0)

	if err := players.IncrementPoints(ctx, p.ID, 3); err != nil {
		t.Fatal(err)
	}
	waitFor(feed.OpUpdate, 3)
}
