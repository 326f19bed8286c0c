package vote_test

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
	"github.com/devjwplat/platbot/internal/feed"
	"github.com/devjwplat/platbot/internal/store"
	"github.com/devjwplat/platbot/internal/store/memstore"
	"github.com/devjwplat/platbot/internal/vote"
)

func newTestEngine(t *testing.T, cfg vote.Config) (*vote.Engine, *memstore.Store, *clock.Mock) {
	t.Helper()

	clk := &clock.Mock{T: time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)}
	s := memstore.New(clk)
	repos := &store.Repositories{
		Players:   s.Players(),
		Votes:     s.Votes(),
		Responses: s.Responses(),
		Events:    s.Events(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := vote.NewEngine(repos, feed.NewHub(), logger, noop.NewTracerProvider(), clk, cfg)
	return engine, s, clk
}

func addPlayer(t *testing.T, s *memstore.Store, id, name string) {
	t.Helper()
	p := &store.Player{ID: id, Name: name}
	if err := s.Players().Create(context.Background(), p); err != nil {
		t.Fatal(err)
	}
}

func points(t *testing.T, s *memstore.Store, id string) int {
	t.Helper()
	p, err := s.Players().GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return p.Points
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name  string
		tally store.Tally
		want  store.VoteStatus
	}{
		{"zero responses approves", store.Tally{}, store.StatusApproved},
		{"agree majority approves", store.Tally{Agree: 3, Disagree: 1}, store.StatusApproved},
		{"single agree approves", store.Tally{Agree: 1}, store.StatusApproved},
		{"disagree majority rejects", store.Tally{Agree: 1, Disagree: 2}, store.StatusRejected},
		{"single disagree rejects", store.Tally{Disagree: 1}, store.StatusRejected},
		{"tie expires", store.Tally{Agree: 2, Disagree: 2}, store.StatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := vote.Decide(tt.tally); got != tt.want {
				t.Errorf("Decide(%+v) = %s, want %s", tt.tally, got, tt.want)
			}
		})
	}
}

func TestCreateNomination(t *testing.T) {
	engine, s, clk := newTestEngine(t, vote.Config{Window: 5 * time.Minute, AllowSelfNomination: true})
	addPlayer(t, s, "target", "Alice")
	ctx := context.Background()

	v, err := engine.CreateNomination(ctx, "target", "creator", "great assist")
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != store.StatusPending {
		t.Errorf("got status %s, want pending", v.Status)
	}
	if want := clk.T.Add(5 * time.Minute); !v.ExpiresAt.Equal(want) {
		t.Errorf("got expiry %s, want %s", v.ExpiresAt, want)
	}

	events, err := s.Events().LoadByType(ctx, event.VoteCreated)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("got %d audit events, want 1", len(events))
	}
}

func TestCreateNomination_UnknownNominee(t *testing.T) {
	engine, _, _ := newTestEngine(t, vote.Config{Window: 5 * time.Minute, AllowSelfNomination: true})

	_, err := engine.CreateNomination(context.Background(), "nobody", "creator", "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestCreateNomination_SelfNomination(t *testing.T) {
	t.Run("blocked by policy", func(t *testing.T) {
		engine, s, _ := newTestEngine(t, vote.Config{Window: 5 * time.Minute, AllowSelfNomination: false})
		addPlayer(t, s, "p1", "Alice")

		_, err := engine.CreateNomination(context.Background(), "p1", "p1", "")
		if !errors.Is(err, vote.ErrSelfNomination) {
			t.Errorf("got %v, want ErrSelfNomination", err)
		}
	})

	t.Run("allowed by policy", func(t *testing.T) {
		engine, s, _ := newTestEngine(t, vote.Config{Window: 5 * time.Minute, AllowSelfNomination: true})
		addPlayer(t, s, "p1", "Alice")

		if _, err := engine.CreateNomination(context.Background(), "p1", "p1", ""); err != nil {
			t.Errorf("self-nomination should be allowed: %v", err)
		}
	})
}

func TestRecordResponse_Duplicate(t *testing.T) {
	engine, s, _ := newTestEngine(t, vote.Config{Window: 5 * time.Minute, AllowSelfNomination: true})
	addPlayer(t, s, "target", "Alice")
	ctx := context.Background()

	v, err := engine.CreateNomination(ctx, "target", "creator", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := engine.RecordResponse(ctx, v.ID, "voter1", store.ResponseAgree); err != nil {
		t.Fatal(err)
	}

	// Same voter again, even with a different answer.
	err = engine.RecordResponse(ctx, v.ID, "voter1", store.ResponseDisagree)
	if !errors.Is(err, store.ErrDuplicateResponse) {
		t.Errorf("got %v, want ErrDuplicateResponse", err)
	}

	// The first response stands.
	tally, err := s.Responses().Tally(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tally.Agree != 1 || tally.Disagree != 0 {
		t.Errorf("got tally %+v, want 1 agree", tally)
	}
}

func TestRecordResponse_ResolvedVoteIgnored(t *testing.T) {
	engine, s, clk := newTestEngine(t, vote.Config{Window: 5 * time.Minute, AllowSelfNomination: true})
	addPlayer(t, s, "target", "Alice")
	ctx := context.Background()

	v, err := engine.CreateNomination(ctx, "target", "creator", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Votes().Resolve(ctx, v.ID, store.StatusRejected, clk.Now(), nil); err != nil {
		t.Fatal(err)
	}

	// A late response is silently dropped, not an error.
	if err := engine.RecordResponse(ctx, v.ID, "voter1", store.ResponseAgree); err != nil {
		t.Errorf("got %v, want nil for resolved vote", err)
	}
	tally, err := s.Responses().Tally(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tally.Agree != 0 {
		t.Errorf("late response was recorded: %+v", tally)
	}
}

func TestRecordResponse_UnknownVote(t *testing.T) {
	engine, _, _ := newTestEngine(t, vote.Config{Window: 5 * time.Minute, AllowSelfNomination: true})

	err := engine.RecordResponse(context.Background(), "missing", "voter1", store.ResponseAgree)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestResolveExpiredVotes(t *testing.T) {
	tests := []struct {
		name       string
		responses  map[string]store.Response
		wantStatus store.VoteStatus
		wantPoints int
	}{
		{
			name:       "no responses approves by default",
			responses:  nil,
			wantStatus: store.StatusApproved,
			wantPoints: 1,
		},
		{
			name: "agree majority awards the point",
			responses: map[string]store.Response{
				"v1": store.ResponseAgree,
				"v2": store.ResponseAgree,
				"v3": store.ResponseDisagree,
			},
			wantStatus: store.StatusApproved,
			wantPoints: 1,
		},
		{
			name: "disagree majority rejects without award",
			responses: map[string]store.Response{
				"v1": store.ResponseDisagree,
				"v2": store.ResponseDisagree,
				"v3": store.ResponseAgree,
			},
			wantStatus: store.StatusRejected,
			wantPoints: 0,
		},
		{
			name: "tie expires without award",
			responses: map[string]store.Response{
				"v1": store.ResponseAgree,
				"v2": store.ResponseDisagree,
			},
			wantStatus: store.StatusExpired,
			wantPoints: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, s, clk := newTestEngine(t, vote.Config{Window: 5 * time.Minute, AllowSelfNomination: true})
			addPlayer(t, s, "target", "Alice")
			ctx := context.Background()

			v, err := engine.CreateNomination(ctx, "target", "creator", "")
			if err != nil {
				t.Fatal(err)
			}
			for voter, resp := range tt.responses {
				if err := engine.RecordResponse(ctx, v.ID, voter, resp); err != nil {
					t.Fatal(err)
				}
			}

			// Still inside the window: nothing to resolve.
			n, err := engine.ResolveExpiredVotes(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if n != 0 {
				t.Fatalf("resolved %d votes before expiry, want 0", n)
			}

			clk.Advance(5*time.Minute + time.Second)

			n, err = engine.ResolveExpiredVotes(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if n != 1 {
				t.Fatalf("resolved %d votes, want 1", n)
			}

			got, err := s.Votes().GetByID(ctx, v.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("got status %s, want %s", got.Status, tt.wantStatus)
			}
			if got.ResolvedAt == nil {
				t.Error("resolved vote should carry a resolution timestamp")
			}
			if p := points(t, s, "target"); p != tt.wantPoints {
				t.Errorf("got %d points, want %d", p, tt.wantPoints)
			}

			// Sweeping again must not double-award or re-resolve.
			n, err = engine.ResolveExpiredVotes(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if n != 0 {
				t.Errorf("second sweep resolved %d votes, want 0", n)
			}
			if p := points(t, s, "target"); p != tt.wantPoints {
				t.Errorf("second sweep changed points to %d, want %d", p, tt.wantPoints)
			}
		})
	}
}

func TestResolveExpiredVotes_RecordsAuditEvent(t *testing.T) {
	engine, s, clk := newTestEngine(t, vote.Config{Window: 5 * time.Minute, AllowSelfNomination: true})
	addPlayer(t, s, "target", "Alice")
	ctx := context.Background()

	v, err := engine.CreateNomination(ctx, "target", "creator", "")
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(6 * time.Minute)
	if _, err := engine.ResolveExpiredVotes(ctx); err != nil {
		t.Fatal(err)
	}

	events, err := s.Events().Load(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	// One created, one resolved.
	if len(events) != 2 {
		t.Fatalf("got %d audit events, want 2", len(events))
	}
	if events[1].Type != event.VoteResolved {
		t.Errorf("got event type %s, want %s", events[1].Type, event.VoteResolved)
	}
}

func TestAcceptNomination(t *testing.T) {
	engine, s, _ := newTestEngine(t, vote.Config{Window: 5 * time.Minute, AllowSelfNomination: true})
	addPlayer(t, s, "target", "Alice")
	ctx := context.Background()

	v, err := engine.CreateNomination(ctx, "target", "creator", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := engine.AcceptNomination(ctx, v.ID, "admin"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Votes().GetByID(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusApproved {
		t.Errorf("got status %s, want approved", got.Status)
	}
	if got.ResolvedByID == nil || *got.ResolvedByID != "admin" {
		t.Errorf("got resolver %v, want admin", got.ResolvedByID)
	}
	if p := points(t, s, "target"); p != 1 {
		t.Errorf("got %d points, want 1", p)
	}
}

func TestDeclineNomination(t *testing.T) {
	engine, s, _ := newTestEngine(t, vote.Config{Window: 5 * time.Minute, AllowSelfNomination: true})
	addPlayer(t, s, "target", "Alice")
	ctx := context.Background()

	v, err := engine.CreateNomination(ctx, "target", "creator", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := engine.DeclineNomination(ctx, v.ID, "admin"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Votes().GetByID(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusRejected {
		t.Errorf("got status %s, want rejected", got.Status)
	}
	if p := points(t, s, "target"); p != 0 {
		t.Errorf("decline awarded %d points, want 0", p)
	}
}

func TestOverride_ResolvedVoteIsNoop(t *testing.T) {
	engine, s, _ := newTestEngine(t, vote.Config{Window: 5 * time.Minute, AllowSelfNomination: true})
	addPlayer(t, s, "target", "Alice")
	ctx := context.Background()

	v, err := engine.CreateNomination(ctx, "target", "creator", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.DeclineNomination(ctx, v.ID, "admin"); err != nil {
		t.Fatal(err)
	}

	// Accepting after decline changes nothing and reports no error.
	if err := engine.AcceptNomination(ctx, v.ID, "admin"); err != nil {
		t.Errorf("got %v, want nil for already-resolved vote", err)
	}

	got, err := s.Votes().GetByID(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusRejected {
		t.Errorf("override flipped status to %s", got.Status)
	}
	if p := points(t, s, "target"); p != 0 {
		t.Errorf("no-op override awarded %d points", p)
	}
}

func TestOverride_UnknownVoteSurfacesError(t *testing.T) {
	engine, _, _ := newTestEngine(t, vote.Config{Window: 5 * time.Minute, AllowSelfNomination: true})

	if err := engine.AcceptNomination(context.Background(), "missing", "admin"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
