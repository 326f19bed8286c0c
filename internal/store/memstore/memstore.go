// Package memstore provides a store.Driver backed by in-process maps.
//
// It implements the same repository contracts as the postgres driver,
// including the pending-guarded status transition and the one-response-per-
// voter rule, so the managers behave identically against either backend. It
// is used for local development and in unit tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devjwplat/platbot/internal/clock"
	"github.com/devjwplat/platbot/internal/config"
	"github.com/devjwplat/platbot/internal/event"
	"github.com/devjwplat/platbot/internal/store"
)

func init() {
	store.Register("memory", openMemory)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openMemory is the store.Driver for the "memory" backend.
func openMemory(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	s := New(clk)
	return &store.Repositories{
		Players:   s.Players(),
		Votes:     s.Votes(),
		Responses: s.Responses(),
		Events:    s.Events(),
		Closer:    closerFunc(func() error { return nil }),
		Ping:      func(context.Context) error { return nil },
	}, nil
}

// Store holds all in-memory tables behind one mutex.
type Store struct {
	mu        sync.RWMutex
	clock     clock.Clock
	players   map[string]*store.Player
	votes     map[string]*store.Vote
	responses map[string]map[string]*store.VoteResponse // voteID -> userID -> response
	events    []event.Event
}

// New returns an empty in-memory store.
func New(clk clock.Clock) *Store {
	return &Store{
		clock:     clk,
		players:   make(map[string]*store.Player),
		votes:     make(map[string]*store.Vote),
		responses: make(map[string]map[string]*store.VoteResponse),
	}
}

// Players returns the player repository view of the store.
func (s *Store) Players() store.PlayerRepository { return (*playerRepo)(s) }

// Votes returns the vote repository view of the store.
func (s *Store) Votes() store.VoteRepository { return (*voteRepo)(s) }

// Responses returns the response repository view of the store.
func (s *Store) Responses() store.ResponseRepository { return (*responseRepo)(s) }

// Events returns the audit event store view of the store.
func (s *Store) Events() event.Store { return (*eventStore)(s) }

type playerRepo Store

func (r *playerRepo) Create(_ context.Context, p *store.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := r.clock.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	r.players[p.ID] = &cp
	return nil
}

func (r *playerRepo) GetByID(_ context.Context, id string) (*store.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.players[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *playerRepo) List(_ context.Context) ([]store.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	players := make([]store.Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].Points != players[j].Points {
			return players[i].Points > players[j].Points
		}
		return players[i].Name < players[j].Name
	})
	return players, nil
}

func (r *playerRepo) IncrementPoints(_ context.Context, id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Points += delta
	p.UpdatedAt = r.clock.Now().UTC()
	return nil
}

type voteRepo Store

func (r *voteRepo) Create(_ context.Context, v *store.Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = r.clock.Now().UTC()
	}
	v.Status = store.StatusPending
	cp := *v
	r.votes[v.ID] = &cp
	return nil
}

func (r *voteRepo) GetByID(_ context.Context, id string) (*store.Vote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.votes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (r *voteRepo) ListExpiredPending(_ context.Context, now time.Time) ([]store.Vote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var votes []store.Vote
	for _, v := range r.votes {
		if v.Status == store.StatusPending && !v.ExpiresAt.After(now) {
			votes = append(votes, *v)
		}
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].ExpiresAt.Before(votes[j].ExpiresAt) })
	return votes, nil
}

func (r *voteRepo) Resolve(_ context.Context, id string, status store.VoteStatus, resolvedAt time.Time, resolvedByID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.votes[id]
	if !ok {
		return store.ErrNotFound
	}
	if v.Status != store.StatusPending {
		return store.ErrAlreadyResolved
	}
	v.Status = status
	at := resolvedAt.UTC()
	v.ResolvedAt = &at
	v.ResolvedByID = resolvedByID
	return nil
}

type responseRepo Store

func (r *responseRepo) Create(_ context.Context, vr *store.VoteResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byUser, ok := r.responses[vr.VoteID]
	if !ok {
		byUser = make(map[string]*store.VoteResponse)
		r.responses[vr.VoteID] = byUser
	}
	if _, exists := byUser[vr.UserID]; exists {
		return store.ErrDuplicateResponse
	}
	if vr.CreatedAt.IsZero() {
		vr.CreatedAt = r.clock.Now().UTC()
	}
	cp := *vr
	byUser[vr.UserID] = &cp
	return nil
}

func (r *responseRepo) ListByVote(_ context.Context, voteID string) ([]store.VoteResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var responses []store.VoteResponse
	for _, vr := range r.responses[voteID] {
		responses = append(responses, *vr)
	}
	sort.Slice(responses, func(i, j int) bool { return responses[i].CreatedAt.Before(responses[j].CreatedAt) })
	return responses, nil
}

func (r *responseRepo) Tally(_ context.Context, voteID string) (store.Tally, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var t store.Tally
	for _, vr := range r.responses[voteID] {
		switch vr.Response {
		case store.ResponseAgree:
			t.Agree++
		case store.ResponseDisagree:
			t.Disagree++
		}
	}
	return t, nil
}

type eventStore Store

func (s *eventStore) Append(_ context.Context, events ...event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = s.clock.Now().UTC()
		}
		s.events = append(s.events, e)
	}
	return nil
}

func (s *eventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []event.Event
	for _, e := range s.events {
		if e.AggregateID == aggregateID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *eventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []event.Event
	for _, e := range s.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result, nil
}
