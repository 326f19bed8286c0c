// Package feed delivers row-change events from the backing store.
//
// The feed is intentionally lossy: delivery is at-least-once, unordered, and
// slow consumers have events dropped. Consumers must be idempotent and rely
// on snapshot polling for reconciliation.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Event is a single row change on a table.
type Event struct {
	Table string          `json:"table"`
	Op    Op              `json:"op"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// DecodeNew unmarshals the new row image into v.
func (e Event) DecodeNew(v any) error {
	if len(e.New) == 0 {
		return errors.New("event has no new row image")
	}
	if err := json.Unmarshal(e.New, v); err != nil {
		return fmt.Errorf("decoding new row: %w", err)
	}
	return nil
}

// DecodeOld unmarshals the old row image into v.
func (e Event) DecodeOld(v any) error {
	if len(e.Old) == 0 {
		return errors.New("event has no old row image")
	}
	if err := json.Unmarshal(e.Old, v); err != nil {
		return fmt.Errorf("decoding old row: %w", err)
	}
	return nil
}

// Source hands out per-table change subscriptions.
type Source interface {
	Subscribe(table string) (*Subscription, error)
}

// Subscription is a cancellable stream of change events for one table.
type Subscription struct {
	// C delivers events until the subscription is closed.
	C <-chan Event

	once   sync.Once
	cancel func()
}

func newSubscription(ch chan Event, cancel func()) *Subscription {
	return &Subscription{C: ch, cancel: cancel}
}

// Close cancels the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Hub is an in-process Source used with the memory store driver and in
// tests. Publish fans an event out to all subscribers of its table.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[int]chan Event
	next int
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Event)}
}

// Subscribe returns a subscription for the given table.
func (h *Hub) Subscribe(table string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[table] == nil {
		h.subs[table] = make(map[int]chan Event)
	}
	id := h.next
	h.next++
	ch := make(chan Event, 64)
	h.subs[table][id] = ch

	return newSubscription(ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[table], id)
		close(ch)
	}), nil
}

// Publish delivers an event to all subscribers of its table, dropping it for
// subscribers whose buffer is full.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[e.Table] {
		select {
		case ch <- e:
		default:
		}
	}
}
