// Package feed fans database change notifications out to in-process subscribers.
//
// Delivery is at-least-once with no ordering between events; subscribers treat every
// event as a hint that something changed and refetch whatever they display.
package feed

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
	OpAny    = "*"

	// AnyTable marks events that are not tied to a table, such as a reconnect.
	AnyTable = "*"
)

type Event struct {
	Table string    `json:"table"`
	Op    string    `json:"op"`
	RowID string    `json:"id,omitempty"`
	At    time.Time `json:"at"`
}

// Source pushes events from a transport into publish until ctx ends.
type Source interface {
	Run(ctx context.Context, publish func(Event)) error
}

// Emitter announces a write the service just made. Sources fed by database triggers
// do not need it.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) error { return nil }

type subscription struct {
	table  string
	filter string
	fn     func(Event)
}

func (s subscription) matches(ev Event) bool {
	if ev.Table != AnyTable && !strings.EqualFold(s.table, ev.Table) {
		return false
	}
	return s.filter == "" || s.filter == OpAny || ev.Op == OpAny || strings.EqualFold(s.filter, ev.Op)
}

type Hub struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]subscription
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]subscription)}
}

// Subscribe registers fn for events on table whose operation matches filter
// (an operation name or "*"). The returned function unsubscribes; calling it more than
// once is harmless.
func (h *Hub) Subscribe(table, filter string, fn func(Event)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscription{table: table, filter: filter, fn: fn}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers ev to every matching subscriber on the caller's goroutine.
// Callbacks must not block.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	targets := make([]func(Event), 0, len(h.subs))
	for _, s := range h.subs {
		if s.matches(ev) {
			targets = append(targets, s.fn)
		}
	}
	h.mu.RUnlock()

	slog.Debug("change event", slog.String("table", ev.Table), slog.String("op", ev.Op),
		slog.String("id", ev.RowID), slog.Int("subscribers", len(targets)))
	for _, fn := range targets {
		fn(ev)
	}
}

// Len is the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
