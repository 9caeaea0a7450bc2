package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"popotte/internal/feed"
)

// Display is what a panel currently shows.
type Display struct {
	Total     decimal.Decimal `json:"total"`
	Stale     bool            `json:"stale"`
	UpdatedAt time.Time       `json:"updated_at"`
	Err       string          `json:"error,omitempty"`
}

type token struct {
	settle bool
	expect Expectation
}

// merge folds a newer request into one already waiting. A mutation request keeps its
// settle delay and the latest expectation wins.
func (t *token) merge(o token) {
	t.settle = t.settle || o.settle
	if o.expect != nil {
		t.expect = o.expect
	}
}

// Panel owns one displayed aggregate. Mutation requests and change-feed events both
// queue a refresh token; Run consumes them one at a time, so at most one fetch is in
// flight and display writes happen in order.
type Panel struct {
	name   string
	fetch  Fetcher
	policy Policy

	mu       sync.Mutex
	pending  *token
	debounce *time.Timer
	display  Display
	ready    chan struct{}
	readyOne sync.Once

	wake chan struct{}
}

func NewPanel(name string, policy Policy, fetch Fetcher) *Panel {
	return &Panel{
		name:   name,
		fetch:  fetch,
		policy: policy,
		ready:  make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
}

// RequestRefresh queues a refresh after a local write. The refresh waits for the settle
// delay and retries while expect rejects the value.
func (p *Panel) RequestRefresh(expect Expectation) {
	p.enqueue(token{settle: true, expect: expect})
}

// OnChange restarts the debounce window; when it elapses without another event the
// panel queues a plain refetch.
func (p *Panel) OnChange(feed.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.debounce != nil {
		p.debounce.Reset(p.policy.DebounceDelay)
		return
	}
	p.debounce = time.AfterFunc(p.policy.DebounceDelay, func() {
		p.enqueue(token{})
	})
}

// Attach subscribes the panel to every change on tables. The returned function
// unsubscribes and cancels a pending debounce.
func (p *Panel) Attach(hub *feed.Hub, tables ...string) (detach func()) {
	unsubs := make([]func(), 0, len(tables))
	for _, table := range tables {
		unsubs = append(unsubs, hub.Subscribe(table, feed.OpAny, p.OnChange))
	}
	return func() {
		for _, unsubscribe := range unsubs {
			unsubscribe()
		}
		p.mu.Lock()
		if p.debounce != nil {
			p.debounce.Stop()
		}
		p.mu.Unlock()
	}
}

func (p *Panel) enqueue(t token) {
	p.mu.Lock()
	if p.pending == nil {
		p.pending = &t
	} else {
		p.pending.merge(t)
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Panel) take() *token {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.pending
	p.pending = nil
	return t
}

// Run consumes refresh tokens until ctx is done.
func (p *Panel) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		}
		t := p.take()
		if t == nil {
			continue
		}
		p.process(ctx, *t)
	}
}

func (p *Panel) process(ctx context.Context, t token) {
	policy := p.policy
	if !t.settle {
		policy.SettleDelay = 0
		policy.MaxRetries = 0
	}

	v, got, err := refresh(ctx, policy, p.fetch, t.expect)
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case err == nil:
		p.display = Display{Total: v, UpdatedAt: time.Now()}
	case errors.Is(err, ErrAggregateStale):
		slog.Warn("aggregate still stale after retries", slog.String("panel", p.name),
			slog.String("total", v.String()))
		p.display = Display{Total: v, Stale: true, UpdatedAt: time.Now()}
	case got:
		p.display = Display{Total: v, Stale: true, UpdatedAt: time.Now(), Err: err.Error()}
	default:
		slog.Error("aggregate refresh failed", slog.String("panel", p.name), slog.String("error", err.Error()))
		p.display.Stale = true
		p.display.Err = err.Error()
		return
	}
	p.readyOne.Do(func() { close(p.ready) })
}

// Snapshot returns the current display.
func (p *Panel) Snapshot() Display {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.display
}

// Ready is closed once the panel has shown a fetched value.
func (p *Panel) Ready() <-chan struct{} { return p.ready }
