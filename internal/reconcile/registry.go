package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"popotte/internal/feed"
	"popotte/pkg/logkey"
)

// MemberFetcher builds the aggregate fetcher for one member.
type MemberFetcher func(userID string) Fetcher

type running struct {
	panel    *Panel
	stop     func()
	lastRead time.Time
}

// Registry runs the global panel and one lazily created panel per member. Every panel
// follows the same change-feed tables. Member panels that nobody reads for
// Policy.IdleTimeout are stopped and detached from the hub.
type Registry struct {
	hub    *feed.Hub
	policy Policy
	tables []string
	member MemberFetcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	global  running
	members map[string]*running
}

func NewRegistry(hub *feed.Hub, policy Policy, global Fetcher, member MemberFetcher, tables ...string) *Registry {
	if policy.IdleTimeout <= 0 {
		policy.IdleTimeout = defaultIdleTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		hub:     hub,
		policy:  policy,
		tables:  tables,
		member:  member,
		ctx:     ctx,
		cancel:  cancel,
		members: make(map[string]*running),
	}
	r.global = r.start("global", global)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sweep(policy.IdleTimeout)
	}()
	return r
}

// start runs a panel until the returned stop is called or the registry closes.
func (r *Registry) start(name string, fetch Fetcher) running {
	p := NewPanel(name, r.policy, fetch)
	detach := p.Attach(r.hub, r.tables...)
	ctx, cancel := context.WithCancel(r.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	// first load
	p.enqueue(token{})

	var once sync.Once
	stop := func() {
		once.Do(func() {
			detach()
			cancel()
			<-done
		})
	}
	return running{panel: p, stop: stop, lastRead: time.Now()}
}

func (r *Registry) sweep(idle time.Duration) {
	tick := time.NewTicker(max(idle/2, time.Millisecond))
	defer tick.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-tick.C:
			r.evictIdle(now.Add(-idle))
		}
	}
}

// evictIdle stops every member panel last read before cutoff and returns how many it
// stopped.
func (r *Registry) evictIdle(cutoff time.Time) int {
	r.mu.Lock()
	var idle []*running
	for userID, m := range r.members {
		if m.lastRead.Before(cutoff) {
			idle = append(idle, m)
			delete(r.members, userID)
			slog.Debug("stopping idle member panel", slog.String(logkey.UserID, userID))
		}
	}
	r.mu.Unlock()

	for _, m := range idle {
		m.stop()
	}
	return len(idle)
}

func (r *Registry) Global() *Panel { return r.global.panel }

// Member returns the panel of userID, starting it on first use. Each call counts as a
// read for idle eviction.
func (r *Registry) Member(userID string) *Panel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[userID]; ok {
		m.lastRead = time.Now()
		return m.panel
	}
	if r.closed {
		return NewPanel("member:"+userID, r.policy, r.member(userID))
	}
	slog.Debug("starting member panel", slog.String(logkey.UserID, userID))
	m := r.start("member:"+userID, r.member(userID))
	r.members[userID] = &m
	return m.panel
}

// AfterMutation queues a refresh on the global panel and on the panel of userID if one
// is running. A member without a panel gets a fresh load when it is next read.
func (r *Registry) AfterMutation(userID string, expect Expectation) {
	r.global.panel.RequestRefresh(expect)
	if userID == "" {
		return
	}
	r.mu.Lock()
	m, ok := r.members[userID]
	r.mu.Unlock()
	if ok {
		m.panel.RequestRefresh(expect)
	}
}

// Close detaches every panel from the hub and stops their goroutines.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	stops := []func(){r.global.stop}
	for userID, m := range r.members {
		stops = append(stops, m.stop)
		delete(r.members, userID)
	}
	r.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	r.cancel()
	r.wg.Wait()
}
