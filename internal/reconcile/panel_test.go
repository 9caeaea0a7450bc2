package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"popotte/internal/feed"
)

func runPanel(t *testing.T, p *Panel) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestPanelShowsValueAfterMutation(t *testing.T) {
	var calls atomic.Int32
	p := NewPanel("global", fastPolicy(), sequence(&calls, "0", "42.00"))
	runPanel(t, p)

	p.RequestRefresh(ExpectNonZero)

	select {
	case <-p.Ready():
	case <-time.After(time.Second):
		t.Fatalf("panel never became ready")
	}
	d := p.Snapshot()
	assert.True(t, d.Total.Equal(decimal.RequireFromString("42.00")))
	assert.False(t, d.Stale)
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestPanelMarksStaleValue(t *testing.T) {
	var calls atomic.Int32
	p := NewPanel("global", fastPolicy(), sequence(&calls, "0"))
	runPanel(t, p)

	p.RequestRefresh(ExpectNonZero)

	assert.Eventually(t, func() bool { return p.Snapshot().Stale }, time.Second, 5*time.Millisecond)
	assert.True(t, p.Snapshot().Total.IsZero())
}

func TestPanelCoalescesRequestsWhileFetching(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{}, 16)
	release := make(chan struct{})
	fetch := func(ctx context.Context) (decimal.Decimal, error) {
		calls.Add(1)
		entered <- struct{}{}
		<-release
		return decimal.NewFromInt(int64(calls.Load())), nil
	}

	policy := Policy{DebounceDelay: time.Millisecond}
	p := NewPanel("global", policy, fetch)
	runPanel(t, p)

	p.RequestRefresh(nil)
	<-entered
	for range 5 {
		p.RequestRefresh(nil)
	}
	close(release)

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, p.Snapshot().Total.Equal(decimal.NewFromInt(2)))
}

func TestPanelDebouncesChangeEvents(t *testing.T) {
	var calls atomic.Int32
	hub := feed.NewHub()
	p := NewPanel("global", fastPolicy(), sequence(&calls, "5"))
	runPanel(t, p)
	detach := p.Attach(hub, "orders", "debts")
	defer detach()

	for range 5 {
		hub.Publish(feed.Event{Table: "orders", Op: feed.OpUpdate})
	}
	hub.Publish(feed.Event{Table: "debts", Op: feed.OpInsert})

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, p.Snapshot().Total.Equal(decimal.NewFromInt(5)))
}

func TestDetachedPanelIgnoresEvents(t *testing.T) {
	var calls atomic.Int32
	hub := feed.NewHub()
	p := NewPanel("global", fastPolicy(), sequence(&calls, "5"))
	runPanel(t, p)

	detach := p.Attach(hub, "orders")
	detach()
	detach()
	assert.Zero(t, hub.Len())

	hub.Publish(feed.Event{Table: "orders", Op: feed.OpInsert})
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, calls.Load())
}
