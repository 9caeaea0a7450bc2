// Package reconcile keeps aggregate totals (pending debts and unpaid orders) in step with
// the database after local writes and remote change events.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// ErrAggregateStale reports that the bounded retries ran out before the fetched value
// matched what the caller expected. It only ever marks the display as stale.
var ErrAggregateStale = errors.New("aggregate did not reflect the expected change")

// Fetcher reads the current value of an aggregate.
type Fetcher func(ctx context.Context) (decimal.Decimal, error)

// Expectation tells whether a fetched value plausibly reflects the mutation that was
// just made. A nil Expectation accepts anything.
type Expectation func(decimal.Decimal) bool

func ExpectNonZero(v decimal.Decimal) bool { return !v.IsZero() }

type Policy struct {
	SettleDelay   time.Duration
	RetryDelay    time.Duration
	MaxRetries    uint64
	DebounceDelay time.Duration
	// IdleTimeout stops a member panel nobody has read for that long.
	IdleTimeout time.Duration
}

const defaultIdleTimeout = 10 * time.Minute

func DefaultPolicy() Policy {
	return Policy{
		SettleDelay:   time.Second,
		RetryDelay:    time.Second,
		MaxRetries:    1,
		DebounceDelay: 500 * time.Millisecond,
		IdleTimeout:   defaultIdleTimeout,
	}
}

// RefreshAfterMutation waits SettleDelay, fetches, and refetches up to MaxRetries more
// times while the value does not satisfy expect. It always returns the last value it
// read; the error is ErrAggregateStale when the retries ran out, or the fetch error when
// no attempt succeeded.
func RefreshAfterMutation(ctx context.Context, p Policy, fetch Fetcher, expect Expectation) (decimal.Decimal, error) {
	v, _, err := refresh(ctx, p, fetch, expect)
	return v, err
}

func refresh(ctx context.Context, p Policy, fetch Fetcher, expect Expectation) (last decimal.Decimal, got bool, err error) {
	if err := sleep(ctx, p.SettleDelay); err != nil {
		return last, false, err
	}

	// retry.NewConstant panics on a non-positive interval.
	b := retry.WithMaxRetries(p.MaxRetries, retry.NewConstant(max(p.RetryDelay, time.Millisecond)))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		v, err := fetch(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		last, got = v, true
		if expect != nil && !expect(v) {
			return retry.RetryableError(ErrAggregateStale)
		}
		return nil
	})
	return last, got, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
