package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/broker/paper"
	"github.com/rustyeddy/riskexec/errs"
	"github.com/rustyeddy/riskexec/market"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestExecutor(attempts int, opts ...Option) *Executor {
	p := DefaultPolicy()
	p.MaxAttempts = attempts
	p.CallTimeout = 0
	return New(p, nil, append([]Option{WithSleep(noSleep)}, opts...)...)
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	var retries []int
	e := newTestExecutor(3, WithOnRetry(func(op string, attempt int, err error) {
		retries = append(retries, attempt)
	}))

	calls := 0
	v, n, err := Do(context.Background(), e, "submit", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", broker.ErrRateLimited
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDoExhaustsOnRepeatedTimeout(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(3)

	calls := 0
	_, n, err := Do(context.Background(), e, "submit", func(ctx context.Context) (int, error) {
		calls++
		return 0, broker.ErrTimeout
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, n)
	assert.True(t, errs.IsTransient(err))
	assert.ErrorIs(t, err, errs.ErrExhausted)
	assert.ErrorIs(t, err, broker.ErrTimeout)
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"rejected", broker.Rejected("market closed")},
		{"auth", fmt.Errorf("oanda: %w", broker.ErrAuthExpired)},
		{"not found", broker.ErrNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newTestExecutor(5)
			calls := 0
			_, n, err := Do(context.Background(), e, "submit", func(ctx context.Context) (int, error) {
				calls++
				return 0, tt.err
			})
			assert.Equal(t, 1, calls)
			assert.Equal(t, 1, n)
			assert.True(t, errs.IsPermanent(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestCallTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.MaxAttempts = 2
	p.CallTimeout = 5 * time.Millisecond
	e := New(p, nil, WithSleep(noSleep))

	n, err := e.Call(context.Background(), "status", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Equal(t, 2, n)
	assert.True(t, errs.IsTransient(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestParentCancelStopsRetrying(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	e := newTestExecutor(10)

	calls := 0
	_, err := e.Call(ctx, "submit", func(ctx context.Context) error {
		calls++
		cancel()
		return broker.ErrUnavailable
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errs.ErrExhausted)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	e := New(Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}, nil)
	assert.Equal(t, 100*time.Millisecond, e.backoff(1))
	assert.Equal(t, 200*time.Millisecond, e.backoff(2))
	assert.Equal(t, 300*time.Millisecond, e.backoff(3))
	assert.Equal(t, 300*time.Millisecond, e.backoff(4))

	j := New(Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 2, Jitter: true}, nil)
	for i := 0; i < 20; i++ {
		d := j.backoff(2)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 200*time.Millisecond)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errs.KindTransient, Classify("x", broker.ErrRateLimited).Kind)
	assert.Equal(t, errs.KindTransient, Classify("x", errors.New("502 bad gateway")).Kind)
	assert.Equal(t, errs.KindPermanent, Classify("x", broker.Rejected("no")).Kind)

	pre := errs.Validation("size", "bad")
	assert.Same(t, pre, Classify("x", pre))
}

func TestDo_UnquotedSymbolIsNotRetried(t *testing.T) {
	t.Parallel()

	eng := paper.NewEngine(decimal.NewFromInt(1000))
	e := newTestExecutor(3)

	_, n, err := Do(context.Background(), e, "quote", func(ctx context.Context) (market.Tick, error) {
		return eng.GetTick(ctx, "NOPE")
	})
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, market.ErrNoPrice)
	assert.Equal(t, errs.KindPermanent, Classify("quote", err).Kind)
}
