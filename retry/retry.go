// Package retry runs broker calls under a per-call deadline with exponential
// backoff and jitter, and translates every failure into an *errs.Error.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Policy struct {
	// MaxAttempts bounds the total number of calls, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
	// CallTimeout is the deadline given to each individual attempt.
	CallTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
		Jitter:      true,
		CallTimeout: 5 * time.Second,
	}
}

// RetryFunc is called before each backoff sleep.
type RetryFunc func(op string, attempt int, err error)

type Option func(*Executor)

// WithSleep replaces the backoff sleep; tests use it to avoid waiting.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

func WithOnRetry(fn RetryFunc) Option {
	return func(e *Executor) { e.onRetry = fn }
}

type Executor struct {
	policy  Policy
	log     *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	onRetry RetryFunc

	mu  sync.Mutex
	rnd *rand.Rand
}

func New(p Policy, log *zap.Logger, opts ...Option) *Executor {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Executor{
		policy: p,
		log:    log,
		sleep:  sleepCtx,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Policy() Policy {
	return e.policy
}

// Call is Do for calls without a result.
func (e *Executor) Call(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	_, n, err := Do(ctx, e, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return n, err
}

// backoff returns the delay after the given attempt (1-based).
func (e *Executor) backoff(attempt int) time.Duration {
	d := float64(e.policy.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= e.policy.Multiplier
	}
	if e.policy.MaxDelay > 0 && d > float64(e.policy.MaxDelay) {
		d = float64(e.policy.MaxDelay)
	}
	if e.policy.Jitter && d > 0 {
		// full jitter in [d/2, d)
		e.mu.Lock()
		f := 0.5 + e.rnd.Float64()/2
		e.mu.Unlock()
		d *= f
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
