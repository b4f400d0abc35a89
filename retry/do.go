package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/riskexec/errs"
)

// Do calls fn until it succeeds, fails permanently, or the attempt budget is
// spent. It returns the number of attempts made. A transient failure that
// outlives the budget is reported as errs.Exhausted: the broker may or may
// not have acted on the call.
func Do[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	var last error
	attempts := 0

	for attempts < e.policy.MaxAttempts {
		attempts++
		v, err := callOnce(ctx, e.policy.CallTimeout, fn)
		if err == nil {
			return v, attempts, nil
		}

		ce := Classify(op, err)
		if ce.Kind != errs.KindTransient {
			e.log.Warn("broker_call_failed",
				zap.String("op", op),
				zap.String("kind", string(ce.Kind)),
				zap.Int("attempt", attempts),
				zap.Error(err))
			ce.Attempts = attempts
			return zero, attempts, ce
		}
		last = err

		if attempts == e.policy.MaxAttempts || ctx.Err() != nil {
			break
		}

		d := e.backoff(attempts)
		e.log.Info("broker_call_retry",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", d),
			zap.Error(err))
		if e.onRetry != nil {
			e.onRetry(op, attempts, err)
		}
		if e.sleep(ctx, d) != nil {
			break
		}
	}

	e.log.Error("broker_call_exhausted",
		zap.String("op", op),
		zap.Int("attempts", attempts),
		zap.Error(last))
	return zero, attempts, errs.Exhausted(op, attempts, last)
}

func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}
