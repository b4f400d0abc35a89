package retry

import (
	"context"
	"errors"

	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/errs"
	"github.com/rustyeddy/riskexec/market"
)

// Classify maps a raw broker or transport error to its kind. Rejections,
// auth failures, unknown orders and unquoted symbols are permanent; everything else, including
// errors the gateway could not categorize, is treated as transient.
func Classify(op string, err error) *errs.Error {
	var ce *errs.Error
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case broker.IsRejected(err),
		errors.Is(err, broker.ErrAuthExpired),
		errors.Is(err, broker.ErrNotFound),
		errors.Is(err, market.ErrNoPrice),
		errors.Is(err, context.Canceled):
		return errs.Permanent(op, err)
	case errors.Is(err, broker.ErrRateLimited),
		errors.Is(err, broker.ErrTimeout),
		errors.Is(err, broker.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return errs.Transient(op, err)
	}
	return errs.Transient(op, err)
}
