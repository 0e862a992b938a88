package redemption

import (
	"errors"
	"fmt"
	"time"

	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/model"
)

// Lookup failures distinguished by what was missing.
var (
	ErrAccountNotFound     = errors.New("credit account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// RateLimitError is returned when generation is refused by the limiter.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return errs.ErrRateLimited }

// RetryAfter extracts the limiter hint from err.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// CodeOf maps any orchestrator error to its stable error code.
func CodeOf(err error) model.ErrorCode {
	switch {
	case err == nil:
		return model.CodeOK
	case errors.Is(err, errs.ErrTokenExpired):
		return model.CodeTokenExpired
	case errors.Is(err, errs.ErrInvalidToken):
		return model.CodeInvalidToken
	case errors.Is(err, errs.ErrTokenAlreadyUsed):
		return model.CodeTokenAlreadyUsed
	case errors.Is(err, errs.ErrRateLimited):
		return model.CodeRateLimitExceeded
	case errors.Is(err, errs.ErrInsufficientCredits):
		return model.CodeInsufficientCredits
	case errors.Is(err, errs.ErrAccountInactive):
		return model.CodeAccountInactive
	case errors.Is(err, ErrAccountNotFound):
		return model.CodeAccountNotFound
	case errors.Is(err, ErrTransactionNotFound):
		return model.CodeTransactionNotFound
	case errors.Is(err, errs.ErrInvalidTransition):
		return model.CodeInvalidTransition
	case errors.Is(err, errs.ErrForbidden):
		return model.CodeForbidden
	case errors.Is(err, errs.ErrInvalidArgument), errors.Is(err, errs.ErrInvalidAmount):
		return model.CodeInvalidArgument
	default:
		return model.CodeInternalError
	}
}

func wrapAccountLookup(id fmt.Stringer, err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	return err
}

func wrapTxLookup(id fmt.Stringer, err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("transaction %s: %w", id, ErrTransactionNotFound)
	}
	return err
}
