// Package ledger owns credit accounts and applies debits and refunds with
// optimistic concurrency.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/clinic-credit/internal/clock"
	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/metrics"
	"github.com/and161185/clinic-credit/internal/model"
	"github.com/and161185/clinic-credit/internal/repository"
)

// Retry defaults for version conflicts.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 50 * time.Millisecond
)

// Service is the only writer of credit balances.
type Service struct {
	accounts    repository.AccountRepository
	clock       clock.Clock
	log         *zap.Logger
	maxAttempts int
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Service.
type Option func(*Service)

// WithRetry sets the attempt bound and base backoff for version conflicts.
func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if base >= 0 {
			s.backoffBase = base
		}
	}
}

// New constructs the ledger service.
func New(accounts repository.AccountRepository, clk clock.Clock, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		accounts:    accounts,
		clock:       clk,
		log:         log.Named("ledger"),
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the account.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.CreditAccount, error) {
	return s.accounts.Get(ctx, id)
}

// CheckEligible returns nil iff the account is active, unexpired and holds at
// least required credits. It returns the account it checked.
func (s *Service) CheckEligible(ctx context.Context, id uuid.UUID, required int64) (*model.CreditAccount, error) {
	if required <= 0 {
		return nil, errs.ErrInvalidAmount
	}
	a, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := eligible(a, required, s.clock.Now()); err != nil {
		return a, err
	}
	return a, nil
}

func eligible(a *model.CreditAccount, required int64, now time.Time) error {
	if !a.Usable(now) {
		return errs.ErrAccountInactive
	}
	if a.CreditsRemaining < required {
		return errs.ErrInsufficientCredits
	}
	return nil
}

// DebitAt performs a single debit attempt against expectedVersion. A stale
// version yields errs.ErrVersionConflict and the caller decides whether to retry.
func (s *Service) DebitAt(ctx context.Context, id uuid.UUID, amount, expectedVersion int64) (int64, error) {
	if amount <= 0 {
		return 0, errs.ErrInvalidAmount
	}
	a, err := s.accounts.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if a.Version != expectedVersion {
		return 0, errs.ErrVersionConflict
	}
	now := s.clock.Now()
	if err := eligible(a, amount, now); err != nil {
		return 0, err
	}
	return s.accounts.UpdateWithVersion(ctx, id, -amount, expectedVersion, now)
}

// Debit removes amount credits, re-reading and retrying on version conflicts
// up to the attempt bound. Eligibility is re-evaluated on every attempt against
// the version being written, so it holds at commit time.
func (s *Service) Debit(ctx context.Context, id uuid.UUID, amount int64) (*model.CreditAccount, error) {
	if amount <= 0 {
		return nil, errs.ErrInvalidAmount
	}
	var out *model.CreditAccount
	err := s.withRetry(ctx, "debit", id, func() error {
		a, err := s.accounts.Get(ctx, id)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := eligible(a, amount, now); err != nil {
			return err
		}
		v, err := s.accounts.UpdateWithVersion(ctx, id, -amount, a.Version, now)
		if err != nil {
			return err
		}
		a.CreditsRemaining -= amount
		a.Version = v
		a.UpdatedAt = now
		out = a
		return nil
	})
	if errors.Is(err, errs.ErrVersionConflict) {
		return nil, fmt.Errorf("account %s: %w", id, errs.ErrDebitFailed)
	}
	return out, err
}

// Refund adds amount credits back, clamped so the balance never exceeds
// totalCredits. It returns the credits actually applied; a full clamp is a no-op.
func (s *Service) Refund(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, errs.ErrInvalidAmount
	}
	var applied int64
	err := s.withRetry(ctx, "refund", id, func() error {
		a, err := s.accounts.Get(ctx, id)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if !a.Usable(now) {
			return errs.ErrAccountInactive
		}
		if a.CreditsRemaining > math.MaxInt64-amount {
			return errs.ErrCreditOverflow
		}
		delta := min(amount, a.TotalCredits-a.CreditsRemaining)
		if delta < amount {
			metrics.IncRefundClamped()
			s.log.Info("refund clamped at total credits",
				zap.String("account_id", id.String()),
				zap.Int64("requested", amount),
				zap.Int64("applied", delta))
		}
		if delta <= 0 {
			applied = 0
			return nil
		}
		if _, err := s.accounts.UpdateWithVersion(ctx, id, delta, a.Version, now); err != nil {
			return err
		}
		applied = delta
		return nil
	})
	if errors.Is(err, errs.ErrVersionConflict) {
		return 0, fmt.Errorf("account %s: %w", id, errs.ErrDebitFailed)
	}
	return applied, err
}

// withRetry runs fn until it succeeds, fails with a non-conflict error, or the
// attempt bound is reached. Between attempts it sleeps with exponential backoff.
func (s *Service) withRetry(ctx context.Context, op string, id uuid.UUID, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, errs.ErrVersionConflict) {
			return err
		}
		metrics.IncDebitConflict()
		if attempt == s.maxAttempts-1 {
			break
		}
		wait := calculateBackoff(attempt, s.backoffBase)
		s.log.Debug("version conflict, retrying",
			zap.String("op", op),
			zap.String("account_id", id.String()),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait))
		if serr := s.sleep(ctx, wait); serr != nil {
			return serr
		}
	}
	metrics.IncDebitExhausted()
	s.log.Warn("balance update gave up after max attempts",
		zap.String("op", op),
		zap.String("account_id", id.String()),
		zap.Int("attempts", s.maxAttempts))
	return err
}
