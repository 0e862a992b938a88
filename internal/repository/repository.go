// Package repository declares the persistence ports of the redemption engine.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/clinic-credit/internal/model"
)

// NonceLedger is the sole authority on whether a token nonce was consumed.
type NonceLedger interface {
	// ClaimOnce atomically inserts the nonce record. It reports true only for
	// the call that performed the insert; every later or concurrent call gets false.
	ClaimOnce(ctx context.Context, nonce string, consumedBy uuid.UUID, at time.Time) (bool, error)

	// Get returns the consumption record or errs.ErrNotFound.
	Get(ctx context.Context, nonce string) (*model.NonceRecord, error)
}

// AccountRepository provides versioned access to credit accounts.
type AccountRepository interface {
	// Create inserts a new account.
	Create(ctx context.Context, a *model.CreditAccount) error

	// Get returns the account or errs.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*model.CreditAccount, error)

	// UpdateWithVersion adds delta to creditsRemaining iff the stored version
	// equals expectedVersion, and returns the incremented version.
	// Fails with errs.ErrVersionConflict on a stale version.
	UpdateWithVersion(ctx context.Context, id uuid.UUID, delta, expectedVersion int64, at time.Time) (int64, error)
}

// TransactionRepository stores the append-only transaction audit trail.
type TransactionRepository interface {
	// Append inserts a transaction. A duplicate nonce or code yields errs.ErrAlreadyExists.
	Append(ctx context.Context, tx *model.Transaction) error

	// Get returns a transaction by id or errs.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*model.Transaction, error)

	// GetByNonce returns the transaction linked to a nonce or errs.ErrNotFound.
	GetByNonce(ctx context.Context, nonce string) (*model.Transaction, error)

	// Transition moves a transaction from -> to as a compare-and-swap on status.
	// Fails with errs.ErrInvalidTransition when the current status is not from.
	Transition(ctx context.Context, id uuid.UUID, from, to model.TransactionStatus, f model.TransitionFields) (*model.Transaction, error)

	// SwapFailureReason replaces the failure reason iff it currently equals old,
	// without changing the status. It reports whether the swap happened and
	// fails with errs.ErrNotFound for an unknown id.
	SwapFailureReason(ctx context.Context, id uuid.UUID, old, reason string) (bool, error)

	// ListExpiredPending returns up to limit Pending transactions with expiresAt <= now.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Transaction, error)
}
