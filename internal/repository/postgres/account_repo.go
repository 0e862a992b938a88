package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/model"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs a credit account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// Create inserts a new account row at version 1.
func (r *AccountRepo) Create(ctx context.Context, a *model.CreditAccount) error {
	const q = `
INSERT INTO credit_accounts (id, user_id, plan_id, total_credits, credits_remaining, expires_at, is_active, version, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,1,now())`
	_, err := r.db.Pool.Exec(ctx, q, a.ID, a.UserID, a.PlanID, a.TotalCredits, a.CreditsRemaining, a.ExpiresAt, a.IsActive)
	switch {
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	case isCheckViolation(err):
		return fmt.Errorf("account %s: %w", a.ID, errs.ErrInvalidAmount)
	}
	return err
}

// Get selects an account by id.
func (r *AccountRepo) Get(ctx context.Context, id uuid.UUID) (*model.CreditAccount, error) {
	const q = `
SELECT id, user_id, plan_id, total_credits, credits_remaining, expires_at, is_active, version, updated_at
FROM credit_accounts WHERE id=$1`
	var a model.CreditAccount
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(
		&a.ID, &a.UserID, &a.PlanID, &a.TotalCredits, &a.CreditsRemaining,
		&a.ExpiresAt, &a.IsActive, &a.Version, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// UpdateWithVersion applies delta iff version matches. The CHECK constraint
// keeps the balance inside [0, total_credits].
func (r *AccountRepo) UpdateWithVersion(ctx context.Context, id uuid.UUID, delta, expectedVersion int64, at time.Time) (int64, error) {
	const upd = `
UPDATE credit_accounts
SET credits_remaining = credits_remaining + $2, version = version + 1, updated_at = $4
WHERE id=$1 AND version=$3
RETURNING version`
	var ver int64
	err := r.db.Pool.QueryRow(ctx, upd, id, delta, expectedVersion, at).Scan(&ver)
	switch {
	case err == nil:
		return ver, nil
	case errors.Is(err, pgx.ErrNoRows):
		return 0, r.missOrConflict(ctx, id)
	case isCheckViolation(err):
		return 0, errs.ErrCreditOverflow
	case IsRetryable(err):
		return 0, fmt.Errorf("%w: %v", errs.ErrVersionConflict, err)
	default:
		return 0, err
	}
}

func (r *AccountRepo) missOrConflict(ctx context.Context, id uuid.UUID) error {
	const q = `SELECT version FROM credit_accounts WHERE id=$1`
	var cur int64
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&cur); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}
	return errs.ErrVersionConflict
}
