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

const txColumns = `id, code, credit_account_id, user_id, clinic_id, nonce, token_type, credits_used, amount,
status, failure_reason, created_at, expires_at, validation_date, cancellation_date, cancellation_reason`

// TransactionRepo implements TransactionRepository using PostgreSQL.
type TransactionRepo struct{ db *DB }

// NewTransactionRepo constructs a transaction repository.
func NewTransactionRepo(db *DB) *TransactionRepo { return &TransactionRepo{db: db} }

// Append inserts an audit row.
func (r *TransactionRepo) Append(ctx context.Context, t *model.Transaction) error {
	const q = `INSERT INTO credit_transactions (` + txColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err := r.db.Pool.Exec(ctx, q,
		t.ID, t.Code, t.CreditAccountID, t.UserID, nullUUID(t.ClinicID), nullString(t.Nonce),
		string(t.TokenType), t.CreditsUsed, t.Amount, string(t.Status), t.FailureReason,
		t.CreatedAt, t.ExpiresAt, t.ValidationDate, t.CancellationDate, t.CancellationReason,
	)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get selects a transaction by id.
func (r *TransactionRepo) Get(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	const q = `SELECT ` + txColumns + ` FROM credit_transactions WHERE id=$1`
	return scanOne(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByNonce selects the transaction linked to a nonce.
func (r *TransactionRepo) GetByNonce(ctx context.Context, nonce string) (*model.Transaction, error) {
	const q = `SELECT ` + txColumns + ` FROM credit_transactions WHERE nonce=$1`
	return scanOne(r.db.Pool.QueryRow(ctx, q, nonce))
}

// Transition updates status only when it still equals from.
func (r *TransactionRepo) Transition(
	ctx context.Context, id uuid.UUID, from, to model.TransactionStatus, f model.TransitionFields,
) (*model.Transaction, error) {
	if !from.CanTransition(to) {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, errs.ErrInvalidTransition)
	}
	const q = `
UPDATE credit_transactions SET
  status = $3,
  clinic_id = COALESCE($4::uuid, clinic_id),
  failure_reason = COALESCE(NULLIF($5::text, ''), failure_reason),
  validation_date = COALESCE($6::timestamptz, validation_date),
  cancellation_date = COALESCE($7::timestamptz, cancellation_date),
  cancellation_reason = COALESCE(NULLIF($8::text, ''), cancellation_reason)
WHERE id=$1 AND status=$2
RETURNING ` + txColumns
	t, err := scanOne(r.db.Pool.QueryRow(ctx, q,
		id, string(from), string(to), nullUUID(f.ClinicID), f.FailureReason,
		f.ValidationDate, f.CancellationDate, f.CancellationReason,
	))
	if errors.Is(err, errs.ErrNotFound) {
		cur, gerr := r.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("%s -> %s (current %s): %w", from, to, cur.Status, errs.ErrInvalidTransition)
	}
	return t, err
}

// SwapFailureReason annotates a row when its current reason equals old.
func (r *TransactionRepo) SwapFailureReason(ctx context.Context, id uuid.UUID, old, reason string) (bool, error) {
	const q = `UPDATE credit_transactions SET failure_reason=$3 WHERE id=$1 AND failure_reason=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, old, reason)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM credit_transactions WHERE id=$1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, errs.ErrNotFound
	}
	return false, nil
}

// ListExpiredPending returns Pending rows whose token expiry has passed, oldest first.
func (r *TransactionRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Transaction, error) {
	const q = `SELECT ` + txColumns + `
FROM credit_transactions
WHERE status='Pending' AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanOne(row pgx.Row) (*model.Transaction, error) {
	t, err := scanTx(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func scanTx(row pgx.Row) (*model.Transaction, error) {
	var (
		t      model.Transaction
		clinic uuid.NullUUID
		nonce  *string
		tt, st string
	)
	if err := row.Scan(
		&t.ID, &t.Code, &t.CreditAccountID, &t.UserID, &clinic, &nonce, &tt, &t.CreditsUsed, &t.Amount,
		&st, &t.FailureReason, &t.CreatedAt, &t.ExpiresAt, &t.ValidationDate, &t.CancellationDate, &t.CancellationReason,
	); err != nil {
		return nil, err
	}
	if clinic.Valid {
		t.ClinicID = clinic.UUID
	}
	if nonce != nil {
		t.Nonce = *nonce
	}
	t.TokenType = model.TokenType(tt)
	t.Status = model.TransactionStatus(st)
	return &t, nil
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
