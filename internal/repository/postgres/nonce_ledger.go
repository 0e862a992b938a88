package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/model"
)

// NonceLedger implements repository.NonceLedger over redemption_nonces.
// The primary key on nonce makes the claim atomic across instances.
type NonceLedger struct{ db *DB }

// NewNonceLedger constructs a nonce ledger.
func NewNonceLedger(db *DB) *NonceLedger { return &NonceLedger{db: db} }

// ClaimOnce inserts the nonce; exactly one concurrent caller sees a row inserted.
func (l *NonceLedger) ClaimOnce(ctx context.Context, nonce string, consumedBy uuid.UUID, at time.Time) (bool, error) {
	if nonce == "" {
		return false, errs.ErrInvalidArgument
	}
	const q = `
INSERT INTO redemption_nonces (nonce, consumed_at, consumed_by)
VALUES ($1,$2,$3)
ON CONFLICT (nonce) DO NOTHING`
	tag, err := l.db.Pool.Exec(ctx, q, nonce, at, consumedBy)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns the consumption record.
func (l *NonceLedger) Get(ctx context.Context, nonce string) (*model.NonceRecord, error) {
	const q = `SELECT nonce, consumed_at, consumed_by FROM redemption_nonces WHERE nonce=$1`
	var r model.NonceRecord
	if err := l.db.Pool.QueryRow(ctx, q, nonce).Scan(&r.Nonce, &r.ConsumedAt, &r.ConsumedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}
