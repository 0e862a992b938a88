package limiter

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/clinic-credit/internal/clock"
)

// PG is a PostgreSQL-backed sliding-window limiter over token_rate_events.
// Calls for one user are serialized by a transaction-scoped advisory lock.
type PG struct {
	pool   pgxBeginner
	limit  int
	window time.Duration
	clock  clock.Clock
}

type pgxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

var _ Limiter = (*PG)(nil)

// NewPG constructs a PostgreSQL-backed limiter. *pgxpool.Pool satisfies pool.
func NewPG(pool pgxBeginner, limit int, window time.Duration, clk clock.Clock) *PG {
	return &PG{pool: pool, limit: limit, window: window, clock: clk}
}

// Allow prunes, counts and appends inside one transaction.
func (l *PG) Allow(ctx context.Context, userID uuid.UUID) (ok bool, retry time.Duration, err error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			ok, retry, err = false, 0, e
		}
	}()

	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	const lock = `SELECT pg_advisory_xact_lock(hashtext($1))`
	const del = `DELETE FROM token_rate_events WHERE user_id=$1 AND at <= $2`
	const cnt = `SELECT COUNT(*), MIN(at) FROM token_rate_events WHERE user_id=$1`
	const ins = `INSERT INTO token_rate_events (user_id, at) VALUES ($1,$2)`

	if _, err = tx.Exec(ctx, lock, userID.String()); err != nil {
		return false, 0, err
	}
	if _, err = tx.Exec(ctx, del, userID, cutoff); err != nil {
		return false, 0, err
	}
	var (
		n      int
		oldest *time.Time
	)
	if err = tx.QueryRow(ctx, cnt, userID).Scan(&n, &oldest); err != nil {
		return false, 0, err
	}
	if n >= l.limit && oldest != nil {
		return false, oldest.Add(l.window).Sub(now), nil
	}
	if _, err = tx.Exec(ctx, ins, userID, now); err != nil {
		return false, 0, err
	}
	return true, 0, nil
}
