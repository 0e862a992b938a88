package redemption

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/metrics"
	"github.com/and161185/clinic-credit/internal/model"
)

// ExpirePending moves every Pending transaction whose token lifetime elapsed
// to Expired. No credits move because Pending never debited. Rows that lose a
// race against redeem or cancel are skipped.
func (o *Orchestrator) ExpirePending(ctx context.Context) (int, error) {
	total := 0
	for {
		batch, err := o.txs.ListExpiredPending(ctx, o.clock.Now(), o.settings.ExpireBatch)
		if err != nil {
			return total, err
		}
		moved := 0
		for _, tx := range batch {
			if o.expireOne(ctx, tx.ID) {
				moved++
			}
		}
		total += moved
		if len(batch) < o.settings.ExpireBatch || moved == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	if total > 0 {
		metrics.AddPendingExpired(total)
	}
	return total, nil
}

func (o *Orchestrator) expireOne(ctx context.Context, id uuid.UUID) bool {
	_, err := o.txs.Transition(ctx, id, model.StatusPending, model.StatusExpired, model.TransitionFields{})
	switch {
	case err == nil:
		return true
	case errors.Is(err, errs.ErrInvalidTransition):
		return false
	default:
		o.log.Error("expire pending transaction", zap.String("transaction_id", id.String()), zap.Error(err))
		return false
	}
}
