package redemption

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/metrics"
	"github.com/and161185/clinic-credit/internal/model"
)

// CancelRequest cancels a Pending or Validated transaction.
type CancelRequest struct {
	TransactionID uuid.UUID
	Actor         model.Principal
	Reason        string
	RefundCredits bool
}

// CancelResult reports the cancelled transaction and the credits returned.
type CancelResult struct {
	Transaction     model.Transaction
	RefundedCredits int64
}

// refundFailedPrefix marks a Cancelled transaction whose refund has not been
// applied yet. A repeated cancel with RefundCredits picks it up.
const refundFailedPrefix = "REFUND_FAILED:"

// CancelTransaction moves the transaction to Cancelled with a status CAS, so
// only one concurrent canceller wins and refunds. Validated transactions are
// refunded (clamped at the plan total) when requested; Pending ones never
// debited and move without credit movement. A Cancelled transaction whose
// refund failed is refunded again on a repeated cancel.
func (o *Orchestrator) CancelTransaction(ctx context.Context, req CancelRequest) (CancelResult, error) {
	tx, err := o.txs.Get(ctx, req.TransactionID)
	if err != nil {
		return CancelResult{}, wrapTxLookup(req.TransactionID, err)
	}
	if err := authorizeCancel(req.Actor, tx, req.RefundCredits); err != nil {
		return CancelResult{}, err
	}

	if tx.Status == model.StatusCancelled && req.RefundCredits && strings.HasPrefix(tx.FailureReason, refundFailedPrefix) {
		return o.retryRefund(ctx, req, tx)
	}

	now := o.clock.Now()
	if tx.Status == model.StatusPending && !now.Before(tx.ExpiresAt) {
		o.expireOne(ctx, tx.ID)
		return CancelResult{}, fmt.Errorf("transaction %s expired: %w", tx.ID, errs.ErrInvalidTransition)
	}
	if !tx.Status.CanTransition(model.StatusCancelled) {
		return CancelResult{}, fmt.Errorf("transaction %s is %s: %w", tx.ID, tx.Status, errs.ErrInvalidTransition)
	}

	from := tx.Status
	updated, err := o.txs.Transition(ctx, tx.ID, from, model.StatusCancelled, model.TransitionFields{
		CancellationDate:   &now,
		CancellationReason: req.Reason,
	})
	if err != nil {
		return CancelResult{}, wrapTxLookup(tx.ID, err)
	}

	res := CancelResult{Transaction: *updated}
	if from == model.StatusValidated && req.RefundCredits && tx.CreditsUsed > 0 {
		applied, err := o.refund(ctx, updated)
		if err != nil {
			return CancelResult{Transaction: *updated}, err
		}
		res.RefundedCredits = applied
	}

	metrics.IncCancellation(res.RefundedCredits > 0)
	o.log.Info("transaction cancelled",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("from", string(from)),
		zap.String("actor_id", req.Actor.ID.String()),
		zap.String("actor_role", string(req.Actor.Role)),
		zap.Int64("refunded", res.RefundedCredits))
	return res, nil
}

// retryRefund claims the REFUND_FAILED marker with a swap so concurrent
// retries refund once, then applies the refund again.
func (o *Orchestrator) retryRefund(ctx context.Context, req CancelRequest, tx *model.Transaction) (CancelResult, error) {
	won, err := o.txs.SwapFailureReason(ctx, tx.ID, tx.FailureReason, "")
	if err != nil {
		return CancelResult{}, wrapTxLookup(tx.ID, err)
	}
	if !won {
		return CancelResult{}, fmt.Errorf("transaction %s refund already retried: %w", tx.ID, errs.ErrInvalidTransition)
	}
	tx.FailureReason = ""

	applied, err := o.refund(ctx, tx)
	res := CancelResult{Transaction: *tx, RefundedCredits: applied}
	if err != nil {
		return res, err
	}

	metrics.IncCancellation(applied > 0)
	o.log.Info("refund retried for cancelled transaction",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("actor_id", req.Actor.ID.String()),
		zap.String("actor_role", string(req.Actor.Role)),
		zap.Int64("refunded", applied))
	return res, nil
}

// refund returns the credits of a cancelled transaction. On failure it leaves
// a REFUND_FAILED marker in FailureReason so the refund can be retried.
func (o *Orchestrator) refund(ctx context.Context, tx *model.Transaction) (int64, error) {
	applied, err := o.ledger.Refund(ctx, tx.CreditAccountID, tx.CreditsUsed)
	if err == nil {
		return applied, nil
	}

	reason := refundFailedPrefix + string(CodeOf(err))
	if _, aerr := o.txs.SwapFailureReason(ctx, tx.ID, tx.FailureReason, reason); aerr != nil {
		o.log.Error("failed to mark refund failure", zap.String("transaction_id", tx.ID.String()), zap.Error(aerr))
	} else {
		tx.FailureReason = reason
	}
	o.log.Error("refund after cancellation failed",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("account_id", tx.CreditAccountID.String()),
		zap.Int64("credits", tx.CreditsUsed),
		zap.Error(err))
	return 0, fmt.Errorf("refund transaction %s: %w", tx.ID, err)
}

// authorizeCancel lets admins cancel anything, clinics cancel transactions
// assigned to them, and patients cancel their own pending appointments.
func authorizeCancel(actor model.Principal, tx *model.Transaction, refund bool) error {
	switch actor.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleClinic:
		if tx.ClinicID != uuid.Nil && tx.ClinicID == actor.ID {
			return nil
		}
	case model.RolePatient:
		if tx.UserID == actor.ID && tx.Status == model.StatusPending && !refund {
			return nil
		}
	}
	return fmt.Errorf("cancel %s as %s: %w", tx.ID, actor.Role, errs.ErrForbidden)
}
