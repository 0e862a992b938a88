package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/metrics"
	"github.com/and161185/clinic-credit/internal/model"
)

// RedeemRequest is a clinic submitting a scanned token.
type RedeemRequest struct {
	Token    string
	ClinicID uuid.UUID
}

// RedeemResult describes a successful redemption.
type RedeemResult struct {
	TransactionID   uuid.UUID
	TransactionCode string
	CreditsUsed     int64
	Account         model.CreditAccountSnapshot
}

// RedeemToken verifies the token, claims its nonce, debits the account and
// records the transaction. Once the nonce is claimed the token is burned even
// if the debit fails; the transaction is then recorded as Rejected.
func (o *Orchestrator) RedeemToken(ctx context.Context, req RedeemRequest) (RedeemResult, error) {
	start := time.Now()
	res, err := o.redeem(ctx, req)
	metrics.ObserveRedemption(string(CodeOf(err)), time.Since(start))
	return res, err
}

func (o *Orchestrator) redeem(ctx context.Context, req RedeemRequest) (RedeemResult, error) {
	if req.ClinicID == uuid.Nil || req.Token == "" {
		return RedeemResult{}, errs.ErrInvalidToken
	}
	claims, err := o.codec.Decode(req.Token)
	if err != nil {
		return RedeemResult{}, err
	}

	var pending *model.Transaction
	if claims.TokenType == model.TokenTypeAppointment {
		pending, err = o.txs.GetByNonce(ctx, claims.Nonce)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			pending = nil
		case err != nil:
			return RedeemResult{}, fmt.Errorf("load appointment: %w", err)
		case pending.Status != model.StatusPending:
			// The appointment was cancelled or expired; its token is dead.
			o.log.Info("appointment token no longer pending",
				zap.String("transaction_id", pending.ID.String()),
				zap.String("status", string(pending.Status)))
			return RedeemResult{}, errs.ErrInvalidToken
		}
	}

	now := o.clock.Now()
	claimed, err := o.nonces.ClaimOnce(ctx, claims.Nonce, req.ClinicID, now)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("claim nonce: %w", err)
	}
	if !claimed {
		return RedeemResult{}, errs.ErrTokenAlreadyUsed
	}

	credits := o.settings.credits(claims.TokenType)
	if pending != nil {
		credits = pending.CreditsUsed
	}

	acc, debitErr := o.ledger.Debit(ctx, claims.CreditAccountID, credits)
	if debitErr != nil {
		debitErr = wrapAccountLookup(claims.CreditAccountID, debitErr)
		o.recordRejected(ctx, claims, pending, req.ClinicID, credits, debitErr)
		return RedeemResult{}, debitErr
	}

	tx, err := o.recordValidated(ctx, claims, pending, req.ClinicID, credits)
	if err != nil {
		o.compensateDebit(ctx, claims.CreditAccountID, credits, err)
		return RedeemResult{}, err
	}

	o.log.Info("token redeemed",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("transaction_code", tx.Code),
		zap.String("account_id", claims.CreditAccountID.String()),
		zap.String("clinic_id", req.ClinicID.String()),
		zap.Int64("credits", credits))
	return RedeemResult{
		TransactionID:   tx.ID,
		TransactionCode: tx.Code,
		CreditsUsed:     credits,
		Account:         acc.Snapshot(),
	}, nil
}

func (o *Orchestrator) recordValidated(
	ctx context.Context, claims model.RedemptionClaims, pending *model.Transaction, clinicID uuid.UUID, credits int64,
) (*model.Transaction, error) {
	now := o.clock.Now()
	if pending != nil {
		tx, err := o.txs.Transition(ctx, pending.ID, model.StatusPending, model.StatusValidated, model.TransitionFields{
			ClinicID:       clinicID,
			ValidationDate: &now,
		})
		if err != nil {
			return nil, fmt.Errorf("validate appointment %s: %w", pending.ID, err)
		}
		return tx, nil
	}

	tx, err := o.newTransaction(claims, clinicID, credits, model.StatusValidated)
	if err != nil {
		return nil, err
	}
	tx.ValidationDate = &now
	if err := o.txs.Append(ctx, tx); err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	return tx, nil
}

// recordRejected writes the audit entry for a burned token whose debit failed.
func (o *Orchestrator) recordRejected(
	ctx context.Context, claims model.RedemptionClaims, pending *model.Transaction, clinicID uuid.UUID, credits int64, cause error,
) {
	reason := string(CodeOf(cause))
	log := o.log.With(
		zap.String("account_id", claims.CreditAccountID.String()),
		zap.String("clinic_id", clinicID.String()),
		zap.String("reason", reason),
		zap.NamedError("cause", cause))

	var err error
	if pending != nil {
		_, err = o.txs.Transition(ctx, pending.ID, model.StatusPending, model.StatusRejected, model.TransitionFields{
			ClinicID:      clinicID,
			FailureReason: reason,
		})
	} else {
		var tx *model.Transaction
		tx, err = o.newTransaction(claims, clinicID, credits, model.StatusRejected)
		if err == nil {
			tx.FailureReason = reason
			err = o.txs.Append(ctx, tx)
		}
	}
	if err != nil {
		log.Error("failed to record rejected redemption", zap.Error(err))
		return
	}
	log.Warn("redemption rejected after nonce claim, token burned")
}

// compensateDebit returns credits when the debit succeeded but the audit
// record could not be written.
func (o *Orchestrator) compensateDebit(ctx context.Context, accountID uuid.UUID, credits int64, cause error) {
	applied, err := o.ledger.Refund(ctx, accountID, credits)
	if err != nil {
		o.log.Error("compensating refund failed, manual reconciliation required",
			zap.String("account_id", accountID.String()),
			zap.Int64("credits", credits),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	o.log.Warn("debit compensated after record failure",
		zap.String("account_id", accountID.String()),
		zap.Int64("refunded", applied),
		zap.NamedError("cause", cause))
}

func (o *Orchestrator) newTransaction(
	claims model.RedemptionClaims, clinicID uuid.UUID, credits int64, st model.TransactionStatus,
) (*model.Transaction, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	amount, err := o.pricer.Price(claims.TokenType, credits)
	if err != nil {
		return nil, err
	}
	return &model.Transaction{
		ID:              id,
		Code:            newTransactionCode(),
		CreditAccountID: claims.CreditAccountID,
		UserID:          claims.UserID,
		ClinicID:        clinicID,
		Nonce:           claims.Nonce,
		TokenType:       claims.TokenType,
		CreditsUsed:     credits,
		Amount:          amount,
		Status:          st,
		CreatedAt:       o.clock.Now(),
		ExpiresAt:       claims.ExpiresAt,
	}, nil
}
