package redemption

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/metrics"
	"github.com/and161185/clinic-credit/internal/model"
)

// GenerateRequest asks for a token on behalf of a patient.
type GenerateRequest struct {
	UserID          uuid.UUID
	CreditAccountID uuid.UUID
	TokenType       model.TokenType
	SizeHint        int // QR image size in pixels, clamped to [QRMinSize, QRMaxSize]
}

// GenerateToken runs: rate limit, eligibility, issue, and for appointments a
// Pending transaction that reserves nothing until confirmation.
func (o *Orchestrator) GenerateToken(ctx context.Context, req GenerateRequest) (model.IssuedToken, error) {
	out, err := o.generate(ctx, req)
	if err != nil {
		metrics.IncGenerationRefused(string(CodeOf(err)))
		return model.IssuedToken{}, err
	}
	metrics.IncTokensGenerated(string(req.TokenType))
	return out, nil
}

func (o *Orchestrator) generate(ctx context.Context, req GenerateRequest) (model.IssuedToken, error) {
	if !req.TokenType.Valid() || req.UserID == uuid.Nil || req.CreditAccountID == uuid.Nil {
		return model.IssuedToken{}, errs.ErrInvalidArgument
	}

	ok, retry, err := o.limiter.Allow(ctx, req.UserID)
	switch {
	case err != nil:
		// Limiter state is advisory; a broken backend must not block patients.
		o.log.Warn("rate limiter unavailable, allowing", zap.String("user_id", req.UserID.String()), zap.Error(err))
	case !ok:
		return model.IssuedToken{}, &RateLimitError{RetryAfter: retry}
	}

	credits := o.settings.credits(req.TokenType)
	acc, err := o.ledger.CheckEligible(ctx, req.CreditAccountID, credits)
	if acc != nil && acc.UserID != req.UserID {
		return model.IssuedToken{}, fmt.Errorf("account %s not owned by caller: %w", req.CreditAccountID, errs.ErrForbidden)
	}
	if err != nil {
		return model.IssuedToken{}, wrapAccountLookup(req.CreditAccountID, err)
	}

	raw, claims, err := o.codec.Issue(req.CreditAccountID, req.UserID, req.TokenType, o.settings.ttl(req.TokenType))
	if err != nil {
		return model.IssuedToken{}, fmt.Errorf("issue token: %w", err)
	}
	out := model.IssuedToken{
		Token:       raw,
		Nonce:       claims.Nonce,
		GeneratedAt: claims.IssuedAt,
		ExpiresAt:   claims.ExpiresAt,
	}

	// Render first so a failed render never leaves a Pending appointment behind.
	png, err := o.qr.PNG(raw, ClampQRSize(req.SizeHint))
	if err != nil {
		return model.IssuedToken{}, fmt.Errorf("render qr: %w", err)
	}
	out.QRCodePNG = png

	if req.TokenType == model.TokenTypeAppointment {
		tx, err := o.pendingTransaction(req, claims, credits)
		if err != nil {
			return model.IssuedToken{}, err
		}
		if err := o.txs.Append(ctx, tx); err != nil {
			return model.IssuedToken{}, fmt.Errorf("append pending transaction: %w", err)
		}
		out.TransactionID = tx.ID
	}

	o.log.Info("token issued",
		zap.String("user_id", req.UserID.String()),
		zap.String("account_id", req.CreditAccountID.String()),
		zap.String("token_type", string(req.TokenType)),
		zap.Time("expires_at", out.ExpiresAt))
	return out, nil
}

func (o *Orchestrator) pendingTransaction(req GenerateRequest, claims model.RedemptionClaims, credits int64) (*model.Transaction, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	amount, err := o.pricer.Price(req.TokenType, credits)
	if err != nil {
		return nil, err
	}
	return &model.Transaction{
		ID:              id,
		Code:            newTransactionCode(),
		CreditAccountID: req.CreditAccountID,
		UserID:          req.UserID,
		Nonce:           claims.Nonce,
		TokenType:       req.TokenType,
		CreditsUsed:     credits,
		Amount:          amount,
		Status:          model.StatusPending,
		CreatedAt:       o.clock.Now(),
		ExpiresAt:       claims.ExpiresAt,
	}, nil
}
