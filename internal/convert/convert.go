// Package convert maps domain values to api wire messages and back.
package convert

import (
	"fmt"
	"strings"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/clinic-credit/internal/api"
	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/model"
	"github.com/and161185/clinic-credit/internal/redemption"
)

func idString(id u.UUID) string {
	if id == u.Nil {
		return ""
	}
	return id.String()
}

// ParseID parses a required UUID field.
func ParseID(field, s string) (u.UUID, error) {
	id, err := u.FromString(strings.TrimSpace(s))
	if err != nil || id == u.Nil {
		return u.Nil, fmt.Errorf("%s: %w", field, errs.ErrInvalidArgument)
	}
	return id, nil
}

// --- requests (client -> server) ---

// FromGenerateRequest builds the orchestrator request for the calling patient.
func FromGenerateRequest(userID u.UUID, in *api.GenerateTokenRequest) (redemption.GenerateRequest, error) {
	if in == nil {
		return redemption.GenerateRequest{}, fmt.Errorf("nil request: %w", errs.ErrInvalidArgument)
	}
	acc, err := ParseID("credit_account_id", in.CreditAccountID)
	if err != nil {
		return redemption.GenerateRequest{}, err
	}
	tt := model.TokenType(in.TokenType)
	if !tt.Valid() {
		return redemption.GenerateRequest{}, fmt.Errorf("token_type %q: %w", in.TokenType, errs.ErrInvalidArgument)
	}
	return redemption.GenerateRequest{
		UserID:          userID,
		CreditAccountID: acc,
		TokenType:       tt,
		SizeHint:        in.SizeHint,
	}, nil
}

// FromCancelRequest builds the orchestrator request for actor.
func FromCancelRequest(actor model.Principal, in *api.CancelTransactionRequest) (redemption.CancelRequest, error) {
	if in == nil {
		return redemption.CancelRequest{}, fmt.Errorf("nil request: %w", errs.ErrInvalidArgument)
	}
	id, err := ParseID("transaction_id", in.TransactionID)
	if err != nil {
		return redemption.CancelRequest{}, err
	}
	return redemption.CancelRequest{
		TransactionID: id,
		Actor:         actor,
		Reason:        in.Reason,
		RefundCredits: in.RefundCredits,
	}, nil
}

// --- responses (server -> client) ---

// ToIssuedToken converts a generated token to its wire form.
func ToIssuedToken(t model.IssuedToken) *api.GenerateTokenResponse {
	return &api.GenerateTokenResponse{
		Token:         t.Token,
		Nonce:         t.Nonce,
		TransactionID: idString(t.TransactionID),
		GeneratedAt:   t.GeneratedAt.UTC(),
		ExpiresAt:     t.ExpiresAt.UTC(),
		QRCodePNG:     t.QRCodePNG,
	}
}

// ToAccount converts an account snapshot.
func ToAccount(s model.CreditAccountSnapshot) api.AccountSnapshot {
	return api.AccountSnapshot{
		ID:               s.ID.String(),
		UserID:           s.UserID.String(),
		PlanID:           s.PlanID.String(),
		TotalCredits:     s.TotalCredits,
		CreditsRemaining: s.CreditsRemaining,
		ExpiresAt:        s.ExpiresAt.UTC(),
		IsActive:         s.IsActive,
		Version:          s.Version,
	}
}

// ToRedeemResult converts a successful redemption.
func ToRedeemResult(r redemption.RedeemResult) *api.RedeemTokenResponse {
	return &api.RedeemTokenResponse{
		Success:         true,
		TransactionID:   r.TransactionID.String(),
		TransactionCode: r.TransactionCode,
		CreditsUsed:     r.CreditsUsed,
		Account:         ToAccount(r.Account),
	}
}

// ToTransaction converts a transaction. The nonce stays server side.
func ToTransaction(t model.Transaction) api.Transaction {
	return api.Transaction{
		ID:                 t.ID.String(),
		Code:               t.Code,
		CreditAccountID:    t.CreditAccountID.String(),
		UserID:             t.UserID.String(),
		ClinicID:           idString(t.ClinicID),
		TokenType:          string(t.TokenType),
		CreditsUsed:        t.CreditsUsed,
		Amount:             t.Amount,
		Status:             string(t.Status),
		FailureReason:      t.FailureReason,
		CreatedAt:          t.CreatedAt.UTC(),
		ExpiresAt:          t.ExpiresAt.UTC(),
		ValidationDate:     t.ValidationDate,
		CancellationDate:   t.CancellationDate,
		CancellationReason: t.CancellationReason,
	}
}

// ToCancelResult converts a cancellation outcome.
func ToCancelResult(r redemption.CancelResult) *api.CancelTransactionResponse {
	return &api.CancelTransactionResponse{
		Transaction:     ToTransaction(r.Transaction),
		RefundedCredits: r.RefundedCredits,
	}
}

// ToError builds the caller-facing error body for err.
func ToError(err error) api.ErrorResponse {
	code := redemption.CodeOf(err)
	out := api.ErrorResponse{ErrorCode: string(code), ErrorMessage: code.Message()}
	if d, ok := redemption.RetryAfter(err); ok {
		out.RetryAfterSeconds = RetryAfterSeconds(d.Seconds())
	}
	return out
}

// RetryAfterSeconds rounds a wait up to whole seconds, at least 1.
func RetryAfterSeconds(sec float64) int {
	n := int(sec)
	if float64(n) < sec {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}
