// Package api holds the wire messages shared by the gRPC and HTTP transports
// and the CLI client.
package api

import "time"

type GenerateTokenRequest struct {
	CreditAccountID string `json:"credit_account_id"`
	TokenType       string `json:"token_type"`
	SizeHint        int    `json:"size_hint,omitempty"`
}

type GenerateTokenResponse struct {
	Token         string    `json:"token"`
	Nonce         string    `json:"nonce"`
	TransactionID string    `json:"transaction_id,omitempty"`
	GeneratedAt   time.Time `json:"generated_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	QRCodePNG     []byte    `json:"qr_code_png,omitempty"`
}

type RedeemTokenRequest struct {
	Token string `json:"token"`
}

// RedeemTokenResponse is returned only on success; failures travel as an
// ErrorResponse.
type RedeemTokenResponse struct {
	Success         bool            `json:"success"`
	TransactionID   string          `json:"transaction_id"`
	TransactionCode string          `json:"transaction_code"`
	CreditsUsed     int64           `json:"credits_used"`
	Account         AccountSnapshot `json:"credit_account"`
}

type CancelTransactionRequest struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason,omitempty"`
	RefundCredits bool   `json:"refund_credits"`
}

type CancelTransactionResponse struct {
	Transaction     Transaction `json:"transaction"`
	RefundedCredits int64       `json:"refunded_credits"`
}

type GetAccountRequest struct {
	CreditAccountID string `json:"credit_account_id"`
}

type GetTransactionRequest struct {
	TransactionID string `json:"transaction_id"`
}

type AccountSnapshot struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	PlanID           string    `json:"plan_id"`
	TotalCredits     int64     `json:"total_credits"`
	CreditsRemaining int64     `json:"credits_remaining"`
	ExpiresAt        time.Time `json:"expires_at"`
	IsActive         bool      `json:"is_active"`
	Version          int64     `json:"version"`
}

type Transaction struct {
	ID                 string     `json:"id"`
	Code               string     `json:"code"`
	CreditAccountID    string     `json:"credit_account_id"`
	UserID             string     `json:"user_id"`
	ClinicID           string     `json:"clinic_id,omitempty"`
	TokenType          string     `json:"token_type"`
	CreditsUsed        int64      `json:"credits_used"`
	Amount             int64      `json:"amount"`
	Status             string     `json:"status"`
	FailureReason      string     `json:"failure_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	ValidationDate     *time.Time `json:"validation_date,omitempty"`
	CancellationDate   *time.Time `json:"cancellation_date,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
}

// ErrorResponse is the HTTP error body.
type ErrorResponse struct {
	ErrorCode         string `json:"error_code"`
	ErrorMessage      string `json:"error_message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}
