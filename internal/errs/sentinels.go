// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates optimistic concurrency failure (expected version mismatch).
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication of the caller.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller acting outside its role.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates token generation was refused by the rate limiter.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates a request field failed validation.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Redemption token sentinels.
var (
	// ErrInvalidToken covers every verification failure except expiry.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired indicates the token's expiresAt has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenAlreadyUsed indicates the token's nonce was claimed before.
	ErrTokenAlreadyUsed = errors.New("token already used")
)

// Credit ledger sentinels.
var (
	// ErrInsufficientCredits indicates creditsRemaining < requested amount.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrAccountInactive indicates the account is deactivated or past its expiry.
	ErrAccountInactive = errors.New("account inactive")
	// ErrDebitFailed indicates the debit kept conflicting after the retry bound.
	ErrDebitFailed = errors.New("debit failed")
	// ErrCreditOverflow indicates integer overflow/underflow in credit arithmetic.
	ErrCreditOverflow = errors.New("credit arithmetic overflow")
	// ErrInvalidAmount indicates a non-positive credit amount.
	ErrInvalidAmount = errors.New("invalid credit amount")
)

// Transaction lifecycle sentinels.
var (
	// ErrInvalidTransition indicates a status change not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid transaction transition")
)
