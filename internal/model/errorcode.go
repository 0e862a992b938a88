package model

// ErrorCode is the stable error contract surfaced to callers.
type ErrorCode string

const (
	CodeOK                  ErrorCode = ""
	CodeInvalidToken        ErrorCode = "INVALID_TOKEN"
	CodeTokenExpired        ErrorCode = "TOKEN_EXPIRED"
	CodeTokenAlreadyUsed    ErrorCode = "TOKEN_ALREADY_USED"
	CodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	CodeAccountInactive     ErrorCode = "ACCOUNT_INACTIVE"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"

	// Cancel/account operations only.
	CodeTransactionNotFound ErrorCode = "TRANSACTION_NOT_FOUND"
	CodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	CodeAccountNotFound     ErrorCode = "ACCOUNT_NOT_FOUND"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeInvalidArgument     ErrorCode = "INVALID_ARGUMENT"
)

// Message returns the caller-facing text for a code. It never reveals which
// token check failed.
func (c ErrorCode) Message() string {
	switch c {
	case CodeOK:
		return ""
	case CodeInvalidToken:
		return "invalid or expired token"
	case CodeTokenExpired:
		return "invalid or expired token"
	case CodeTokenAlreadyUsed:
		return "token has already been redeemed"
	case CodeRateLimitExceeded:
		return "too many tokens requested, try again later"
	case CodeInsufficientCredits:
		return "not enough credits remaining"
	case CodeAccountInactive:
		return "credit account is inactive or expired"
	case CodeTransactionNotFound:
		return "transaction not found"
	case CodeInvalidTransition:
		return "transaction cannot be changed from its current status"
	case CodeAccountNotFound:
		return "credit account not found"
	case CodeForbidden:
		return "operation not allowed for caller"
	case CodeInvalidArgument:
		return "invalid argument"
	default:
		return "internal error"
	}
}
