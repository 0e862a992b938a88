package grpcserver

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/clinic-credit/internal/convert"
	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/model"
	"github.com/and161185/clinic-credit/internal/redemption"
)

// Trailer keys carrying the stable error contract.
const (
	MDErrorCode  = "error-code"
	MDRetryAfter = "retry-after"
)

func grpcCode(c model.ErrorCode) codes.Code {
	switch c {
	case model.CodeInvalidToken, model.CodeTokenExpired, model.CodeInvalidArgument:
		return codes.InvalidArgument
	case model.CodeTokenAlreadyUsed:
		return codes.AlreadyExists
	case model.CodeRateLimitExceeded:
		return codes.ResourceExhausted
	case model.CodeInsufficientCredits, model.CodeAccountInactive, model.CodeInvalidTransition:
		return codes.FailedPrecondition
	case model.CodeAccountNotFound, model.CodeTransactionNotFound:
		return codes.NotFound
	case model.CodeForbidden:
		return codes.PermissionDenied
	default:
		return codes.Internal
	}
}

// toStatus converts an orchestrator error to a status error and sets the
// error-code (and retry-after) trailers. The message is "<CODE>: <text>".
func toStatus(ctx context.Context, log *zap.Logger, err error) error {
	if errors.Is(err, errs.ErrUnauthorized) {
		return status.Error(codes.Unauthenticated, "unauthenticated")
	}
	code := redemption.CodeOf(err)
	md := metadata.Pairs(MDErrorCode, string(code))
	if d, ok := redemption.RetryAfter(err); ok {
		md.Append(MDRetryAfter, strconv.Itoa(convert.RetryAfterSeconds(d.Seconds())))
	}
	// Fails only outside a server stream (direct handler calls in tests).
	_ = grpc.SetTrailer(ctx, md)

	if code == model.CodeInternalError {
		log.Error("request failed", zap.Error(err))
	}
	return status.Error(grpcCode(code), string(code)+": "+code.Message())
}

// ErrorCodeOf recovers the stable error code from a status error returned by
// the Redemption service.
func ErrorCodeOf(err error) model.ErrorCode {
	if err == nil {
		return model.CodeOK
	}
	st, ok := status.FromError(err)
	if !ok {
		return model.CodeInternalError
	}
	// Missing or rejected credentials.
	if st.Code() == codes.Unauthenticated {
		return model.CodeForbidden
	}
	if code, _, found := strings.Cut(st.Message(), ": "); found {
		return model.ErrorCode(code)
	}
	return model.CodeInternalError
}
