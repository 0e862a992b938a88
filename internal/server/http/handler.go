package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/clinic-credit/internal/api"
	"github.com/and161185/clinic-credit/internal/auth"
	"github.com/and161185/clinic-credit/internal/convert"
	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/model"
	"github.com/and161185/clinic-credit/internal/redemption"
)

// Service is the orchestrator surface used by the handlers.
type Service interface {
	GenerateToken(ctx context.Context, req redemption.GenerateRequest) (model.IssuedToken, error)
	RedeemToken(ctx context.Context, req redemption.RedeemRequest) (redemption.RedeemResult, error)
	CancelTransaction(ctx context.Context, req redemption.CancelRequest) (redemption.CancelResult, error)
	GetAccount(ctx context.Context, actor model.Principal, id uuid.UUID) (model.CreditAccountSnapshot, error)
	GetTransaction(ctx context.Context, actor model.Principal, id uuid.UUID) (model.Transaction, error)
}

// Pinger reports storage readiness for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler implements the HTTP API.
type Handler struct {
	svc    Service
	tokens *auth.Tokens
	ping   Pinger
	log    *zap.Logger
}

// NewHandler constructs the HTTP handlers. ping may be nil.
func NewHandler(svc Service, tokens *auth.Tokens, ping Pinger, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, tokens: tokens, ping: ping, log: log.Named("http")}
}

const maxBody = 64 << 10

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("body: %w", errs.ErrInvalidArgument)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpStatus(c model.ErrorCode) int {
	switch c {
	case model.CodeInvalidToken, model.CodeTokenExpired, model.CodeInvalidArgument:
		return http.StatusBadRequest
	case model.CodeTokenAlreadyUsed, model.CodeInvalidTransition:
		return http.StatusConflict
	case model.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.CodeInsufficientCredits, model.CodeAccountInactive:
		return http.StatusUnprocessableEntity
	case model.CodeAccountNotFound, model.CodeTransactionNotFound:
		return http.StatusNotFound
	case model.CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, errs.ErrUnauthorized) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	body := convert.ToError(err)
	code := model.ErrorCode(body.ErrorCode)
	if code == model.CodeInternalError {
		h.log.Error("request failed", zap.Error(err))
	}
	if body.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfterSeconds))
	}
	writeJSON(w, httpStatus(code), body)
}

// Health reports liveness and, when configured, storage reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping.Ping(r.Context()); err != nil {
			h.log.Warn("health: storage unreachable", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// GenerateToken handles POST /v1/tokens.
func (h *Handler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	p, err := auth.Require(r.Context(), model.RolePatient)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req api.GenerateTokenRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	in, err := convert.FromGenerateRequest(p.ID, &req)
	if err != nil {
		h.fail(w, err)
		return
	}
	tok, err := h.svc.GenerateToken(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToIssuedToken(tok))
}

// RedeemToken handles POST /v1/redemptions.
func (h *Handler) RedeemToken(w http.ResponseWriter, r *http.Request) {
	p, err := auth.Require(r.Context(), model.RoleClinic)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req api.RedeemTokenRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	res, err := h.svc.RedeemToken(r.Context(), redemption.RedeemRequest{Token: req.Token, ClinicID: p.ID})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToRedeemResult(res))
}

// CancelTransaction handles POST /v1/transactions/{id}/cancel.
func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	p, err := auth.Require(r.Context(), model.RolePatient, model.RoleClinic, model.RoleAdmin)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req api.CancelTransactionRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.fail(w, err)
			return
		}
	}
	req.TransactionID = chi.URLParam(r, "id")
	in, err := convert.FromCancelRequest(p, &req)
	if err != nil {
		h.fail(w, err)
		return
	}
	res, err := h.svc.CancelTransaction(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToCancelResult(res))
}

// GetAccount handles GET /v1/accounts/{id}.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	p, err := auth.Require(r.Context(), model.RolePatient, model.RoleClinic, model.RoleAdmin)
	if err != nil {
		h.fail(w, err)
		return
	}
	id, err := convert.ParseID("credit_account_id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	snap, err := h.svc.GetAccount(r.Context(), p, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToAccount(snap))
}

// GetTransaction handles GET /v1/transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	p, err := auth.Require(r.Context(), model.RolePatient, model.RoleClinic, model.RoleAdmin)
	if err != nil {
		h.fail(w, err)
		return
	}
	id, err := convert.ParseID("transaction_id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	tx, err := h.svc.GetTransaction(r.Context(), p, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToTransaction(tx))
}
