// Package grpcserver exposes the clinic-credit redemption API over gRPC.
package grpcserver

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/clinic-credit/internal/api"
	"github.com/and161185/clinic-credit/internal/auth"
	"github.com/and161185/clinic-credit/internal/convert"
	"github.com/and161185/clinic-credit/internal/model"
	"github.com/and161185/clinic-credit/internal/redemption"
)

// Redemption is the orchestrator surface the handlers depend on.
type Redemption interface {
	GenerateToken(ctx context.Context, req redemption.GenerateRequest) (model.IssuedToken, error)
	RedeemToken(ctx context.Context, req redemption.RedeemRequest) (redemption.RedeemResult, error)
	CancelTransaction(ctx context.Context, req redemption.CancelRequest) (redemption.CancelResult, error)
	GetAccount(ctx context.Context, actor model.Principal, id uuid.UUID) (model.CreditAccountSnapshot, error)
	GetTransaction(ctx context.Context, actor model.Principal, id uuid.UUID) (model.Transaction, error)
}

// Server wires the orchestrator into gRPC handlers. Callers are authenticated
// by AuthUnary before a handler runs.
type Server struct {
	svc Redemption
	log *zap.Logger
}

var _ RedemptionServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(svc Redemption, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log.Named("grpc")}
}

// GenerateToken issues a redemption token for the calling patient.
func (s *Server) GenerateToken(ctx context.Context, req *api.GenerateTokenRequest) (*api.GenerateTokenResponse, error) {
	p, err := auth.Require(ctx, model.RolePatient)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	in, err := convert.FromGenerateRequest(p.ID, req)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	tok, err := s.svc.GenerateToken(ctx, in)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	return convert.ToIssuedToken(tok), nil
}

// RedeemToken redeems a scanned token on behalf of the calling clinic.
func (s *Server) RedeemToken(ctx context.Context, req *api.RedeemTokenRequest) (*api.RedeemTokenResponse, error) {
	p, err := auth.Require(ctx, model.RoleClinic)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	res, err := s.svc.RedeemToken(ctx, redemption.RedeemRequest{Token: req.Token, ClinicID: p.ID})
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	return convert.ToRedeemResult(res), nil
}

// CancelTransaction cancels a transaction; who may cancel what is decided by
// the orchestrator.
func (s *Server) CancelTransaction(ctx context.Context, req *api.CancelTransactionRequest) (*api.CancelTransactionResponse, error) {
	p, err := auth.Require(ctx, model.RolePatient, model.RoleClinic, model.RoleAdmin)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	in, err := convert.FromCancelRequest(p, req)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	res, err := s.svc.CancelTransaction(ctx, in)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	return convert.ToCancelResult(res), nil
}

// GetAccount returns a credit account snapshot.
func (s *Server) GetAccount(ctx context.Context, req *api.GetAccountRequest) (*api.AccountSnapshot, error) {
	p, err := auth.Require(ctx, model.RolePatient, model.RoleClinic, model.RoleAdmin)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	id, err := convert.ParseID("credit_account_id", req.CreditAccountID)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	snap, err := s.svc.GetAccount(ctx, p, id)
	if err != nil {
		return nil, toStatus(ctx, s.log, fmt.Errorf("get account: %w", err))
	}
	out := convert.ToAccount(snap)
	return &out, nil
}

// GetTransaction returns a single transaction.
func (s *Server) GetTransaction(ctx context.Context, req *api.GetTransactionRequest) (*api.Transaction, error) {
	p, err := auth.Require(ctx, model.RolePatient, model.RoleClinic, model.RoleAdmin)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	id, err := convert.ParseID("transaction_id", req.TransactionID)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	tx, err := s.svc.GetTransaction(ctx, p, id)
	if err != nil {
		return nil, toStatus(ctx, s.log, fmt.Errorf("get transaction: %w", err))
	}
	out := convert.ToTransaction(tx)
	return &out, nil
}
