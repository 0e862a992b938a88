// Package redemption ties the token codec, nonce ledger, rate limiter and
// credit ledger into the generate / redeem / cancel / expire state machine.
package redemption

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/and161185/clinic-credit/internal/clock"
	"github.com/and161185/clinic-credit/internal/limiter"
	"github.com/and161185/clinic-credit/internal/model"
	"github.com/and161185/clinic-credit/internal/repository"
)

// TokenCodec issues and verifies redemption tokens.
type TokenCodec interface {
	Issue(accountID, userID uuid.UUID, tt model.TokenType, ttl time.Duration) (string, model.RedemptionClaims, error)
	Decode(raw string) (model.RedemptionClaims, error)
}

// CreditLedger is the balance authority.
type CreditLedger interface {
	Get(ctx context.Context, id uuid.UUID) (*model.CreditAccount, error)
	CheckEligible(ctx context.Context, id uuid.UUID, required int64) (*model.CreditAccount, error)
	Debit(ctx context.Context, id uuid.UUID, amount int64) (*model.CreditAccount, error)
	Refund(ctx context.Context, id uuid.UUID, amount int64) (int64, error)
}

// Settings are the tunables of the state machine.
type Settings struct {
	QRTokenTTL          time.Duration
	AppointmentTokenTTL time.Duration
	// CreditsPerRedemption is the credit cost per token type.
	CreditsPerRedemption map[model.TokenType]int64
	ExpireBatch          int
}

// DefaultSettings returns production defaults.
func DefaultSettings() Settings {
	return Settings{
		QRTokenTTL:          60 * time.Second,
		AppointmentTokenTTL: 30 * time.Minute,
		CreditsPerRedemption: map[model.TokenType]int64{
			model.TokenTypeAppointment: 1,
			model.TokenTypeClinicVisit: 1,
		},
		ExpireBatch: 100,
	}
}

func (s Settings) ttl(tt model.TokenType) time.Duration {
	if tt == model.TokenTypeAppointment {
		return s.AppointmentTokenTTL
	}
	return s.QRTokenTTL
}

func (s Settings) credits(tt model.TokenType) int64 {
	if c, ok := s.CreditsPerRedemption[tt]; ok && c > 0 {
		return c
	}
	return 1
}

// Orchestrator runs the redemption state machine. It is safe for concurrent use;
// serialization happens only at the nonce and account the storage layer guards.
type Orchestrator struct {
	codec    TokenCodec
	nonces   repository.NonceLedger
	txs      repository.TransactionRepository
	ledger   CreditLedger
	limiter  limiter.Limiter
	pricer   Pricer
	qr       QRRenderer
	clock    clock.Clock
	log      *zap.Logger
	settings Settings
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Codec   TokenCodec
	Nonces  repository.NonceLedger
	Txs     repository.TransactionRepository
	Ledger  CreditLedger
	Limiter limiter.Limiter
	Pricer  Pricer
	QR      QRRenderer
	Clock   clock.Clock
	Log     *zap.Logger
}

// New constructs an Orchestrator.
func New(d Deps, s Settings) *Orchestrator {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clock.NewRealClock()
	}
	if d.Pricer == nil {
		d.Pricer = FlatPricer{}
	}
	if d.QR == nil {
		d.QR = PNGRenderer{}
	}
	if s.ExpireBatch <= 0 {
		s.ExpireBatch = 100
	}
	return &Orchestrator{
		codec:    d.Codec,
		nonces:   d.Nonces,
		txs:      d.Txs,
		ledger:   d.Ledger,
		limiter:  d.Limiter,
		pricer:   d.Pricer,
		qr:       d.QR,
		clock:    d.Clock,
		log:      d.Log.Named("redemption"),
		settings: s,
	}
}

// newTransactionCode returns a human-readable, time-sortable code.
func newTransactionCode() string {
	return "TX-" + ulid.Make().String()
}

func newID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("transaction id: %w", err)
	}
	return id, nil
}
