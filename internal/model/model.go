// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// TokenType distinguishes the redemption flows.
type TokenType string

const (
	// TokenTypeAppointment pre-books a Pending transaction at issuance.
	TokenTypeAppointment TokenType = "Appointment"
	// TokenTypeClinicVisit creates the transaction at redemption (QR scan at the desk).
	TokenTypeClinicVisit TokenType = "ClinicVisit"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	return t == TokenTypeAppointment || t == TokenTypeClinicVisit
}

// TransactionStatus is the lifecycle state of a credit transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "Pending"
	StatusValidated TransactionStatus = "Validated"
	StatusCancelled TransactionStatus = "Cancelled"
	StatusExpired   TransactionStatus = "Expired"
	StatusRejected  TransactionStatus = "Rejected"
)

// CanTransition reports whether a transaction may move from s to next.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusValidated || next == StatusCancelled || next == StatusExpired || next == StatusRejected
	case StatusValidated:
		return next == StatusCancelled
	default:
		return false
	}
}

// CreditAccount holds a user's remaining credits for one plan.
type CreditAccount struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	PlanID           uuid.UUID
	TotalCredits     int64
	CreditsRemaining int64
	ExpiresAt        time.Time
	IsActive         bool
	Version          int64 // optimistic-lock counter, incremented on every balance change
	UpdatedAt        time.Time
}

// Usable reports whether debits/refunds are permitted at now.
func (a CreditAccount) Usable(now time.Time) bool {
	return a.IsActive && now.Before(a.ExpiresAt)
}

// NonceRecord is the write-once tombstone of a consumed token nonce.
type NonceRecord struct {
	Nonce      string
	ConsumedAt time.Time
	ConsumedBy uuid.UUID
}

// Transaction is the audit/ledger entry of one redemption.
type Transaction struct {
	ID                 uuid.UUID
	Code               string // human-readable, time-sortable
	CreditAccountID    uuid.UUID
	UserID             uuid.UUID
	ClinicID           uuid.UUID // uuid.Nil until a clinic redeems
	Nonce              string
	TokenType          TokenType
	CreditsUsed        int64
	Amount             int64 // minor currency units
	Status             TransactionStatus
	FailureReason      string
	CreatedAt          time.Time
	ExpiresAt          time.Time // token expiry, drives the Pending sweep
	ValidationDate     *time.Time
	CancellationDate   *time.Time
	CancellationReason string
}

// TransitionFields carries the columns set together with a status change.
type TransitionFields struct {
	ClinicID           uuid.UUID
	FailureReason      string
	ValidationDate     *time.Time
	CancellationDate   *time.Time
	CancellationReason string
}

// RedemptionClaims is the verified content of a redemption token.
type RedemptionClaims struct {
	Version         int
	CreditAccountID uuid.UUID
	UserID          uuid.UUID
	Nonce           string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	TokenType       TokenType
}

// IssuedToken is returned to the patient after generation.
type IssuedToken struct {
	Token         string
	Nonce         string
	TransactionID uuid.UUID // set for appointment tokens only
	GeneratedAt   time.Time
	ExpiresAt     time.Time
	QRCodePNG     []byte
}

// CreditAccountSnapshot is the read view of an account returned to callers.
type CreditAccountSnapshot struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	PlanID           uuid.UUID
	TotalCredits     int64
	CreditsRemaining int64
	ExpiresAt        time.Time
	IsActive         bool
	Version          int64
}

// Snapshot converts an account to its read view.
func (a CreditAccount) Snapshot() CreditAccountSnapshot {
	return CreditAccountSnapshot{
		ID:               a.ID,
		UserID:           a.UserID,
		PlanID:           a.PlanID,
		TotalCredits:     a.TotalCredits,
		CreditsRemaining: a.CreditsRemaining,
		ExpiresAt:        a.ExpiresAt,
		IsActive:         a.IsActive,
		Version:          a.Version,
	}
}

// Role is the kind of authenticated caller.
type Role string

const (
	RolePatient Role = "patient"
	RoleClinic  Role = "clinic"
	RoleAdmin   Role = "admin"
)

// Principal is the authenticated caller of an operation.
type Principal struct {
	ID   uuid.UUID
	Role Role
}
