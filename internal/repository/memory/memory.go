// Package memory contains in-process implementations of repository interfaces.
// Each store serializes its operations with one mutex, which gives the same
// atomicity the PostgreSQL constraints give; it is meant for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/model"
	"github.com/and161185/clinic-credit/internal/repository"
)

var (
	_ repository.NonceLedger           = (*NonceLedger)(nil)
	_ repository.AccountRepository     = (*Accounts)(nil)
	_ repository.TransactionRepository = (*Transactions)(nil)
)

// NonceLedger is a write-once in-memory nonce set.
type NonceLedger struct {
	mu     sync.Mutex
	claims map[string]model.NonceRecord
}

func NewNonceLedger() *NonceLedger {
	return &NonceLedger{claims: make(map[string]model.NonceRecord)}
}

func (l *NonceLedger) ClaimOnce(_ context.Context, nonce string, consumedBy uuid.UUID, at time.Time) (bool, error) {
	if nonce == "" {
		return false, errs.ErrInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.claims[nonce]; ok {
		return false, nil
	}
	l.claims[nonce] = model.NonceRecord{Nonce: nonce, ConsumedAt: at, ConsumedBy: consumedBy}
	return true, nil
}

func (l *NonceLedger) Get(_ context.Context, nonce string) (*model.NonceRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.claims[nonce]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &r, nil
}

// Len returns the number of consumed nonces.
func (l *NonceLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.claims)
}

// Accounts is an in-memory versioned account store.
type Accounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]model.CreditAccount
}

func NewAccounts() *Accounts {
	return &Accounts{accounts: make(map[uuid.UUID]model.CreditAccount)}
}

func (s *Accounts) Create(_ context.Context, a *model.CreditAccount) error {
	if a.CreditsRemaining < 0 || a.CreditsRemaining > a.TotalCredits {
		return fmt.Errorf("account %s: %w", a.ID, errs.ErrInvalidAmount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *a
	if cp.Version == 0 {
		cp.Version = 1
	}
	s.accounts[a.ID] = cp
	return nil
}

func (s *Accounts) Get(_ context.Context, id uuid.UUID) (*model.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

func (s *Accounts) UpdateWithVersion(_ context.Context, id uuid.UUID, delta, expectedVersion int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return 0, errs.ErrNotFound
	}
	if a.Version != expectedVersion {
		return 0, errs.ErrVersionConflict
	}
	next := a.CreditsRemaining + delta
	if next < 0 || next > a.TotalCredits {
		return 0, errs.ErrCreditOverflow
	}
	a.CreditsRemaining = next
	a.Version++
	a.UpdatedAt = at
	s.accounts[id] = a
	return a.Version, nil
}

// Transactions is an in-memory transaction log with unique nonce and code.
type Transactions struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]model.Transaction
	byNonce map[string]uuid.UUID
	codes   map[string]struct{}
}

func NewTransactions() *Transactions {
	return &Transactions{
		byID:    make(map[uuid.UUID]model.Transaction),
		byNonce: make(map[string]uuid.UUID),
		codes:   make(map[string]struct{}),
	}
}

func (s *Transactions) Append(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[tx.ID]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := s.codes[tx.Code]; ok {
		return errs.ErrAlreadyExists
	}
	if tx.Nonce != "" {
		if _, ok := s.byNonce[tx.Nonce]; ok {
			return errs.ErrAlreadyExists
		}
		s.byNonce[tx.Nonce] = tx.ID
	}
	s.codes[tx.Code] = struct{}{}
	s.byID[tx.ID] = *tx
	return nil
}

func (s *Transactions) Get(_ context.Context, id uuid.UUID) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &tx, nil
}

func (s *Transactions) GetByNonce(_ context.Context, nonce string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byNonce[nonce]
	if !ok {
		return nil, errs.ErrNotFound
	}
	tx := s.byID[id]
	return &tx, nil
}

func (s *Transactions) Transition(
	_ context.Context, id uuid.UUID, from, to model.TransactionStatus, f model.TransitionFields,
) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if tx.Status != from || !from.CanTransition(to) {
		return nil, fmt.Errorf("%s -> %s (current %s): %w", from, to, tx.Status, errs.ErrInvalidTransition)
	}
	tx.Status = to
	applyFields(&tx, f)
	s.byID[id] = tx
	return &tx, nil
}

// applyFields copies the non-zero transition columns onto tx.
func applyFields(tx *model.Transaction, f model.TransitionFields) {
	if f.ClinicID != uuid.Nil {
		tx.ClinicID = f.ClinicID
	}
	if f.FailureReason != "" {
		tx.FailureReason = f.FailureReason
	}
	if f.ValidationDate != nil {
		tx.ValidationDate = f.ValidationDate
	}
	if f.CancellationDate != nil {
		tx.CancellationDate = f.CancellationDate
	}
	if f.CancellationReason != "" {
		tx.CancellationReason = f.CancellationReason
	}
}

func (s *Transactions) SwapFailureReason(_ context.Context, id uuid.UUID, old, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return false, errs.ErrNotFound
	}
	if tx.FailureReason != old {
		return false, nil
	}
	tx.FailureReason = reason
	s.byID[id] = tx
	return true, nil
}

func (s *Transactions) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Transaction
	for _, tx := range s.byID {
		if tx.Status == model.StatusPending && !tx.ExpiresAt.After(now) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
