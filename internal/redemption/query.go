package redemption

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/model"
)

// GetAccount returns an account snapshot. Patients may only read their own.
func (o *Orchestrator) GetAccount(ctx context.Context, actor model.Principal, id uuid.UUID) (model.CreditAccountSnapshot, error) {
	acc, err := o.ledger.Get(ctx, id)
	if err != nil {
		return model.CreditAccountSnapshot{}, wrapAccountLookup(id, err)
	}
	if actor.Role == model.RolePatient && acc.UserID != actor.ID {
		return model.CreditAccountSnapshot{}, errs.ErrForbidden
	}
	return acc.Snapshot(), nil
}

// GetTransaction returns a transaction visible to actor.
func (o *Orchestrator) GetTransaction(ctx context.Context, actor model.Principal, id uuid.UUID) (model.Transaction, error) {
	tx, err := o.txs.Get(ctx, id)
	if err != nil {
		return model.Transaction{}, wrapTxLookup(id, err)
	}
	switch actor.Role {
	case model.RoleAdmin:
	case model.RoleClinic:
		// unassigned appointments belong to the patient until a clinic redeems them
		if tx.ClinicID == uuid.Nil || tx.ClinicID != actor.ID {
			return model.Transaction{}, errs.ErrForbidden
		}
	default:
		if tx.UserID != actor.ID {
			return model.Transaction{}, errs.ErrForbidden
		}
	}
	return *tx, nil
}
