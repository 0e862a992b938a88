package redemption

import (
	"math"

	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/model"
)

// Pricer converts redeemed credits into a monetary amount in minor units.
type Pricer interface {
	Price(tt model.TokenType, credits int64) (int64, error)
}

// FlatPricer charges the same amount per credit for every token type.
type FlatPricer struct {
	CentsPerCredit int64
}

func (p FlatPricer) Price(_ model.TokenType, credits int64) (int64, error) {
	if credits < 0 || p.CentsPerCredit < 0 {
		return 0, errs.ErrInvalidAmount
	}
	if credits != 0 && p.CentsPerCredit > math.MaxInt64/credits {
		return 0, errs.ErrCreditOverflow
	}
	return credits * p.CentsPerCredit, nil
}
