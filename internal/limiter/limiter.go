// Package limiter bounds redemption-token generation per user with a sliding window.
package limiter

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Defaults for token generation.
const (
	DefaultLimit  = 5
	DefaultWindow = 60 * time.Second
)

// Limiter decides whether a user may generate another token.
// A refused call does not consume capacity.
type Limiter interface {
	// Allow records a generation if capacity remains; otherwise it reports how
	// long until the oldest entry leaves the window.
	Allow(ctx context.Context, userID uuid.UUID) (bool, time.Duration, error)
}
