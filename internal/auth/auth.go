// Package auth verifies caller access tokens and carries the caller principal
// through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/model"
)

type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 access tokens issued by the identity system.
type Tokens struct {
	signKey []byte
	leeway  time.Duration
	now     func() time.Time
}

// New constructs an access-token helper over key.
func New(signKey []byte) *Tokens {
	return &Tokens{signKey: signKey, leeway: 30 * time.Second, now: time.Now}
}

// Issue signs an access token for p. Production tokens come from the identity
// system; this is used by development tooling.
func (t *Tokens) Issue(p model.Principal, ttl time.Duration) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(ttl)
	claims := accessClaims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(t.signKey)
	return signed, exp, err
}

// Verify checks signature, expiry and claims and returns the caller.
func (t *Tokens) Verify(raw string) (model.Principal, error) {
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return t.signKey, nil
	},
		jwt.WithLeeway(t.leeway),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return model.Principal{}, fmt.Errorf("access token: %w", errs.ErrUnauthorized)
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return model.Principal{}, fmt.Errorf("bad subject: %w", errs.ErrUnauthorized)
	}
	role := model.Role(claims.Role)
	switch role {
	case model.RolePatient, model.RoleClinic, model.RoleAdmin:
	default:
		return model.Principal{}, fmt.Errorf("unknown role %q: %w", claims.Role, errs.ErrUnauthorized)
	}
	return model.Principal{ID: id, Role: role}, nil
}

// BearerToken extracts the token from an "authorization" header value.
func BearerToken(values ...string) (string, error) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if tok := strings.TrimSpace(v[7:]); tok != "" {
				return tok, nil
			}
		}
	}
	return "", fmt.Errorf("no bearer token: %w", errs.ErrUnauthorized)
}

type ctxKey string

const principalKey ctxKey = "cc.principal"

// WithPrincipal stores the authenticated caller in context.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the caller from context.
func PrincipalFromCtx(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	return p, ok
}

// Require returns the caller if its role is one of roles.
func Require(ctx context.Context, roles ...model.Role) (model.Principal, error) {
	p, ok := PrincipalFromCtx(ctx)
	if !ok {
		return model.Principal{}, errs.ErrUnauthorized
	}
	for _, r := range roles {
		if p.Role == r {
			return p, nil
		}
	}
	return model.Principal{}, fmt.Errorf("role %s: %w", p.Role, errs.ErrForbidden)
}
