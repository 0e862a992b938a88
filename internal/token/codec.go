// Package token issues and verifies signed, short-lived redemption tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/clinic-credit/internal/clock"
	pkgcrypto "github.com/and161185/clinic-credit/internal/crypto"
	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/model"
)

// Wire discriminators.
const (
	ClaimsVersion = 1
	ClaimsType    = "redemption"
)

type wireClaims struct {
	V         int    `json:"v"`
	Typ       string `json:"typ"`
	AccountID string `json:"acc"`
	TokenType string `json:"tt"`
	jwt.RegisteredClaims
}

// Codec signs and verifies redemption tokens. It has no side effects beyond logging.
type Codec struct {
	ring  *Keyring
	clock clock.Clock
	log   *zap.Logger
}

// NewCodec constructs a codec over the given keyring.
func NewCodec(ring *Keyring, clk clock.Clock, log *zap.Logger) *Codec {
	if log == nil {
		log = zap.NewNop()
	}
	return &Codec{ring: ring, clock: clk, log: log}
}

// Issue builds and signs a token with a fresh nonce.
func (c *Codec) Issue(accountID, userID uuid.UUID, tt model.TokenType, ttl time.Duration) (string, model.RedemptionClaims, error) {
	if !tt.Valid() {
		return "", model.RedemptionClaims{}, fmt.Errorf("token type %q: %w", tt, errs.ErrInvalidArgument)
	}
	if ttl <= 0 {
		return "", model.RedemptionClaims{}, fmt.Errorf("ttl %s: %w", ttl, errs.ErrInvalidArgument)
	}
	nonce, err := pkgcrypto.NewNonce()
	if err != nil {
		return "", model.RedemptionClaims{}, err
	}
	// NumericDate has second precision on the wire.
	now := c.clock.Now().Truncate(time.Second)
	exp := now.Add(ttl)

	wc := wireClaims{
		V:         ClaimsVersion,
		Typ:       ClaimsType,
		AccountID: accountID.String(),
		TokenType: string(tt),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	kid, key := c.ring.Current()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, wc)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", model.RedemptionClaims{}, err
	}
	return signed, model.RedemptionClaims{
		Version:         ClaimsVersion,
		CreditAccountID: accountID,
		UserID:          userID,
		Nonce:           nonce,
		IssuedAt:        now,
		ExpiresAt:       exp,
		TokenType:       tt,
	}, nil
}

// Decode verifies a token and returns its claims. Expiry is reported as
// ErrTokenExpired before the signature is checked; every other failure is
// ErrInvalidToken. Nonce consumption is not checked here.
func (c *Codec) Decode(raw string) (model.RedemptionClaims, error) {
	var pre wireClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &pre); err != nil {
		c.reject("malformed", err)
		return model.RedemptionClaims{}, errs.ErrInvalidToken
	}
	if pre.ExpiresAt == nil {
		c.reject("missing exp", nil)
		return model.RedemptionClaims{}, errs.ErrInvalidToken
	}
	if !c.clock.Now().Before(pre.ExpiresAt.Time) {
		return model.RedemptionClaims{}, errs.ErrTokenExpired
	}

	var wc wireClaims
	_, err := jwt.ParseWithClaims(raw, &wc, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.RedemptionClaims{}, errs.ErrTokenExpired
		}
		c.reject("verify", err)
		return model.RedemptionClaims{}, errs.ErrInvalidToken
	}
	return c.toModel(wc)
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	key, ok := c.ring.Lookup(kid)
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return key, nil
}

func (c *Codec) toModel(wc wireClaims) (model.RedemptionClaims, error) {
	if wc.V != ClaimsVersion || wc.Typ != ClaimsType {
		c.reject("unsupported claims version", nil)
		return model.RedemptionClaims{}, errs.ErrInvalidToken
	}
	acc, err := uuid.FromString(wc.AccountID)
	if err != nil {
		c.reject("account id", err)
		return model.RedemptionClaims{}, errs.ErrInvalidToken
	}
	uid, err := uuid.FromString(wc.Subject)
	if err != nil {
		c.reject("subject", err)
		return model.RedemptionClaims{}, errs.ErrInvalidToken
	}
	tt := model.TokenType(wc.TokenType)
	if !tt.Valid() || wc.ID == "" || wc.IssuedAt == nil {
		c.reject("claims incomplete", nil)
		return model.RedemptionClaims{}, errs.ErrInvalidToken
	}
	return model.RedemptionClaims{
		Version:         wc.V,
		CreditAccountID: acc,
		UserID:          uid,
		Nonce:           wc.ID,
		IssuedAt:        wc.IssuedAt.Time,
		ExpiresAt:       wc.ExpiresAt.Time,
		TokenType:       tt,
	}, nil
}

// reject logs the concrete verification failure; callers only see the sentinel.
func (c *Codec) reject(reason string, err error) {
	c.log.Debug("redemption token rejected", zap.String("reason", reason), zap.Error(err))
}
