package auth

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/model"
)

func TestIssueVerify_RoundTrip(t *testing.T) {
	tk := New([]byte("access-secret"))
	p := model.Principal{ID: uuid.Must(uuid.NewV4()), Role: model.RoleClinic}

	raw, exp, err := tk.Issue(p, time.Hour)
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))

	got, err := tk.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestVerify_Rejects(t *testing.T) {
	tk := New([]byte("access-secret"))
	other := New([]byte("other-secret"))
	p := model.Principal{ID: uuid.Must(uuid.NewV4()), Role: model.RolePatient}

	foreign, _, err := other.Issue(p, time.Hour)
	require.NoError(t, err)
	_, err = tk.Verify(foreign)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	expired, _, err := tk.Issue(p, -time.Hour)
	require.NoError(t, err)
	_, err = tk.Verify(expired)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	bad, _, err := tk.Issue(model.Principal{ID: p.ID, Role: "root"}, time.Hour)
	require.NoError(t, err)
	_, err = tk.Verify(bad)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	claims := jwt.RegisteredClaims{Subject: p.ID.String(), ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("access-secret"))
	require.NoError(t, err)
	_, err = tk.Verify(hs512)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = tk.Verify("garbage")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestBearerToken(t *testing.T) {
	got, err := BearerToken("Bearer abc.def.ghi")
	require.NoError(t, err)
	require.Equal(t, "abc.def.ghi", got)

	got, err = BearerToken("Basic x", "bearer tok")
	require.NoError(t, err)
	require.Equal(t, "tok", got)

	_, err = BearerToken("Bearer   ")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, err = BearerToken()
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestPrincipalContext_Require(t *testing.T) {
	_, err := Require(context.Background(), model.RoleAdmin)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	p := model.Principal{ID: uuid.Must(uuid.NewV4()), Role: model.RoleClinic}
	ctx := WithPrincipal(context.Background(), p)

	got, ok := PrincipalFromCtx(ctx)
	require.True(t, ok)
	require.Equal(t, p, got)

	_, err = Require(ctx, model.RoleClinic, model.RoleAdmin)
	require.NoError(t, err)
	_, err = Require(ctx, model.RolePatient)
	require.ErrorIs(t, err, errs.ErrForbidden)
}
