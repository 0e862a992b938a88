package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/clinic-credit/internal/errs"
	"github.com/and161185/clinic-credit/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

/************ nonce ledger ************/

func TestNonceLedger_ClaimOnce_Inserted(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewNonceLedger(db)
	clinic := uuid.Must(uuid.NewV4())
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(q(`ON CONFLICT (nonce) DO NOTHING`)).
		WithArgs("n1", at, clinic).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ok, err := l.ClaimOnce(context.Background(), "n1", clinic, at)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNonceLedger_ClaimOnce_AlreadyClaimed(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewNonceLedger(db)

	mock.ExpectExec(q(`INSERT INTO redemption_nonces`)).
		WithArgs("n1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := l.ClaimOnce(context.Background(), "n1", uuid.Must(uuid.NewV4()), time.Now())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNonceLedger_ClaimOnce_Error(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewNonceLedger(db)

	mock.ExpectExec(q(`INSERT INTO redemption_nonces`)).
		WithArgs("n1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("conn reset"))

	ok, err := l.ClaimOnce(context.Background(), "n1", uuid.Must(uuid.NewV4()), time.Now())
	require.Error(t, err)
	require.False(t, ok)
}

func TestNonceLedger_Get_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewNonceLedger(db)

	mock.ExpectQuery(q(`FROM redemption_nonces WHERE nonce=$1`)).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := l.Get(context.Background(), "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

/************ accounts ************/

func TestAccountRepo_UpdateWithVersion_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	id := uuid.Must(uuid.NewV4())
	at := time.Now()

	mock.ExpectQuery(q(`WHERE id=$1 AND version=$3`)).
		WithArgs(id, int64(-1), int64(4), at).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(5)))

	v, err := r.UpdateWithVersion(context.Background(), id, -1, 4, at)
	require.NoError(t, err)
	require.Equal(t, int64(5), v)
}

func TestAccountRepo_UpdateWithVersion_Conflict(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(q(`UPDATE credit_accounts`)).
		WithArgs(id, int64(-1), int64(4), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(q(`SELECT version FROM credit_accounts WHERE id=$1`)).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(6)))

	_, err := r.UpdateWithVersion(context.Background(), id, -1, 4, time.Now())
	require.ErrorIs(t, err, errs.ErrVersionConflict)
}

func TestAccountRepo_UpdateWithVersion_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(q(`UPDATE credit_accounts`)).
		WithArgs(id, int64(2), int64(1), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(q(`SELECT version FROM credit_accounts`)).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := r.UpdateWithVersion(context.Background(), id, 2, 1, time.Now())
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAccountRepo_UpdateWithVersion_CheckViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(q(`UPDATE credit_accounts`)).
		WithArgs(id, int64(-9), int64(1), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.CheckViolation})

	_, err := r.UpdateWithVersion(context.Background(), id, -9, 1, time.Now())
	require.ErrorIs(t, err, errs.ErrCreditOverflow)
}

func TestAccountRepo_UpdateWithVersion_SerializationIsConflict(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(q(`UPDATE credit_accounts`)).
		WithArgs(id, int64(-1), int64(1), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.SerializationFailure})

	_, err := r.UpdateWithVersion(context.Background(), id, -1, 1, time.Now())
	require.ErrorIs(t, err, errs.ErrVersionConflict)
}

func TestAccountRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	id, uid, plan := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	exp := time.Now().Add(time.Hour)
	upd := time.Now()

	mock.ExpectQuery(q(`FROM credit_accounts WHERE id=$1`)).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "plan_id", "total_credits", "credits_remaining", "expires_at", "is_active", "version", "updated_at",
		}).AddRow(id, uid, plan, int64(10), int64(3), exp, true, int64(7), upd))

	a, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, int64(3), a.CreditsRemaining)
	require.Equal(t, int64(7), a.Version)
	require.True(t, a.IsActive)
}

func TestAccountRepo_Create_Duplicate(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	a := &model.CreditAccount{ID: uuid.Must(uuid.NewV4()), TotalCredits: 3, CreditsRemaining: 3}

	mock.ExpectExec(q(`INSERT INTO credit_accounts`)).
		WithArgs(a.ID, a.UserID, a.PlanID, a.TotalCredits, a.CreditsRemaining, a.ExpiresAt, a.IsActive).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	require.ErrorIs(t, r.Create(context.Background(), a), errs.ErrAlreadyExists)
}

/************ transactions ************/

var txCols = []string{
	"id", "code", "credit_account_id", "user_id", "clinic_id", "nonce", "token_type", "credits_used", "amount",
	"status", "failure_reason", "created_at", "expires_at", "validation_date", "cancellation_date", "cancellation_reason",
}

func txRow(rows *pgxmock.Rows, t model.Transaction) *pgxmock.Rows {
	nonce := t.Nonce
	return rows.AddRow(
		t.ID, t.Code, t.CreditAccountID, t.UserID, nullUUID(t.ClinicID), &nonce, string(t.TokenType),
		t.CreditsUsed, t.Amount, string(t.Status), t.FailureReason, t.CreatedAt, t.ExpiresAt,
		t.ValidationDate, t.CancellationDate, t.CancellationReason,
	)
}

func sampleTx(st model.TransactionStatus) model.Transaction {
	return model.Transaction{
		ID:              uuid.Must(uuid.NewV4()),
		Code:            "TX-01",
		CreditAccountID: uuid.Must(uuid.NewV4()),
		UserID:          uuid.Must(uuid.NewV4()),
		ClinicID:        uuid.Must(uuid.NewV4()),
		Nonce:           "n1",
		TokenType:       model.TokenTypeClinicVisit,
		CreditsUsed:     1,
		Amount:          2500,
		Status:          st,
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(time.Minute),
	}
}

func TestTransactionRepo_Append_DuplicateNonce(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTransactionRepo(db)
	tx := sampleTx(model.StatusValidated)

	mock.ExpectExec(q(`INSERT INTO credit_transactions`)).
		WithArgs(
			tx.ID, tx.Code, tx.CreditAccountID, tx.UserID, nullUUID(tx.ClinicID), pgxmock.AnyArg(),
			string(tx.TokenType), tx.CreditsUsed, tx.Amount, string(tx.Status), tx.FailureReason,
			tx.CreatedAt, tx.ExpiresAt, tx.ValidationDate, tx.CancellationDate, tx.CancellationReason,
		).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	require.ErrorIs(t, r.Append(context.Background(), &tx), errs.ErrAlreadyExists)
}

func TestTransactionRepo_GetByNonce(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTransactionRepo(db)
	tx := sampleTx(model.StatusPending)

	mock.ExpectQuery(q(`FROM credit_transactions WHERE nonce=$1`)).
		WithArgs("n1").
		WillReturnRows(txRow(pgxmock.NewRows(txCols), tx))

	got, err := r.GetByNonce(context.Background(), "n1")
	require.NoError(t, err)
	require.Equal(t, tx.ID, got.ID)
	require.Equal(t, tx.ClinicID, got.ClinicID)
	require.Equal(t, "n1", got.Nonce)
	require.Equal(t, model.StatusPending, got.Status)
}

func TestTransactionRepo_Transition_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTransactionRepo(db)
	tx := sampleTx(model.StatusCancelled)
	now := time.Now()

	mock.ExpectQuery(q(`WHERE id=$1 AND status=$2`)).
		WithArgs(tx.ID, "Validated", "Cancelled", nullUUID(uuid.Nil), "", (*time.Time)(nil), &now, "dup").
		WillReturnRows(txRow(pgxmock.NewRows(txCols), tx))

	got, err := r.Transition(context.Background(), tx.ID, model.StatusValidated, model.StatusCancelled,
		model.TransitionFields{CancellationDate: &now, CancellationReason: "dup"})
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, got.Status)
}

func TestTransactionRepo_Transition_LostRace(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTransactionRepo(db)
	cur := sampleTx(model.StatusCancelled)

	mock.ExpectQuery(q(`WHERE id=$1 AND status=$2`)).
		WithArgs(cur.ID, "Validated", "Cancelled", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(q(`FROM credit_transactions WHERE id=$1`)).
		WithArgs(cur.ID).
		WillReturnRows(txRow(pgxmock.NewRows(txCols), cur))

	_, err := r.Transition(context.Background(), cur.ID, model.StatusValidated, model.StatusCancelled, model.TransitionFields{})
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestTransactionRepo_Transition_DisallowedEdge(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTransactionRepo(db)

	_, err := r.Transition(context.Background(), uuid.Must(uuid.NewV4()), model.StatusExpired, model.StatusCancelled, model.TransitionFields{})
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ListExpiredPending(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTransactionRepo(db)
	now := time.Now()
	a, b := sampleTx(model.StatusPending), sampleTx(model.StatusPending)
	b.Nonce = "n2"

	rows := pgxmock.NewRows(txCols)
	txRow(rows, a)
	txRow(rows, b)
	mock.ExpectQuery(q(`WHERE status='Pending' AND expires_at <= $1`)).
		WithArgs(now, 50).
		WillReturnRows(rows)

	out, err := r.ListExpiredPending(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "n2", out[1].Nonce)
}

func TestTransactionRepo_SwapFailureReason(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTransactionRepo(db)
	id := uuid.Must(uuid.NewV4())
	ctx := context.Background()

	mock.ExpectExec(q(`SET failure_reason=$3 WHERE id=$1 AND failure_reason=$2`)).
		WithArgs(id, "", "REFUND_FAILED:INTERNAL_ERROR").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := r.SwapFailureReason(ctx, id, "", "REFUND_FAILED:INTERNAL_ERROR")
	require.NoError(t, err)
	require.True(t, ok)

	// reason moved on: row exists, swap lost
	mock.ExpectExec(q(`SET failure_reason=$3 WHERE id=$1 AND failure_reason=$2`)).
		WithArgs(id, "REFUND_FAILED:INTERNAL_ERROR", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(q(`SELECT EXISTS(SELECT 1 FROM credit_transactions WHERE id=$1)`)).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err = r.SwapFailureReason(ctx, id, "REFUND_FAILED:INTERNAL_ERROR", "")
	require.NoError(t, err)
	require.False(t, ok)

	mock.ExpectExec(q(`SET failure_reason=$3`)).
		WithArgs(id, "a", "b").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(q(`SELECT EXISTS`)).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	_, err = r.SwapFailureReason(ctx, id, "a", "b")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
