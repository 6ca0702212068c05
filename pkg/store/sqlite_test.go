package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pledgeLedger/pkg/models"
	"github.com/mcclellann/pledgeLedger/pkg/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleCollateral() *models.CollateralLoan {
	due := start.AddDate(0, 6, 0)
	return &models.CollateralLoan{
		ID:                 uuid.New(),
		CustomerKey:        "cust_test",
		Metal:              models.MetalGold,
		PrincipalOriginal:  200000,
		PrincipalRemaining: 200000,
		Outstanding:        200000,
		MonthlyRatePct:     decimal.RequireFromString("1.75"),
		StartDate:          start,
		LastAccrualDate:    start,
		DueDate:            &due,
		Status:             models.StatusActive,
		Items: []models.CollateralItem{
			{ID: uuid.New(), Description: "necklace", Metal: models.MetalGold, WeightGrams: decimal.RequireFromString("31.104"), Purity: decimal.NewFromInt(22), DepositDate: start},
			{ID: uuid.New(), Description: "anklet", Metal: models.MetalSilver, WeightGrams: decimal.RequireFromString("55.5"), Purity: decimal.RequireFromString("92.5"), DepositDate: start},
		},
		CreatedAt: start,
		UpdatedAt: start,
	}
}

func sampleUnsecured() *models.UnsecuredLoan {
	next := start.AddDate(0, 1, 0)
	return &models.UnsecuredLoan{
		ID:                  uuid.New(),
		CounterpartyKey:     "party_test",
		Kind:                models.UnsecuredKindLoan,
		Direction:           models.DirectionTaken,
		PrincipalOriginal:   50000,
		PrincipalRemaining:  50000,
		MonthlyRatePct:      decimal.NewFromInt(2),
		TakenDate:           start,
		NextInterestDueDate: &next,
		Status:              models.StatusActive,
		CreatedAt:           start,
		UpdatedAt:           start,
	}
}

func TestSQLiteStore_CreateAndGetCollateralLoan(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	loan := sampleCollateral()

	require.NoError(t, s.CreateCollateralLoan(ctx, loan))
	assert.Equal(t, int64(1), loan.Version)

	fetched, err := s.GetCollateralLoan(ctx, loan.ID)
	require.NoError(t, err)

	assert.Equal(t, loan.CustomerKey, fetched.CustomerKey)
	assert.Equal(t, money.Money(200000), fetched.Outstanding)
	assert.True(t, fetched.MonthlyRatePct.Equal(loan.MonthlyRatePct))
	assert.True(t, fetched.StartDate.Equal(start))
	require.NotNil(t, fetched.DueDate)
	assert.True(t, fetched.DueDate.Equal(*loan.DueDate))
	assert.Nil(t, fetched.ClosedAt)
	require.Len(t, fetched.Items, 2)
	assert.Equal(t, "necklace", fetched.Items[0].Description)
	assert.True(t, fetched.Items[0].WeightGrams.Equal(decimal.RequireFromString("31.104")))
	assert.Equal(t, models.MetalSilver, fetched.Items[1].Metal)
	assert.False(t, fetched.Items[1].Returned())
	assert.Empty(t, fetched.Payments)
}

func TestSQLiteStore_GetMissingLoan(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetCollateralLoan(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrLoanNotFound)

	_, err = s.GetUnsecuredLoan(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestSQLiteStore_UpdateCollateralLoanPersistsReturnAndEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	loan := sampleCollateral()
	require.NoError(t, s.CreateCollateralLoan(ctx, loan))

	// GIVEN: A payment and an item return recorded on the loan
	// WHEN: The loan is updated
	// THEN: Entries, return details and the returned item survive a reload
	paidOn := start.AddDate(0, 0, 30)
	entryID := uuid.New()
	returnID := uuid.New()
	loan.PrincipalRemaining = 150000
	loan.Outstanding = 155000
	loan.LastAccrualDate = paidOn
	loan.Status = models.StatusPartiallyPaid
	loan.UpdatedAt = paidOn
	loan.Payments = append(loan.Payments,
		models.LedgerEntry{ID: entryID, LoanID: loan.ID, Kind: models.EntryPayment, Date: paidOn,
			PrincipalComponent: 50000, InterestComponent: 3500, Amount: 53500, OutstandingBefore: 208500,
			OutstandingAfter: 155000, Method: "upi", Status: models.EntryPosted, CreatedAt: paidOn},
		models.LedgerEntry{ID: returnID, LoanID: loan.ID, Kind: models.EntryItemReturn, Date: paidOn, Amount: 1000,
			OutstandingBefore: 155000, OutstandingAfter: 154000, ItemIDs: []uuid.UUID{loan.Items[1].ID},
			Return: &models.ReturnDetail{GrossReturn: 1200, ProcessingFee: 200, NetReturn: 1000},
			Status: models.EntryPosted, CreatedAt: paidOn},
	)
	loan.Items[1].ReturnDate = &paidOn
	loan.Items[1].ReturnedWeight = decimal.RequireFromString("55.5")
	loan.Items[1].ReturnValue = 1200
	loan.Items[1].VerifiedBy = "clerk"
	loan.Items[1].ReturnEntryID = &returnID

	require.NoError(t, s.UpdateCollateralLoan(ctx, loan))
	assert.Equal(t, int64(2), loan.Version)

	fetched, err := s.GetCollateralLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fetched.Version)
	assert.Equal(t, money.Money(155000), fetched.Outstanding)
	assert.Equal(t, models.StatusPartiallyPaid, fetched.Status)
	require.Len(t, fetched.Payments, 2)
	assert.Equal(t, entryID, fetched.Payments[0].ID)
	assert.Equal(t, "upi", fetched.Payments[0].Method)
	assert.Nil(t, fetched.Payments[0].Return)
	assert.Equal(t, []uuid.UUID{loan.Items[1].ID}, fetched.Payments[1].ItemIDs)
	require.NotNil(t, fetched.Payments[1].Return)
	assert.Equal(t, money.Money(200), fetched.Payments[1].Return.ProcessingFee)
	require.True(t, fetched.Items[1].Returned())
	assert.Equal(t, "clerk", fetched.Items[1].VerifiedBy)
	require.NotNil(t, fetched.Items[1].ReturnEntryID)
	assert.Equal(t, returnID, *fetched.Items[1].ReturnEntryID)

	// cancellation is the only change to a stored entry
	cancelledAt := paidOn.AddDate(0, 0, 1)
	fetched.Payments[0].Status = models.EntryCancelled
	fetched.Payments[0].CancelledAt = &cancelledAt
	fetched.Payments[0].CancelReason = "bounced"
	fetched.Payments[0].Amount = 1
	require.NoError(t, s.UpdateCollateralLoan(ctx, fetched))

	again, err := s.GetCollateralLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryCancelled, again.Payments[0].Status)
	assert.Equal(t, "bounced", again.Payments[0].CancelReason)
	assert.Equal(t, money.Money(53500), again.Payments[0].Amount)
}

func TestSQLiteStore_StaleUpdateRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	loan := sampleCollateral()
	require.NoError(t, s.CreateCollateralLoan(ctx, loan))

	first, err := s.GetCollateralLoan(ctx, loan.ID)
	require.NoError(t, err)
	second, err := s.GetCollateralLoan(ctx, loan.ID)
	require.NoError(t, err)

	first.Outstanding = 190000
	require.NoError(t, s.UpdateCollateralLoan(ctx, first))

	second.Outstanding = 180000
	err = s.UpdateCollateralLoan(ctx, second)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	fetched, err := s.GetCollateralLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Money(190000), fetched.Outstanding)

	missing := sampleCollateral()
	assert.ErrorIs(t, s.UpdateCollateralLoan(ctx, missing), ErrLoanNotFound)
}

func TestSQLiteStore_ListCollateralLoansFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	open := sampleCollateral()
	closed := sampleCollateral()
	closed.Status = models.StatusClosed
	other := sampleCollateral()
	other.CustomerKey = "someone_else"
	other.CreatedAt = start.Add(time.Hour)
	for _, l := range []*models.CollateralLoan{open, closed, other} {
		require.NoError(t, s.CreateCollateralLoan(ctx, l))
	}

	all, err := s.ListCollateralLoans(ctx, LoanFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for _, l := range all {
		assert.Len(t, l.Items, 2)
	}

	mine, err := s.ListCollateralLoans(ctx, LoanFilter{PartyKey: "cust_test"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	openOnly, err := s.ListCollateralLoans(ctx, LoanFilter{Statuses: []models.LoanStatus{models.StatusActive, models.StatusPartiallyPaid}})
	require.NoError(t, err)
	assert.Len(t, openOnly, 2)

	both, err := s.ListCollateralLoans(ctx, LoanFilter{PartyKey: "cust_test", Statuses: []models.LoanStatus{models.StatusClosed}})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, closed.ID, both[0].ID)
}

func TestSQLiteStore_UnsecuredRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	loan := sampleUnsecured()
	require.NoError(t, s.CreateUnsecuredLoan(ctx, loan))

	paidOn := start.AddDate(0, 0, 20)
	closedAt := paidOn
	loan.PrincipalRemaining = 0
	loan.Status = models.StatusClosed
	loan.ClosedAt = &closedAt
	loan.PaymentHistory = append(loan.PaymentHistory, models.LedgerEntry{
		ID: uuid.New(), LoanID: loan.ID, Kind: models.EntryPayment, Date: paidOn, PrincipalComponent: 50000,
		Amount: 50000, OutstandingBefore: 50667, OutstandingAfter: 667, Status: models.EntryPosted, CreatedAt: paidOn,
	})
	require.NoError(t, s.UpdateUnsecuredLoan(ctx, loan))

	fetched, err := s.GetUnsecuredLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionTaken, fetched.Direction)
	assert.Equal(t, models.StatusClosed, fetched.Status)
	require.NotNil(t, fetched.ClosedAt)
	assert.True(t, fetched.ClosedAt.Equal(paidOn))
	require.NotNil(t, fetched.NextInterestDueDate)
	assert.True(t, fetched.NextInterestDueDate.Equal(start.AddDate(0, 1, 0)))
	require.Len(t, fetched.PaymentHistory, 1)
	assert.Equal(t, money.Money(50000), fetched.PaymentHistory[0].PrincipalComponent)

	listed, err := s.ListUnsecuredLoans(ctx, LoanFilter{PartyKey: "party_test"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Len(t, listed[0].PaymentHistory, 1)

	stale := sampleUnsecured()
	stale.ID = loan.ID
	assert.ErrorIs(t, s.UpdateUnsecuredLoan(ctx, stale), ErrConcurrentModification)
}

func TestSQLiteStore_Transactions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	loanID := uuid.New()
	entryID := uuid.New()

	disbursed := &models.Transaction{ID: uuid.New(), LoanID: loanID, LoanKind: models.LoanKindCollateral,
		Amount: 100000, Direction: models.CashDebit, Category: models.CategoryDisbursement, Timestamp: start}
	paid := &models.Transaction{ID: uuid.New(), LoanID: loanID, EntryID: &entryID, LoanKind: models.LoanKindCollateral,
		Amount: 5000, Direction: models.CashCredit, Category: models.CategoryPayment, Timestamp: start.Add(time.Hour)}
	require.NoError(t, s.CreateTransaction(ctx, paid))
	require.NoError(t, s.CreateTransaction(ctx, disbursed))

	txs, err := s.GetTransactionsForLoan(ctx, loanID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, models.CategoryDisbursement, txs[0].Category)
	assert.Nil(t, txs[0].EntryID)
	assert.Equal(t, money.Money(5000), txs[1].Amount)
	require.NotNil(t, txs[1].EntryID)
	assert.Equal(t, entryID, *txs[1].EntryID)

	none, err := s.GetTransactionsForLoan(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_ReopenKeepsSchema(t *testing.T) {
	path := t.TempDir() + "/pledge.db"
	s, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	loan := sampleUnsecured()
	require.NoError(t, s.CreateUnsecuredLoan(context.Background(), loan))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.GetUnsecuredLoan(context.Background(), loan.ID)
	assert.NoError(t, err)
}
