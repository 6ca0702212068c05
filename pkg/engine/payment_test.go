package engine

import (
	"testing"
	"time"

	"github.com/mcclellann/pledgeLedger/pkg/models"
	"github.com/mcclellann/pledgeLedger/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandLoan(t *testing.T, principal money.Money, rate string, kind models.UnsecuredKind) *models.UnsecuredLoan {
	t.Helper()
	loan, err := NewUnsecuredLoan(UnsecuredLoanInput{
		CounterpartyKey: "party-1",
		Kind:            kind,
		Direction:       models.DirectionGiven,
		Principal:       principal,
		MonthlyRatePct:  pct(rate),
		TakenDate:       epoch,
	})
	require.NoError(t, err)
	return loan
}

// =============================================================================
// COLLATERAL PAYMENTS
// =============================================================================

func TestApplyCollateralPayment_SplitsPrincipalAndInterest(t *testing.T) {
	// GIVEN: 1000.00 at 2% with 20.19 interest accrued by day 30
	// WHEN: Paying 20.19 interest and 500.00 principal on day 30
	// THEN: Both balances drop and the entry records the before/after outstanding
	loan := newPledge(t, 100000, "2")

	entry, err := ApplyCollateralPayment(loan, PaymentRequest{
		PrincipalComponent: 50000,
		InterestComponent:  2019,
		Date:               day(30),
		Method:             "cash",
	})
	require.NoError(t, err)

	assert.Equal(t, money.Money(50000), loan.PrincipalRemaining)
	assert.Equal(t, money.Money(50000), loan.Outstanding)
	assert.Equal(t, day(30), loan.LastAccrualDate)
	assert.Equal(t, models.StatusPartiallyPaid, loan.Status)
	assert.Equal(t, money.Money(102019), entry.OutstandingBefore)
	assert.Equal(t, money.Money(50000), entry.OutstandingAfter)
	assert.Equal(t, money.Money(52019), entry.Amount)
	assert.Equal(t, models.EntryPayment, entry.Kind)
	assert.Equal(t, day(30), entry.CreatedAt)
	require.Len(t, loan.Payments, 1)
	assert.Equal(t, entry.ID, loan.Payments[0].ID)
}

func TestApplyCollateralPayment_OverpaymentRejectedWithoutMutation(t *testing.T) {
	loan := newPledge(t, 100000, "2")
	before := loan.Clone()

	_, err := ApplyCollateralPayment(loan, PaymentRequest{PrincipalComponent: 100001, Date: day(30)})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.True(t, IsClientError(err))
	assert.Equal(t, before, loan)
}

func TestApplyCollateralPayment_InterestAboveUnpaidRejected(t *testing.T) {
	loan := newPledge(t, 100000, "2")
	before := loan.Clone()

	_, err := ApplyCollateralPayment(loan, PaymentRequest{InterestComponent: 2020, Date: day(30)})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "interest_component", verr.Field)
	assert.Equal(t, before, loan)
}

func TestApplyCollateralPayment_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   PaymentRequest
		field string
	}{
		{"negative principal", PaymentRequest{PrincipalComponent: -1, Date: day(1)}, "principal_component"},
		{"negative interest", PaymentRequest{PrincipalComponent: 1, InterestComponent: -1, Date: day(1)}, "interest_component"},
		{"both zero", PaymentRequest{Date: day(1)}, "amount"},
		{"missing date", PaymentRequest{PrincipalComponent: 1}, "date"},
		{"before start", PaymentRequest{PrincipalComponent: 1, Date: day(-2)}, "date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loan := newPledge(t, 100000, "2")
			before := loan.Clone()

			_, err := ApplyCollateralPayment(loan, tt.req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, before, loan)
		})
	}
}

func TestApplyCollateralPayment_ClosedLoanRejected(t *testing.T) {
	loan := newPledge(t, 100000, "0")
	loan.Status = models.StatusClosed

	_, err := ApplyCollateralPayment(loan, PaymentRequest{PrincipalComponent: 1, Date: day(1)})

	assert.ErrorIs(t, err, ErrInvalidState)
	assert.True(t, IsConflict(err))
}

func TestApplyCollateralPayment_RecordedAtKept(t *testing.T) {
	loan := newPledge(t, 100000, "0")
	recorded := day(3).Add(5 * time.Hour)

	entry, err := ApplyCollateralPayment(loan, PaymentRequest{PrincipalComponent: 1000, Date: day(1), RecordedAt: recorded})
	require.NoError(t, err)

	assert.Equal(t, recorded, entry.CreatedAt)
	assert.Equal(t, day(1), entry.Date)
}

func TestApplyCollateralPayment_BalancesNeverNegative(t *testing.T) {
	loan := newPledge(t, 100000, "3")
	for d := 10; d <= 50; d += 10 {
		unpaid := UnpaidInterest(loan, day(d))
		p := money.Min(loan.PrincipalRemaining, 20000)
		_, err := ApplyCollateralPayment(loan, PaymentRequest{PrincipalComponent: p, InterestComponent: unpaid, Date: day(d)})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, int64(loan.PrincipalRemaining), int64(0))
		assert.GreaterOrEqual(t, int64(loan.Outstanding), int64(loan.PrincipalRemaining))
	}
	assert.Equal(t, money.Zero, loan.PrincipalRemaining)
	assert.Equal(t, money.Zero, loan.Outstanding)
	// items are still pledged, so the loan stays open
	assert.Equal(t, models.StatusPartiallyPaid, loan.Status)
}

// =============================================================================
// UNSECURED PAYMENTS AND SIMPLE INTEREST
// =============================================================================

func TestAccruedInterest_SegmentsAroundPrincipalPayment(t *testing.T) {
	// GIVEN: 5000.00 at 2% a month
	// WHEN: 2000.00 principal is repaid on day 15
	// THEN: Day 30 interest is 50.00 on the first half plus 30.00 on the second
	loan := newHandLoan(t, 500000, "2", models.UnsecuredKindLoan)
	_, err := ApplyUnsecuredPayment(loan, PaymentRequest{PrincipalComponent: 200000, Date: day(15)})
	require.NoError(t, err)

	assert.Equal(t, money.Money(8000), AccruedInterest(loan, day(30)))
	assert.Equal(t, money.Money(5000), AccruedInterest(loan, day(15)))
	assert.Equal(t, money.Money(300000), loan.PrincipalRemaining)
	assert.Equal(t, money.Money(308000), CurrentOutstanding(loan, day(30)))
}

func TestAccruedInterest_IgnoresFutureAndCancelledEntries(t *testing.T) {
	loan := newHandLoan(t, 500000, "2", models.UnsecuredKindLoan)
	first, err := ApplyUnsecuredPayment(loan, PaymentRequest{PrincipalComponent: 100000, Date: day(10)})
	require.NoError(t, err)
	_, err = ApplyUnsecuredPayment(loan, PaymentRequest{PrincipalComponent: 100000, Date: day(40)})
	require.NoError(t, err)

	_, err = CancelUnsecuredEntry(loan, first.ID, day(41), "bounced cheque")
	require.NoError(t, err)

	// full principal for 30 days; the day 40 payment is after asOf
	assert.Equal(t, money.Money(10000), AccruedInterest(loan, day(30)))
	assert.Equal(t, money.Money(400000), loan.PrincipalRemaining)
}

func TestAccruedInterest_ZeroRate(t *testing.T) {
	loan := newHandLoan(t, 500000, "0", models.UnsecuredKindUdhar)

	assert.Equal(t, money.Zero, AccruedInterest(loan, day(400)))
	assert.Nil(t, loan.NextInterestDueDate)
}

func TestApplyUnsecuredPayment_InterestAdvancesNextDueDate(t *testing.T) {
	loan := newHandLoan(t, 300000, "2", models.UnsecuredKindLoan)
	require.NotNil(t, loan.NextInterestDueDate)
	assert.Equal(t, epoch.AddDate(0, 1, 0), *loan.NextInterestDueDate)

	entry, err := ApplyUnsecuredPayment(loan, PaymentRequest{InterestComponent: 6200, Date: day(31)})
	require.NoError(t, err)

	assert.Equal(t, epoch.AddDate(0, 2, 0), *loan.NextInterestDueDate)
	assert.Equal(t, money.Money(306200), entry.OutstandingBefore)
	assert.Equal(t, money.Money(300000), entry.OutstandingAfter)
	assert.Equal(t, money.Money(6200), InterestPaid(loan, day(31)))
	assert.Equal(t, money.Zero, UnsecuredUnpaidInterest(loan, day(31)))
	assert.Equal(t, money.Money(300000), loan.PrincipalRemaining)
}

func TestApplyUnsecuredPayment_InterestOverpaymentRejected(t *testing.T) {
	loan := newHandLoan(t, 300000, "2", models.UnsecuredKindLoan)
	before := loan.Clone()

	_, err := ApplyUnsecuredPayment(loan, PaymentRequest{InterestComponent: 6001, Date: day(30)})

	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, before, loan)
}

func TestApplyUnsecuredPayment_BackDatedEntryCountsLaterPayments(t *testing.T) {
	// GIVEN: 5000.00 at 2% with a full month of interest (100.00) paid on day 30
	// WHEN: Further entries are back-dated to day 15
	// THEN: Anything that leaves interest paid above interest accrued is rejected
	tests := []struct {
		name  string
		req   PaymentRequest
		field string
	}{
		{"interest already covered by the later payment", PaymentRequest{InterestComponent: 5000, Date: day(15)}, "interest_component"},
		{"principal that shrinks the accrual below what was paid", PaymentRequest{PrincipalComponent: 200000, Date: day(15)}, "principal_component"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loan := newHandLoan(t, 500000, "2", models.UnsecuredKindLoan)
			_, err := ApplyUnsecuredPayment(loan, PaymentRequest{InterestComponent: 10000, Date: day(30)})
			require.NoError(t, err)
			before := loan.Clone()

			_, err = ApplyUnsecuredPayment(loan, tt.req)

			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, before, loan)
			assert.Equal(t, money.Money(500000), CurrentOutstanding(loan, day(30)))
		})
	}
}

func TestApplyUnsecuredPayment_BackDatedPrincipalWithinAccrualAccepted(t *testing.T) {
	loan := newHandLoan(t, 500000, "2", models.UnsecuredKindLoan)
	_, err := ApplyUnsecuredPayment(loan, PaymentRequest{InterestComponent: 5000, Date: day(30)})
	require.NoError(t, err)

	_, err = ApplyUnsecuredPayment(loan, PaymentRequest{PrincipalComponent: 100000, Date: day(15)})
	require.NoError(t, err)

	// 50.00 on 5000.00 for 15 days, then 40.00 on 4000.00
	assert.Equal(t, money.Money(9000), AccruedInterest(loan, day(30)))
	assert.Equal(t, money.Money(404000), CurrentOutstanding(loan, day(30)))
}

func TestApplyUnsecuredPayment_ClosesOnPrincipalAlone(t *testing.T) {
	// GIVEN: An interest-bearing hand loan with unpaid interest
	// WHEN: The full principal is repaid
	// THEN: The loan closes even though interest is still owed
	loan := newHandLoan(t, 100000, "2", models.UnsecuredKindLoan)

	_, err := ApplyUnsecuredPayment(loan, PaymentRequest{PrincipalComponent: 100000, Date: day(20)})
	require.NoError(t, err)

	assert.Equal(t, models.StatusClosed, loan.Status)
	require.NotNil(t, loan.ClosedAt)
	assert.Equal(t, day(20), *loan.ClosedAt)

	_, err = ApplyUnsecuredPayment(loan, PaymentRequest{InterestComponent: 1, Date: day(21)})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestTotalPaid(t *testing.T) {
	entries := []models.LedgerEntry{
		{PrincipalComponent: 100, InterestComponent: 10, Status: models.EntryPosted},
		{PrincipalComponent: 200, InterestComponent: 20, Status: models.EntryCancelled},
		{PrincipalComponent: 300, InterestComponent: 30, Status: models.EntryPosted},
	}

	p, i := TotalPaid(entries)

	assert.Equal(t, money.Money(400), p)
	assert.Equal(t, money.Money(40), i)
}

// =============================================================================
// LOAN CREATION
// =============================================================================

func TestNewUnsecuredLoan_UdharWithRateRejected(t *testing.T) {
	_, err := NewUnsecuredLoan(UnsecuredLoanInput{
		CounterpartyKey: "p",
		Kind:            models.UnsecuredKindUdhar,
		Principal:       1000,
		MonthlyRatePct:  pct("1"),
		TakenDate:       epoch,
	})

	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewCollateralLoan_Validation(t *testing.T) {
	valid := func() CollateralLoanInput {
		return CollateralLoanInput{
			CustomerKey:    "c",
			Principal:      1000,
			MonthlyRatePct: pct("2"),
			StartDate:      epoch,
			Items:          []ItemInput{{WeightGrams: pct("1")}},
		}
	}
	tests := []struct {
		name   string
		mutate func(*CollateralLoanInput)
	}{
		{"no customer", func(in *CollateralLoanInput) { in.CustomerKey = "" }},
		{"zero principal", func(in *CollateralLoanInput) { in.Principal = 0 }},
		{"negative rate", func(in *CollateralLoanInput) { in.MonthlyRatePct = pct("-1") }},
		{"no items", func(in *CollateralLoanInput) { in.Items = nil }},
		{"weightless item", func(in *CollateralLoanInput) { in.Items[0].WeightGrams = pct("0") }},
		{"due before start", func(in *CollateralLoanInput) { d := day(-1); in.DueDate = &d }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			tt.mutate(&in)
			_, err := NewCollateralLoan(in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	loan, err := NewCollateralLoan(valid())
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, loan.Status)
	assert.Equal(t, models.MetalGold, loan.Items[0].Metal)
	assert.Equal(t, loan.PrincipalOriginal, loan.Outstanding)
}
