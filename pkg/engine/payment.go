package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pledgeLedger/pkg/models"
	"github.com/mcclellann/pledgeLedger/pkg/money"
)

// PaymentRequest is one cash settlement against a loan. Date is the effective
// date the payment accrues to; RecordedAt defaults to Date.
type PaymentRequest struct {
	PrincipalComponent money.Money
	InterestComponent  money.Money
	Date               time.Time
	Method             string
	Reference          string
	Notes              string
	RecordedAt         time.Time
}

func (r PaymentRequest) validate(start time.Time) error {
	if r.PrincipalComponent < 0 {
		return invalid("principal_component", "must not be negative")
	}
	if r.InterestComponent < 0 {
		return invalid("interest_component", "must not be negative")
	}
	if r.PrincipalComponent == 0 && r.InterestComponent == 0 {
		return invalid("amount", "principal and interest components are both zero")
	}
	if r.Date.IsZero() {
		return invalid("date", "is required")
	}
	if money.DaysBetween(start, r.Date) < 0 {
		return invalid("date", "is before the loan started")
	}
	return nil
}

func (r PaymentRequest) recordedAt() time.Time {
	if r.RecordedAt.IsZero() {
		return r.Date
	}
	return r.RecordedAt
}

// ApplyCollateralPayment accrues the loan to the payment date, applies the
// payment, appends the ledger entry and reclassifies status. The loan is only
// modified when every check passes.
func ApplyCollateralPayment(loan *models.CollateralLoan, req PaymentRequest) (*models.LedgerEntry, error) {
	if loan.Status == models.StatusClosed {
		return nil, &InvalidStateError{LoanID: loan.ID, Status: loan.Status, Op: "apply payment to"}
	}
	if err := req.validate(loan.StartDate); err != nil {
		return nil, err
	}

	next := loan.Clone()
	AccrueTo(next, req.Date)

	if req.PrincipalComponent > next.PrincipalRemaining {
		return nil, invalid("principal_component", "%s exceeds remaining principal %s",
			req.PrincipalComponent, next.PrincipalRemaining)
	}
	if unpaid := next.Outstanding - next.PrincipalRemaining; req.InterestComponent > unpaid {
		return nil, invalid("interest_component", "%s exceeds unpaid interest %s", req.InterestComponent, unpaid)
	}

	before := next.Outstanding
	paid := req.PrincipalComponent + req.InterestComponent
	next.PrincipalRemaining -= req.PrincipalComponent
	next.Outstanding -= paid

	entry := models.LedgerEntry{
		ID:                 uuid.New(),
		LoanID:             loan.ID,
		Kind:               models.EntryPayment,
		Date:               req.Date,
		PrincipalComponent: req.PrincipalComponent,
		InterestComponent:  req.InterestComponent,
		Amount:             paid,
		OutstandingBefore:  before,
		OutstandingAfter:   money.Max(0, before-paid),
		Method:             req.Method,
		Reference:          req.Reference,
		Notes:              req.Notes,
		Status:             models.EntryPosted,
		CreatedAt:          req.recordedAt(),
	}
	next.Payments = append(next.Payments, entry)
	ReclassifyCollateral(next, req.Date)

	if err := checkCollateral(next); err != nil {
		return nil, err
	}
	*loan = *next
	return &entry, nil
}

// ApplyUnsecuredPayment applies a payment to a loan whose interest is derived
// from its history. Principal reduces PrincipalRemaining; interest is recorded
// on the entry and counted by InterestPaid.
func ApplyUnsecuredPayment(loan *models.UnsecuredLoan, req PaymentRequest) (*models.LedgerEntry, error) {
	if loan.Status == models.StatusClosed {
		return nil, &InvalidStateError{LoanID: loan.ID, Status: loan.Status, Op: "apply payment to"}
	}
	if err := req.validate(loan.TakenDate); err != nil {
		return nil, err
	}
	if req.PrincipalComponent > loan.PrincipalRemaining {
		return nil, invalid("principal_component", "%s exceeds remaining principal %s",
			req.PrincipalComponent, loan.PrincipalRemaining)
	}
	unpaid := UnsecuredUnpaidInterest(loan, req.Date)
	if req.InterestComponent > money.Max(0, unpaid) {
		return nil, invalid("interest_component", "%s exceeds unpaid interest %s", req.InterestComponent, unpaid)
	}

	next := loan.Clone()
	before := next.PrincipalRemaining + unpaid
	paid := req.PrincipalComponent + req.InterestComponent
	next.PrincipalRemaining -= req.PrincipalComponent

	entry := models.LedgerEntry{
		ID:                 uuid.New(),
		LoanID:             loan.ID,
		Kind:               models.EntryPayment,
		Date:               req.Date,
		PrincipalComponent: req.PrincipalComponent,
		InterestComponent:  req.InterestComponent,
		Amount:             paid,
		OutstandingBefore:  before,
		OutstandingAfter:   money.Max(0, before-paid),
		Method:             req.Method,
		Reference:          req.Reference,
		Notes:              req.Notes,
		Status:             models.EntryPosted,
		CreatedAt:          req.recordedAt(),
	}
	next.PaymentHistory = append(next.PaymentHistory, entry)

	// A back-dated entry must also fit against payments already posted after
	// its date: interest paid to date never exceeds interest accrued.
	latest := latestEntryDate(next.PaymentHistory, req.Date)
	if over := InterestPaid(next, latest) - AccruedInterest(next, latest); over > 0 {
		if req.InterestComponent > 0 {
			return nil, invalid("interest_component", "%s exceeds unpaid interest %s counting later payments",
				req.InterestComponent, money.Max(0, req.InterestComponent-over))
		}
		return nil, invalid("principal_component", "leaves interest paid %s above interest accrued as of %s",
			over, latest.Format("2006-01-02"))
	}

	if req.InterestComponent > 0 && next.NextInterestDueDate != nil && !next.NextInterestDueDate.After(req.Date) {
		due := nextInterestDue(next.TakenDate, req.Date)
		next.NextInterestDueDate = &due
	}
	ReclassifyUnsecured(next, req.Date)

	if err := checkUnsecured(next); err != nil {
		return nil, err
	}
	*loan = *next
	return &entry, nil
}

// latestEntryDate returns the later of at and every posted entry date.
func latestEntryDate(entries []models.LedgerEntry, at time.Time) time.Time {
	latest := at
	for _, e := range entries {
		if e.Posted() && e.Date.After(latest) {
			latest = e.Date
		}
	}
	return latest
}

func checkCollateral(l *models.CollateralLoan) error {
	if l.PrincipalRemaining < 0 && !l.PrincipalRemaining.Settled() {
		return &PrecisionError{Field: "principal_remaining", Value: l.PrincipalRemaining}
	}
	if l.Outstanding < 0 && !l.Outstanding.Settled() {
		return &PrecisionError{Field: "outstanding", Value: l.Outstanding}
	}
	if l.Outstanding < l.PrincipalRemaining {
		return &PrecisionError{Field: "outstanding", Value: l.Outstanding}
	}
	return nil
}

func checkUnsecured(l *models.UnsecuredLoan) error {
	if l.PrincipalRemaining < 0 && !l.PrincipalRemaining.Settled() {
		return &PrecisionError{Field: "principal_remaining", Value: l.PrincipalRemaining}
	}
	return nil
}
