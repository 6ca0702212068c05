package engine

import (
	"time"

	"github.com/mcclellann/pledgeLedger/pkg/models"
	"github.com/mcclellann/pledgeLedger/pkg/money"
)

// LedgerState is the slice of a loan the status machine looks at.
type LedgerState struct {
	Collateralized     bool
	PrincipalRemaining money.Money
	Outstanding        money.Money
	AllItemsReturned   bool
	AnyPosted          bool
}

// RecomputeStatus derives the stored status from ledger state. OVERDUE is
// never returned here; see DisplayStatus.
func RecomputeStatus(s LedgerState) models.LoanStatus {
	closed := s.PrincipalRemaining.Settled() && s.AllItemsReturned
	if s.Collateralized {
		closed = closed && s.Outstanding.Settled()
	}
	switch {
	case closed:
		return models.StatusClosed
	case s.AnyPosted:
		return models.StatusPartiallyPaid
	default:
		return models.StatusActive
	}
}

func CollateralState(l *models.CollateralLoan) LedgerState {
	return LedgerState{
		Collateralized:     true,
		PrincipalRemaining: l.PrincipalRemaining,
		Outstanding:        l.Outstanding,
		AllItemsReturned:   l.AllItemsReturned(),
		AnyPosted:          anyPosted(l.Payments),
	}
}

func UnsecuredState(l *models.UnsecuredLoan) LedgerState {
	return LedgerState{
		PrincipalRemaining: l.PrincipalRemaining,
		AllItemsReturned:   true,
		AnyPosted:          anyPosted(l.PaymentHistory),
	}
}

func anyPosted(entries []models.LedgerEntry) bool {
	for _, e := range entries {
		if e.Posted() {
			return true
		}
	}
	return false
}

// ReclassifyCollateral stores the recomputed status; the first transition to
// closed stamps ClosedAt with at.
func ReclassifyCollateral(l *models.CollateralLoan, at time.Time) models.LoanStatus {
	l.Status = RecomputeStatus(CollateralState(l))
	if l.Status == models.StatusClosed && l.ClosedAt == nil {
		l.ClosedAt = &at
	}
	return l.Status
}

func ReclassifyUnsecured(l *models.UnsecuredLoan, at time.Time) models.LoanStatus {
	l.Status = RecomputeStatus(UnsecuredState(l))
	if l.Status == models.StatusClosed && l.ClosedAt == nil {
		l.ClosedAt = &at
	}
	return l.Status
}

// DisplayStatus overlays OVERDUE on an open loan whose due date has passed.
// The stored status is left alone.
func DisplayStatus(status models.LoanStatus, due *time.Time, asOf time.Time) models.LoanStatus {
	if status == models.StatusClosed || due == nil {
		return status
	}
	if asOf.After(*due) {
		return models.StatusOverdue
	}
	return status
}

// OverdueDays counts whole days past due; zero when not yet due.
func OverdueDays(due *time.Time, asOf time.Time) int64 {
	if due == nil {
		return 0
	}
	if d := money.DaysBetween(*due, asOf); d > 0 {
		return d
	}
	return 0
}

// CollateralSnapshot is the read-only reminder view of a collateralized loan.
func CollateralSnapshot(l *models.CollateralLoan, asOf time.Time) models.ReminderSnapshot {
	return models.ReminderSnapshot{
		LoanID:        l.ID,
		LoanKind:      models.LoanKindCollateral,
		PartyKey:      l.CustomerKey,
		Outstanding:   OutstandingAsOf(l, asOf),
		NextDueDate:   l.DueDate,
		OverdueDays:   OverdueDays(l.DueDate, asOf),
		Status:        l.Status,
		DisplayStatus: DisplayStatus(l.Status, l.DueDate, asOf),
		AsOf:          asOf,
	}
}

// UnsecuredSnapshot uses the earlier of the interest due date and the loan
// due date as the next due date.
func UnsecuredSnapshot(l *models.UnsecuredLoan, asOf time.Time) models.ReminderSnapshot {
	next := earliest(l.NextInterestDueDate, l.DueDate)
	return models.ReminderSnapshot{
		LoanID:        l.ID,
		LoanKind:      models.LoanKindUnsecured,
		PartyKey:      l.CounterpartyKey,
		Outstanding:   CurrentOutstanding(l, asOf),
		NextDueDate:   next,
		OverdueDays:   OverdueDays(next, asOf),
		Status:        l.Status,
		DisplayStatus: DisplayStatus(l.Status, l.DueDate, asOf),
		AsOf:          asOf,
	}
}

func earliest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Before(*a):
		return b
	default:
		return a
	}
}
