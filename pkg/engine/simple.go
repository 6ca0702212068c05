package engine

import (
	"sort"
	"time"

	"github.com/mcclellann/pledgeLedger/pkg/models"
	"github.com/mcclellann/pledgeLedger/pkg/money"
	"github.com/shopspring/decimal"
)

type principalEvent struct {
	at        time.Time
	principal money.Money
}

// AccruedInterest replays the principal-reducing payments of an unsecured loan
// up to asOf and sums simple interest segment by segment. Each segment is the
// half-open interval [cursor, event), so the day a payment lands on accrues on
// the reduced principal. Nothing on the loan is modified.
func AccruedInterest(loan *models.UnsecuredLoan, asOf time.Time) money.Money {
	if loan.PrincipalOriginal <= 0 || !loan.MonthlyRatePct.IsPositive() {
		return 0
	}

	var events []principalEvent
	for _, e := range loan.PaymentHistory {
		if !e.Posted() || e.PrincipalComponent <= 0 || e.Date.After(asOf) {
			continue
		}
		events = append(events, principalEvent{at: e.Date, principal: e.PrincipalComponent})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].at.Before(events[j].at) })
	events = append(events, principalEvent{at: asOf})

	var (
		total     money.Money
		principal = loan.PrincipalOriginal
		cursor    = loan.TakenDate
	)
	for _, ev := range events {
		if days := money.DaysBetween(cursor, ev.at); days > 0 && principal > 0 {
			total += segmentInterest(principal, loan.MonthlyRatePct, days)
		}
		principal = money.Max(0, principal-ev.principal)
		if ev.at.After(cursor) {
			cursor = ev.at
		}
	}
	return total
}

// segmentInterest is round_half_up(principal * pct * days / 3000).
func segmentInterest(principal money.Money, monthlyRatePct decimal.Decimal, days int64) money.Money {
	interest := principal.Decimal().
		Mul(monthlyRatePct).
		Mul(decimal.NewFromInt(days)).
		Div(rateDivisor)
	return money.FromDecimal(interest)
}

// InterestPaid sums posted interest components dated on or before asOf.
func InterestPaid(loan *models.UnsecuredLoan, asOf time.Time) money.Money {
	var total money.Money
	for _, e := range loan.PaymentHistory {
		if e.Posted() && !e.Date.After(asOf) {
			total += e.InterestComponent
		}
	}
	return total
}

// UnsecuredUnpaidInterest is the interest accrued but not yet paid as of asOf.
func UnsecuredUnpaidInterest(loan *models.UnsecuredLoan, asOf time.Time) money.Money {
	return AccruedInterest(loan, asOf) - InterestPaid(loan, asOf)
}

// CurrentOutstanding is principalRemaining + accrued interest - interest paid.
func CurrentOutstanding(loan *models.UnsecuredLoan, asOf time.Time) money.Money {
	return loan.PrincipalRemaining + UnsecuredUnpaidInterest(loan, asOf)
}

// TotalPaid sums principal and interest over posted entries.
func TotalPaid(entries []models.LedgerEntry) (principal, interest money.Money) {
	for _, e := range entries {
		if e.Posted() {
			principal += e.PrincipalComponent
			interest += e.InterestComponent
		}
	}
	return principal, interest
}
