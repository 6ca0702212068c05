package engine

import (
	"time"

	"github.com/mcclellann/pledgeLedger/pkg/models"
	"github.com/mcclellann/pledgeLedger/pkg/money"
	"github.com/shopspring/decimal"
)

const (
	// A month is taken to be exactly 30 days for rate conversion.
	daysPerMonth = 30

	// factorPlaces bounds every intermediate product while compounding so the
	// result is reproducible independent of how many squarings ran.
	factorPlaces = 24
)

var (
	one         = decimal.NewFromInt(1)
	rateDivisor = decimal.NewFromInt(daysPerMonth * 100)
)

// DailyRate converts a monthly percentage into a daily fraction: pct / 30 / 100.
func DailyRate(monthlyRatePct decimal.Decimal) decimal.Decimal {
	return monthlyRatePct.DivRound(rateDivisor, factorPlaces)
}

// compoundFactor returns (1 + rate)^days by exponentiation by squaring.
func compoundFactor(rate decimal.Decimal, days int64) decimal.Decimal {
	result := one
	base := one.Add(rate)
	for n := days; n > 0; n >>= 1 {
		if n&1 == 1 {
			result = result.Mul(base).Round(factorPlaces)
		}
		if n > 1 {
			base = base.Mul(base).Round(factorPlaces)
		}
	}
	return result
}

// OutstandingAsOf returns what a collateralized loan owes at date, compounding
// daily from LastAccrualDate. It does not modify the loan. Whole days only; a
// date at or before LastAccrualDate returns Outstanding unchanged.
func OutstandingAsOf(loan *models.CollateralLoan, date time.Time) money.Money {
	days := money.DaysBetween(loan.LastAccrualDate, date)
	if days <= 0 || loan.Outstanding <= 0 || !loan.MonthlyRatePct.IsPositive() {
		return loan.Outstanding
	}
	factor := compoundFactor(DailyRate(loan.MonthlyRatePct), days)
	return money.FromDecimal(loan.Outstanding.Decimal().Mul(factor))
}

// AccrueTo brings the loan's outstanding balance current as of date. It is the
// only function that moves LastAccrualDate, and calling it twice with the same
// date charges once. Back-dated calls change nothing.
func AccrueTo(loan *models.CollateralLoan, date time.Time) money.Money {
	if money.DaysBetween(loan.LastAccrualDate, date) <= 0 {
		return 0
	}
	before := loan.Outstanding
	loan.Outstanding = OutstandingAsOf(loan, date)
	loan.LastAccrualDate = date
	return loan.Outstanding - before
}

// UnpaidInterest is the capitalized interest portion of a collateralized
// loan's outstanding balance as of date.
func UnpaidInterest(loan *models.CollateralLoan, date time.Time) money.Money {
	return money.Max(0, OutstandingAsOf(loan, date)-loan.PrincipalRemaining)
}
