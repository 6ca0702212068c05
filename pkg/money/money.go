// Package money holds the fixed-point amount and day arithmetic shared by the
// ledger engine. Amounts are integer minor units (paise); anything fractional
// is computed on shopspring/decimal and rounded half-up back to a Money.
package money

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units.
type Money int64

const Zero Money = 0

var (
	// Epsilon is the tolerance under which a balance counts as settled.
	Epsilon = decimal.New(1, -2)

	hundred = decimal.NewFromInt(100)
)

// FromDecimal rounds d half-up (away from zero) to the nearest minor unit.
func FromDecimal(d decimal.Decimal) Money {
	return Money(d.Round(0).IntPart())
}

// FromMajor converts a major-unit decimal such as "1250.50" rupees to paise.
func FromMajor(d decimal.Decimal) Money {
	return FromDecimal(d.Mul(hundred))
}

func (m Money) Decimal() decimal.Decimal { return decimal.NewFromInt(int64(m)) }
func (m Money) Int64() int64             { return int64(m) }
func (m Money) IsZero() bool             { return m == 0 }
func (m Money) IsPositive() bool         { return m > 0 }
func (m Money) IsNegative() bool         { return m < 0 }

// Settled reports whether |m| is within Epsilon of zero.
func (m Money) Settled() bool {
	return m.Decimal().Abs().LessThanOrEqual(Epsilon)
}

// String renders the amount in major units with two decimals.
func (m Money) String() string {
	return m.Decimal().Div(hundred).StringFixed(2)
}

func Max(a, b Money) Money {
	if a > b {
		return a
	}
	return b
}

func Min(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

// Sum adds amounts.
func Sum(ms ...Money) Money {
	var total Money
	for _, m := range ms {
		total += m
	}
	return total
}

const day = 24 * time.Hour

// DaysBetween returns floor((to - from) / 24h). Partial days never count and a
// negative interval floors towards minus infinity.
func DaysBetween(from, to time.Time) int64 {
	d := to.Sub(from)
	n := int64(d / day)
	if d < 0 && d%day != 0 {
		n--
	}
	return n
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts YYYY-MM-DD or RFC3339 and returns a UTC instant.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", s)
	}
	return t.UTC(), nil
}
