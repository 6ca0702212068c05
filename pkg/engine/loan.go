package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pledgeLedger/pkg/models"
	"github.com/mcclellann/pledgeLedger/pkg/money"
	"github.com/shopspring/decimal"
)

type ItemInput struct {
	Description string          `json:"description"`
	Metal       models.Metal    `json:"metal"`
	WeightGrams decimal.Decimal `json:"weight_grams"`
	Purity      decimal.Decimal `json:"purity"`
}

type CollateralLoanInput struct {
	CustomerKey    string
	Metal          models.Metal
	Principal      money.Money
	MonthlyRatePct decimal.Decimal
	StartDate      time.Time
	DueDate        *time.Time
	Items          []ItemInput
	CreatedAt      time.Time
}

// NewCollateralLoan builds an active loan with outstanding equal to principal
// and accrual starting at StartDate.
func NewCollateralLoan(in CollateralLoanInput) (*models.CollateralLoan, error) {
	if in.CustomerKey == "" {
		return nil, invalid("customer_key", "is required")
	}
	if in.Principal <= 0 {
		return nil, invalid("principal", "must be positive")
	}
	if in.MonthlyRatePct.IsNegative() {
		return nil, invalid("monthly_rate_pct", "must not be negative")
	}
	if in.StartDate.IsZero() {
		return nil, invalid("start_date", "is required")
	}
	if in.DueDate != nil && in.DueDate.Before(in.StartDate) {
		return nil, invalid("due_date", "is before start date")
	}
	if len(in.Items) == 0 {
		return nil, invalid("items", "at least one collateral item is required")
	}
	metal := in.Metal
	if metal == "" {
		metal = models.MetalGold
	}

	loanID := uuid.New()
	items := make([]models.CollateralItem, 0, len(in.Items))
	for i, it := range in.Items {
		if !it.WeightGrams.IsPositive() {
			return nil, invalid("items", "item %d weight must be positive", i)
		}
		if it.Purity.IsNegative() {
			return nil, invalid("items", "item %d purity must not be negative", i)
		}
		itemMetal := it.Metal
		if itemMetal == "" {
			itemMetal = metal
		}
		items = append(items, models.CollateralItem{
			ID:          uuid.New(),
			Description: it.Description,
			Metal:       itemMetal,
			WeightGrams: it.WeightGrams,
			Purity:      it.Purity,
			DepositDate: in.StartDate,
		})
	}

	created := in.CreatedAt
	if created.IsZero() {
		created = in.StartDate
	}
	return &models.CollateralLoan{
		ID:                 loanID,
		CustomerKey:        in.CustomerKey,
		Metal:              metal,
		PrincipalOriginal:  in.Principal,
		PrincipalRemaining: in.Principal,
		Outstanding:        in.Principal,
		MonthlyRatePct:     in.MonthlyRatePct,
		StartDate:          in.StartDate,
		LastAccrualDate:    in.StartDate,
		DueDate:            in.DueDate,
		Status:             models.StatusActive,
		Items:              items,
		CreatedAt:          created,
		UpdatedAt:          created,
	}, nil
}

type UnsecuredLoanInput struct {
	CounterpartyKey string
	Kind            models.UnsecuredKind
	Direction       models.Direction
	Principal       money.Money
	MonthlyRatePct  decimal.Decimal
	TakenDate       time.Time
	DueDate         *time.Time
	CreatedAt       time.Time
}

// NewUnsecuredLoan builds an active loan. Interest-bearing loans get their
// first interest due date one month after TakenDate.
func NewUnsecuredLoan(in UnsecuredLoanInput) (*models.UnsecuredLoan, error) {
	if in.CounterpartyKey == "" {
		return nil, invalid("counterparty_key", "is required")
	}
	if in.Principal <= 0 {
		return nil, invalid("principal", "must be positive")
	}
	if in.MonthlyRatePct.IsNegative() {
		return nil, invalid("monthly_rate_pct", "must not be negative")
	}
	if in.TakenDate.IsZero() {
		return nil, invalid("taken_date", "is required")
	}
	if in.DueDate != nil && in.DueDate.Before(in.TakenDate) {
		return nil, invalid("due_date", "is before taken date")
	}
	kind := in.Kind
	if kind == "" {
		kind = models.UnsecuredKindLoan
	}
	if kind != models.UnsecuredKindLoan && kind != models.UnsecuredKindUdhar {
		return nil, invalid("kind", "unknown kind %q", kind)
	}
	if kind == models.UnsecuredKindUdhar && !in.MonthlyRatePct.IsZero() {
		return nil, invalid("monthly_rate_pct", "udhar carries no interest")
	}
	dir := in.Direction
	if dir == "" {
		dir = models.DirectionGiven
	}
	if dir != models.DirectionGiven && dir != models.DirectionTaken {
		return nil, invalid("direction", "unknown direction %q", dir)
	}

	var nextDue *time.Time
	if in.MonthlyRatePct.IsPositive() {
		next := in.TakenDate.AddDate(0, 1, 0)
		nextDue = &next
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = in.TakenDate
	}
	return &models.UnsecuredLoan{
		ID:                  uuid.New(),
		CounterpartyKey:     in.CounterpartyKey,
		Kind:                kind,
		Direction:           dir,
		PrincipalOriginal:   in.Principal,
		PrincipalRemaining:  in.Principal,
		MonthlyRatePct:      in.MonthlyRatePct,
		TakenDate:           in.TakenDate,
		DueDate:             in.DueDate,
		NextInterestDueDate: nextDue,
		Status:              models.StatusActive,
		CreatedAt:           created,
		UpdatedAt:           created,
	}, nil
}

// nextInterestDue returns the first monthly anniversary of taken strictly
// after paidOn.
func nextInterestDue(taken, paidOn time.Time) time.Time {
	for months := 1; ; months++ {
		candidate := taken.AddDate(0, months, 0)
		if candidate.After(paidOn) {
			return candidate
		}
	}
}
