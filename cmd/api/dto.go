package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mcclellann/pledgeLedger/pkg/engine"
	"github.com/mcclellann/pledgeLedger/pkg/models"
	"github.com/mcclellann/pledgeLedger/pkg/money"
	"github.com/shopspring/decimal"
)

// Amounts on the wire are integer paise; dates are YYYY-MM-DD or RFC3339.

type itemRequest struct {
	Description string          `json:"description" validate:"required,max=256"`
	Metal       string          `json:"metal" validate:"omitempty,oneof=gold silver"`
	WeightGrams decimal.Decimal `json:"weight_grams"`
	Purity      decimal.Decimal `json:"purity"`
}

type createCollateralLoanRequest struct {
	CustomerKey    string          `json:"customer_key" validate:"required,max=128"`
	Metal          string          `json:"metal" validate:"omitempty,oneof=gold silver"`
	Principal      int64           `json:"principal" validate:"gt=0"`
	MonthlyRatePct decimal.Decimal `json:"monthly_rate_pct"`
	StartDate      string          `json:"start_date" validate:"required"`
	DueDate        string          `json:"due_date"`
	Items          []itemRequest   `json:"items" validate:"required,min=1,dive"`
}

func (r createCollateralLoanRequest) input() (engine.CollateralLoanInput, error) {
	start, err := money.ParseDate(r.StartDate)
	if err != nil {
		return engine.CollateralLoanInput{}, fieldError("start_date", err)
	}
	due, err := optionalDate("due_date", r.DueDate)
	if err != nil {
		return engine.CollateralLoanInput{}, err
	}
	items := make([]engine.ItemInput, len(r.Items))
	for i, it := range r.Items {
		items[i] = engine.ItemInput{
			Description: it.Description,
			Metal:       models.Metal(it.Metal),
			WeightGrams: it.WeightGrams,
			Purity:      it.Purity,
		}
	}
	return engine.CollateralLoanInput{
		CustomerKey:    r.CustomerKey,
		Metal:          models.Metal(r.Metal),
		Principal:      money.Money(r.Principal),
		MonthlyRatePct: r.MonthlyRatePct,
		StartDate:      start,
		DueDate:        due,
		Items:          items,
	}, nil
}

type createUnsecuredLoanRequest struct {
	CounterpartyKey string          `json:"counterparty_key" validate:"required,max=128"`
	Kind            string          `json:"kind" validate:"omitempty,oneof=loan udhar"`
	Direction       string          `json:"direction" validate:"omitempty,oneof=given taken"`
	Principal       int64           `json:"principal" validate:"gt=0"`
	MonthlyRatePct  decimal.Decimal `json:"monthly_rate_pct"`
	TakenDate       string          `json:"taken_date" validate:"required"`
	DueDate         string          `json:"due_date"`
}

func (r createUnsecuredLoanRequest) input() (engine.UnsecuredLoanInput, error) {
	taken, err := money.ParseDate(r.TakenDate)
	if err != nil {
		return engine.UnsecuredLoanInput{}, fieldError("taken_date", err)
	}
	due, err := optionalDate("due_date", r.DueDate)
	if err != nil {
		return engine.UnsecuredLoanInput{}, err
	}
	return engine.UnsecuredLoanInput{
		CounterpartyKey: r.CounterpartyKey,
		Kind:            models.UnsecuredKind(r.Kind),
		Direction:       models.Direction(r.Direction),
		Principal:       money.Money(r.Principal),
		MonthlyRatePct:  r.MonthlyRatePct,
		TakenDate:       taken,
		DueDate:         due,
	}, nil
}

type paymentRequest struct {
	PrincipalComponent int64  `json:"principal_component" validate:"gte=0"`
	InterestComponent  int64  `json:"interest_component" validate:"gte=0"`
	Date               string `json:"date" validate:"required"`
	Method             string `json:"method" validate:"max=32"`
	Reference          string `json:"reference" validate:"max=128"`
	Notes              string `json:"notes" validate:"max=512"`
}

func (r paymentRequest) input() (engine.PaymentRequest, error) {
	date, err := money.ParseDate(r.Date)
	if err != nil {
		return engine.PaymentRequest{}, fieldError("date", err)
	}
	return engine.PaymentRequest{
		PrincipalComponent: money.Money(r.PrincipalComponent),
		InterestComponent:  money.Money(r.InterestComponent),
		Date:               date,
		Method:             r.Method,
		Reference:          r.Reference,
		Notes:              r.Notes,
	}, nil
}

type selectionRequest struct {
	ItemID         string          `json:"item_id" validate:"required,uuid"`
	ReturnedWeight decimal.Decimal `json:"returned_weight"`
	ReturnValue    int64           `json:"return_value" validate:"gte=0"`
	Condition      string          `json:"condition" validate:"max=64"`
	PhotosRef      string          `json:"photos_ref" validate:"max=256"`
}

type returnRequest struct {
	Date          string             `json:"date" validate:"required"`
	Selections    []selectionRequest `json:"selections" validate:"required,min=1,dive"`
	ProcessingFee int64              `json:"processing_fee" validate:"gte=0"`
	LateFee       int64              `json:"late_fee" validate:"gte=0"`
	Adjustment    int64              `json:"adjustment"`
	VerifiedBy    string             `json:"verified_by" validate:"max=128"`
	Notes         string             `json:"notes" validate:"max=512"`
}

func (r returnRequest) input() (engine.ReturnRequest, error) {
	date, err := money.ParseDate(r.Date)
	if err != nil {
		return engine.ReturnRequest{}, fieldError("date", err)
	}
	selections := make([]engine.Selection, len(r.Selections))
	for i, s := range r.Selections {
		id, err := uuid.Parse(s.ItemID)
		if err != nil {
			return engine.ReturnRequest{}, fieldError("item_id", err)
		}
		selections[i] = engine.Selection{
			ItemID:         id,
			ReturnedWeight: s.ReturnedWeight,
			ReturnValue:    money.Money(s.ReturnValue),
			Condition:      s.Condition,
			PhotosRef:      s.PhotosRef,
		}
	}
	return engine.ReturnRequest{
		Date:          date,
		Selections:    selections,
		ProcessingFee: money.Money(r.ProcessingFee),
		LateFee:       money.Money(r.LateFee),
		Adjustment:    money.Money(r.Adjustment),
		VerifiedBy:    r.VerifiedBy,
		Notes:         r.Notes,
	}, nil
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=256"`
}

// returnResponse flattens engine.Settlement for clients.
type returnResponse struct {
	Entry       models.LedgerEntry      `json:"entry"`
	GrossReturn money.Money             `json:"gross_return"`
	NetReturn   money.Money             `json:"net_return"`
	Items       []models.CollateralItem `json:"items"`
}

func optionalDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := money.ParseDate(s)
	if err != nil {
		return nil, fieldError(field, err)
	}
	return &t, nil
}

func fieldError(field string, err error) error {
	return &engine.ValidationError{Field: field, Reason: err.Error()}
}

// validationMessage turns validator output into one readable line.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
