package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pledgeLedger/pkg/models"
	"github.com/mcclellann/pledgeLedger/pkg/money"
	"github.com/shopspring/decimal"
)

// Selection is one item handed back to the customer. A zero ReturnedWeight
// means the full deposited weight.
type Selection struct {
	ItemID         uuid.UUID
	ReturnedWeight decimal.Decimal
	ReturnValue    money.Money
	Condition      string
	PhotosRef      string
}

type ReturnRequest struct {
	Date          time.Time
	Selections    []Selection
	ProcessingFee money.Money
	LateFee       money.Money
	Adjustment    money.Money // signed
	VerifiedBy    string
	Notes         string
	RecordedAt    time.Time
}

// Settlement is the outcome of ReturnItems.
type Settlement struct {
	Entry       models.LedgerEntry
	GrossReturn money.Money
	NetReturn   money.Money
	Items       []models.CollateralItem
}

// ReturnItems releases the selected items and settles their net value against
// the loan. Principal and outstanding are both reduced by the net return,
// floored at zero.
func ReturnItems(loan *models.CollateralLoan, req ReturnRequest) (*Settlement, error) {
	if loan.Status == models.StatusClosed {
		return nil, &InvalidStateError{LoanID: loan.ID, Status: loan.Status, Op: "return items of"}
	}
	if len(req.Selections) == 0 {
		return nil, invalid("selections", "no items selected")
	}
	if req.Date.IsZero() {
		return nil, invalid("date", "is required")
	}
	if money.DaysBetween(loan.StartDate, req.Date) < 0 {
		return nil, invalid("date", "is before the loan started")
	}
	if req.ProcessingFee < 0 {
		return nil, invalid("processing_fee", "must not be negative")
	}
	if req.LateFee < 0 {
		return nil, invalid("late_fee", "must not be negative")
	}

	next := loan.Clone()
	index := make(map[uuid.UUID]int, len(next.Items))
	for i, it := range next.Items {
		index[it.ID] = i
	}

	var gross money.Money
	seen := make(map[uuid.UUID]bool, len(req.Selections))
	for _, sel := range req.Selections {
		i, ok := index[sel.ItemID]
		if !ok {
			return nil, invalid("item_id", "item %s is not pledged on this loan", sel.ItemID)
		}
		if seen[sel.ItemID] {
			return nil, invalid("item_id", "item %s selected twice", sel.ItemID)
		}
		seen[sel.ItemID] = true
		item := next.Items[i]
		if item.Returned() {
			return nil, invalid("item_id", "item %s was already returned", sel.ItemID)
		}
		if sel.ReturnValue <= 0 {
			return nil, invalid("return_value", "item %s return value must be positive", sel.ItemID)
		}
		if sel.ReturnedWeight.IsNegative() || sel.ReturnedWeight.GreaterThan(item.WeightGrams) {
			return nil, invalid("returned_weight", "item %s weight %s outside 0..%s",
				sel.ItemID, sel.ReturnedWeight, item.WeightGrams)
		}
		gross += sel.ReturnValue
	}

	net := money.Sum(gross, -req.ProcessingFee, -req.LateFee, req.Adjustment)
	if net <= 0 {
		return nil, invalid("net_return", "%s is not positive", net)
	}

	// A net above what is owed releases the items and clears the loan; the
	// excess is not carried as credit.
	AccrueTo(next, req.Date)
	entryID := uuid.New()
	before := next.Outstanding
	next.PrincipalRemaining = money.Max(0, next.PrincipalRemaining-net)
	next.Outstanding -= money.Min(net, next.Outstanding)

	returnDate := req.Date
	ids := make([]uuid.UUID, 0, len(req.Selections))
	returned := make([]models.CollateralItem, 0, len(req.Selections))
	for _, sel := range req.Selections {
		item := &next.Items[index[sel.ItemID]]
		weight := sel.ReturnedWeight
		if weight.IsZero() {
			weight = item.WeightGrams
		}
		rd := returnDate
		eid := entryID
		item.ReturnDate = &rd
		item.ReturnedWeight = weight
		item.ReturnValue = sel.ReturnValue
		item.Condition = sel.Condition
		item.PhotosRef = sel.PhotosRef
		item.VerifiedBy = req.VerifiedBy
		item.ReturnEntryID = &eid
		ids = append(ids, item.ID)
		returned = append(returned, *item)
	}

	recorded := req.RecordedAt
	if recorded.IsZero() {
		recorded = req.Date
	}
	entry := models.LedgerEntry{
		ID:                entryID,
		LoanID:            loan.ID,
		Kind:              models.EntryItemReturn,
		Date:              req.Date,
		Amount:            net,
		OutstandingBefore: before,
		OutstandingAfter:  money.Max(0, before-net),
		Notes:             req.Notes,
		ItemIDs:           ids,
		Return: &models.ReturnDetail{
			GrossReturn:   gross,
			ProcessingFee: req.ProcessingFee,
			LateFee:       req.LateFee,
			Adjustment:    req.Adjustment,
			NetReturn:     net,
		},
		Status:    models.EntryPosted,
		CreatedAt: recorded,
	}
	next.Payments = append(next.Payments, entry)
	ReclassifyCollateral(next, req.Date)

	if err := checkCollateral(next); err != nil {
		return nil, err
	}
	*loan = *next
	return &Settlement{Entry: entry, GrossReturn: gross, NetReturn: net, Items: returned}, nil
}
