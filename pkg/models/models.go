package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pledgeLedger/pkg/money"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	StatusActive        LoanStatus = "active"
	StatusPartiallyPaid LoanStatus = "partially_paid"
	StatusOverdue       LoanStatus = "overdue" // display overlay only, never stored
	StatusClosed        LoanStatus = "closed"
)

type LoanKind string

const (
	LoanKindCollateral LoanKind = "collateral"
	LoanKindUnsecured  LoanKind = "unsecured"
)

type Metal string

const (
	MetalGold   Metal = "gold"
	MetalSilver Metal = "silver"
)

// CollateralLoan is money lent against gold or silver items. Outstanding carries
// compounded interest that has not been paid yet.
type CollateralLoan struct {
	ID                 uuid.UUID        `json:"id"`
	CustomerKey        string           `json:"customer_key"` // Link to external customer system
	Metal              Metal            `json:"metal"`
	PrincipalOriginal  money.Money      `json:"principal_original"`
	PrincipalRemaining money.Money      `json:"principal_remaining"`
	Outstanding        money.Money      `json:"outstanding"`
	MonthlyRatePct     decimal.Decimal  `json:"monthly_rate_pct"`
	StartDate          time.Time        `json:"start_date"`
	LastAccrualDate    time.Time        `json:"last_accrual_date"`
	DueDate            *time.Time       `json:"due_date,omitempty"`
	Status             LoanStatus       `json:"status"`
	ClosedAt           *time.Time       `json:"closed_at,omitempty"`
	Items              []CollateralItem `json:"items"`
	Payments           []LedgerEntry    `json:"payments"`
	Version            int64            `json:"version"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// ActiveItems returns the items still held as collateral.
func (l *CollateralLoan) ActiveItems() []CollateralItem {
	var items []CollateralItem
	for _, it := range l.Items {
		if !it.Returned() {
			items = append(items, it)
		}
	}
	return items
}

func (l *CollateralLoan) AllItemsReturned() bool {
	for _, it := range l.Items {
		if !it.Returned() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so a mutation can be prepared without touching l.
func (l *CollateralLoan) Clone() *CollateralLoan {
	c := *l
	c.DueDate = cloneTime(l.DueDate)
	c.ClosedAt = cloneTime(l.ClosedAt)
	c.Items = make([]CollateralItem, len(l.Items))
	for i, it := range l.Items {
		c.Items[i] = it.clone()
	}
	c.Payments = cloneEntries(l.Payments)
	return &c
}

type CollateralItem struct {
	ID             uuid.UUID       `json:"id"`
	Description    string          `json:"description"`
	Metal          Metal           `json:"metal"`
	WeightGrams    decimal.Decimal `json:"weight_grams"`
	Purity         decimal.Decimal `json:"purity"` // karat for gold, fineness for silver
	DepositDate    time.Time       `json:"deposit_date"`
	ReturnDate     *time.Time      `json:"return_date,omitempty"`
	ReturnedWeight decimal.Decimal `json:"returned_weight"`
	ReturnValue    money.Money     `json:"return_value"`
	Condition      string          `json:"condition,omitempty"`
	PhotosRef      string          `json:"photos_ref,omitempty"`
	VerifiedBy     string          `json:"verified_by,omitempty"`
	ReturnEntryID  *uuid.UUID      `json:"return_entry_id,omitempty"`
}

func (it CollateralItem) Returned() bool { return it.ReturnDate != nil }

func (it CollateralItem) clone() CollateralItem {
	c := it
	c.ReturnDate = cloneTime(it.ReturnDate)
	if it.ReturnEntryID != nil {
		id := *it.ReturnEntryID
		c.ReturnEntryID = &id
	}
	return c
}

type UnsecuredKind string

const (
	UnsecuredKindLoan  UnsecuredKind = "loan"
	UnsecuredKindUdhar UnsecuredKind = "udhar"
)

// Direction says whether the money was lent out or borrowed.
type Direction string

const (
	DirectionGiven Direction = "given"
	DirectionTaken Direction = "taken"
)

// UnsecuredLoan never capitalizes interest; interest owed is recomputed from
// PaymentHistory on demand.
type UnsecuredLoan struct {
	ID                  uuid.UUID       `json:"id"`
	CounterpartyKey     string          `json:"counterparty_key"`
	Kind                UnsecuredKind   `json:"kind"`
	Direction           Direction       `json:"direction"`
	PrincipalOriginal   money.Money     `json:"principal_original"`
	PrincipalRemaining  money.Money     `json:"principal_remaining"`
	MonthlyRatePct      decimal.Decimal `json:"monthly_rate_pct"`
	TakenDate           time.Time       `json:"taken_date"`
	DueDate             *time.Time      `json:"due_date,omitempty"`
	NextInterestDueDate *time.Time      `json:"next_interest_due_date,omitempty"`
	Status              LoanStatus      `json:"status"`
	ClosedAt            *time.Time      `json:"closed_at,omitempty"`
	PaymentHistory      []LedgerEntry   `json:"payment_history"`
	Version             int64           `json:"version"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func (l *UnsecuredLoan) Clone() *UnsecuredLoan {
	c := *l
	c.DueDate = cloneTime(l.DueDate)
	c.NextInterestDueDate = cloneTime(l.NextInterestDueDate)
	c.ClosedAt = cloneTime(l.ClosedAt)
	c.PaymentHistory = cloneEntries(l.PaymentHistory)
	return &c
}

type EntryKind string

const (
	EntryPayment    EntryKind = "payment"
	EntryItemReturn EntryKind = "item_return"
)

type EntryStatus string

const (
	EntryPosted    EntryStatus = "posted"
	EntryCancelled EntryStatus = "cancelled"
)

// LedgerEntry records one settlement event. Balances are mutated in place on
// the loan, so the before/after snapshots here are the audit trail.
type LedgerEntry struct {
	ID                 uuid.UUID     `json:"id"`
	LoanID             uuid.UUID     `json:"loan_id"`
	Kind               EntryKind     `json:"kind"`
	Date               time.Time     `json:"date"`
	PrincipalComponent money.Money   `json:"principal_component"`
	InterestComponent  money.Money   `json:"interest_component"`
	Amount             money.Money   `json:"amount"`
	OutstandingBefore  money.Money   `json:"outstanding_before"`
	OutstandingAfter   money.Money   `json:"outstanding_after"`
	Method             string        `json:"method,omitempty"`
	Reference          string        `json:"reference,omitempty"`
	Notes              string        `json:"notes,omitempty"`
	ItemIDs            []uuid.UUID   `json:"item_ids,omitempty"`
	Return             *ReturnDetail `json:"return,omitempty"`
	Status             EntryStatus   `json:"status"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason       string        `json:"cancel_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

func (e LedgerEntry) Posted() bool { return e.Status == EntryPosted }

// ReturnDetail breaks down how the net value of an item return was reached.
type ReturnDetail struct {
	GrossReturn   money.Money `json:"gross_return"`
	ProcessingFee money.Money `json:"processing_fee"`
	LateFee       money.Money `json:"late_fee"`
	Adjustment    money.Money `json:"adjustment"`
	NetReturn     money.Money `json:"net_return"`
}

func cloneEntries(entries []LedgerEntry) []LedgerEntry {
	if entries == nil {
		return nil
	}
	out := make([]LedgerEntry, len(entries))
	for i, e := range entries {
		c := e
		c.CancelledAt = cloneTime(e.CancelledAt)
		if e.ItemIDs != nil {
			c.ItemIDs = append([]uuid.UUID(nil), e.ItemIDs...)
		}
		if e.Return != nil {
			r := *e.Return
			c.Return = &r
		}
		out[i] = c
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

type TransactionCategory string

const (
	CategoryDisbursement TransactionCategory = "disbursement"
	CategoryPayment      TransactionCategory = "payment"
	CategoryItemReturn   TransactionCategory = "item_return"
	CategoryReversal     TransactionCategory = "reversal"
)

// CashDirection is seen from the lender's books: credit is money coming in.
type CashDirection string

const (
	CashCredit CashDirection = "credit"
	CashDebit  CashDirection = "debit"
)

// Transaction is the settlement record handed to the accounting side after
// every successful ledger mutation.
type Transaction struct {
	ID        uuid.UUID           `json:"id"`
	LoanID    uuid.UUID           `json:"loan_id"`
	EntryID   *uuid.UUID          `json:"entry_id,omitempty"`
	LoanKind  LoanKind            `json:"loan_kind"`
	Amount    money.Money         `json:"amount"`
	Direction CashDirection       `json:"direction"`
	Category  TransactionCategory `json:"category"`
	Timestamp time.Time           `json:"timestamp"`
}

// ReminderSnapshot is the read-only view consumed by the reminder service.
type ReminderSnapshot struct {
	LoanID        uuid.UUID   `json:"loan_id"`
	LoanKind      LoanKind    `json:"loan_kind"`
	PartyKey      string      `json:"party_key"`
	Outstanding   money.Money `json:"outstanding"`
	NextDueDate   *time.Time  `json:"next_due_date,omitempty"`
	OverdueDays   int64       `json:"overdue_days"`
	Status        LoanStatus  `json:"status"`
	DisplayStatus LoanStatus  `json:"display_status"`
	AsOf          time.Time   `json:"as_of"`
}
