package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pledgeLedger/pkg/models"
)

// CancelCollateralEntry reverses a posted payment. The entry stays in the
// ledger flagged as cancelled, principal and outstanding get back what it
// settled, and accrual is not replayed.
func CancelCollateralEntry(loan *models.CollateralLoan, entryID uuid.UUID, at time.Time, reason string) (*models.LedgerEntry, error) {
	if loan.Status == models.StatusClosed {
		return nil, &InvalidStateError{LoanID: loan.ID, Status: loan.Status, Op: "cancel entry on"}
	}
	next := loan.Clone()
	entry, err := cancellable(loan.ID, loan.Status, next.Payments, entryID)
	if err != nil {
		return nil, err
	}

	markCancelled(entry, at, reason)
	next.PrincipalRemaining += entry.PrincipalComponent
	next.Outstanding += entry.PrincipalComponent + entry.InterestComponent
	ReclassifyCollateral(next, at)

	if err := checkCollateral(next); err != nil {
		return nil, err
	}
	*loan = *next
	out := *entry
	return &out, nil
}

// CancelUnsecuredEntry reverses a posted payment on an unsecured loan. Interest
// owed is derived from the history, so restoring principal is enough.
func CancelUnsecuredEntry(loan *models.UnsecuredLoan, entryID uuid.UUID, at time.Time, reason string) (*models.LedgerEntry, error) {
	if loan.Status == models.StatusClosed {
		return nil, &InvalidStateError{LoanID: loan.ID, Status: loan.Status, Op: "cancel entry on"}
	}
	next := loan.Clone()
	entry, err := cancellable(loan.ID, loan.Status, next.PaymentHistory, entryID)
	if err != nil {
		return nil, err
	}

	markCancelled(entry, at, reason)
	next.PrincipalRemaining += entry.PrincipalComponent
	ReclassifyUnsecured(next, at)

	if err := checkUnsecured(next); err != nil {
		return nil, err
	}
	*loan = *next
	out := *entry
	return &out, nil
}

func cancellable(loanID uuid.UUID, status models.LoanStatus, entries []models.LedgerEntry, entryID uuid.UUID) (*models.LedgerEntry, error) {
	for i := range entries {
		e := &entries[i]
		if e.ID != entryID {
			continue
		}
		switch {
		case e.Status == models.EntryCancelled:
			return nil, &InvalidStateError{LoanID: loanID, Status: status, Op: "cancel entry on", Reason: "entry already cancelled"}
		case e.Kind == models.EntryItemReturn:
			return nil, &InvalidStateError{LoanID: loanID, Status: status, Op: "cancel entry on", Reason: "item returns are final"}
		}
		return e, nil
	}
	return nil, invalid("entry_id", "entry %s not found on loan %s", entryID, loanID)
}

func markCancelled(e *models.LedgerEntry, at time.Time, reason string) {
	e.Status = models.EntryCancelled
	e.CancelledAt = &at
	e.CancelReason = reason
}
