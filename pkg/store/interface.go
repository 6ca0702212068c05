package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/pledgeLedger/pkg/models"
)

var (
	ErrLoanNotFound = errors.New("loan not found")

	// ErrConcurrentModification is returned by the Update methods when the
	// stored version no longer matches the one the caller loaded.
	ErrConcurrentModification = errors.New("loan was modified concurrently")
)

// LoanFilter narrows a listing. Zero values match everything.
type LoanFilter struct {
	PartyKey string
	Statuses []models.LoanStatus
}

// Storage defines the persistence operations the ledger needs. Loans are
// stored together with their items and ledger entries; Update replaces the
// mutable fields and appends or flags entries, and bumps Version.
type Storage interface {
	CreateCollateralLoan(ctx context.Context, loan *models.CollateralLoan) error
	GetCollateralLoan(ctx context.Context, id uuid.UUID) (*models.CollateralLoan, error)
	UpdateCollateralLoan(ctx context.Context, loan *models.CollateralLoan) error
	ListCollateralLoans(ctx context.Context, filter LoanFilter) ([]*models.CollateralLoan, error)

	CreateUnsecuredLoan(ctx context.Context, loan *models.UnsecuredLoan) error
	GetUnsecuredLoan(ctx context.Context, id uuid.UUID) (*models.UnsecuredLoan, error)
	UpdateUnsecuredLoan(ctx context.Context, loan *models.UnsecuredLoan) error
	ListUnsecuredLoans(ctx context.Context, filter LoanFilter) ([]*models.UnsecuredLoan, error)

	CreateTransaction(ctx context.Context, transaction *models.Transaction) error
	GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error)

	Close() error
}
