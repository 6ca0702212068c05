package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pledgeLedger/pkg/engine"
	"github.com/mcclellann/pledgeLedger/pkg/lock"
	"github.com/mcclellann/pledgeLedger/pkg/models"
	"github.com/mcclellann/pledgeLedger/pkg/money"
	"github.com/mcclellann/pledgeLedger/pkg/store"
	"go.uber.org/zap"
)

var openStatuses = []models.LoanStatus{models.StatusActive, models.StatusPartiallyPaid}

// Ledger runs engine operations against stored loans. Every mutation holds the
// loan's lock for the whole load, apply, save cycle and then records a
// settlement transaction.
type Ledger struct {
	storage store.Storage
	locker  lock.Locker
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Ledger)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLocker replaces the in-process lock, e.g. with a lock.RedisLocker when
// several instances share a database.
func WithLocker(locker lock.Locker) Option {
	return func(l *Ledger) {
		if locker != nil {
			l.locker = locker
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage: s,
		locker:  lock.NewKeyedMutex(),
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) withLock(ctx context.Context, id uuid.UUID, fn func() error) error {
	unlock, err := l.locker.Lock(ctx, id.String())
	if err != nil {
		return fmt.Errorf("failed to lock loan %s: %w", id, err)
	}
	defer unlock()
	return fn()
}

// ---------------------------------------------------------------------------
// creation and queries
// ---------------------------------------------------------------------------

// CreateCollateralLoan stores a new pledge loan and records the disbursement.
func (l *Ledger) CreateCollateralLoan(ctx context.Context, in engine.CollateralLoanInput) (*models.CollateralLoan, error) {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = l.now()
	}
	loan, err := engine.NewCollateralLoan(in)
	if err != nil {
		return nil, err
	}
	if err := l.storage.CreateCollateralLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}
	l.logger.Info("collateral loan created",
		zap.String("loan_id", loan.ID.String()),
		zap.String("customer_key", loan.CustomerKey),
		zap.Int64("principal", loan.PrincipalOriginal.Int64()),
		zap.String("monthly_rate_pct", loan.MonthlyRatePct.String()),
		zap.Int("items", len(loan.Items)),
	)
	l.settle(ctx, models.LoanKindCollateral, "", loan.ID, nil, models.CategoryDisbursement, loan.PrincipalOriginal, loan.StartDate)
	return loan, nil
}

// CreateUnsecuredLoan stores a hand loan or udhar and records the disbursement.
func (l *Ledger) CreateUnsecuredLoan(ctx context.Context, in engine.UnsecuredLoanInput) (*models.UnsecuredLoan, error) {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = l.now()
	}
	loan, err := engine.NewUnsecuredLoan(in)
	if err != nil {
		return nil, err
	}
	if err := l.storage.CreateUnsecuredLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}
	l.logger.Info("unsecured loan created",
		zap.String("loan_id", loan.ID.String()),
		zap.String("counterparty_key", loan.CounterpartyKey),
		zap.String("kind", string(loan.Kind)),
		zap.String("direction", string(loan.Direction)),
		zap.Int64("principal", loan.PrincipalOriginal.Int64()),
	)
	l.settle(ctx, models.LoanKindUnsecured, loan.Direction, loan.ID, nil, models.CategoryDisbursement, loan.PrincipalOriginal, loan.TakenDate)
	return loan, nil
}

func (l *Ledger) GetCollateralLoan(ctx context.Context, id uuid.UUID) (*models.CollateralLoan, error) {
	return l.storage.GetCollateralLoan(ctx, id)
}

func (l *Ledger) GetUnsecuredLoan(ctx context.Context, id uuid.UUID) (*models.UnsecuredLoan, error) {
	return l.storage.GetUnsecuredLoan(ctx, id)
}

func (l *Ledger) ListCollateralLoans(ctx context.Context, filter store.LoanFilter) ([]*models.CollateralLoan, error) {
	return l.storage.ListCollateralLoans(ctx, filter)
}

func (l *Ledger) ListUnsecuredLoans(ctx context.Context, filter store.LoanFilter) ([]*models.UnsecuredLoan, error) {
	return l.storage.ListUnsecuredLoans(ctx, filter)
}

// Transactions returns the settlement records written for a loan.
func (l *Ledger) Transactions(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error) {
	return l.storage.GetTransactionsForLoan(ctx, loanID)
}

// ---------------------------------------------------------------------------
// mutations
// ---------------------------------------------------------------------------

// RecordCollateralPayment applies a payment to a pledge loan.
func (l *Ledger) RecordCollateralPayment(ctx context.Context, loanID uuid.UUID, req engine.PaymentRequest) (*models.LedgerEntry, error) {
	if req.RecordedAt.IsZero() {
		req.RecordedAt = l.now()
	}
	var entry *models.LedgerEntry
	err := l.withLock(ctx, loanID, func() error {
		loan, err := l.storage.GetCollateralLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if entry, err = engine.ApplyCollateralPayment(loan, req); err != nil {
			return err
		}
		loan.UpdatedAt = l.now()
		if err := l.storage.UpdateCollateralLoan(ctx, loan); err != nil {
			return fmt.Errorf("failed to update loan balance: %w", err)
		}
		l.logger.Info("collateral payment recorded",
			zap.String("loan_id", loanID.String()),
			zap.String("entry_id", entry.ID.String()),
			zap.Int64("principal", entry.PrincipalComponent.Int64()),
			zap.Int64("interest", entry.InterestComponent.Int64()),
			zap.Int64("outstanding", loan.Outstanding.Int64()),
			zap.String("status", string(loan.Status)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.settle(ctx, models.LoanKindCollateral, "", loanID, &entry.ID, models.CategoryPayment, entry.Amount, entry.Date)
	return entry, nil
}

// RecordUnsecuredPayment applies a payment to a hand loan or udhar.
func (l *Ledger) RecordUnsecuredPayment(ctx context.Context, loanID uuid.UUID, req engine.PaymentRequest) (*models.LedgerEntry, error) {
	if req.RecordedAt.IsZero() {
		req.RecordedAt = l.now()
	}
	var (
		entry *models.LedgerEntry
		dir   models.Direction
	)
	err := l.withLock(ctx, loanID, func() error {
		loan, err := l.storage.GetUnsecuredLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if entry, err = engine.ApplyUnsecuredPayment(loan, req); err != nil {
			return err
		}
		loan.UpdatedAt = l.now()
		if err := l.storage.UpdateUnsecuredLoan(ctx, loan); err != nil {
			return fmt.Errorf("failed to update loan balance: %w", err)
		}
		dir = loan.Direction
		l.logger.Info("unsecured payment recorded",
			zap.String("loan_id", loanID.String()),
			zap.String("entry_id", entry.ID.String()),
			zap.Int64("principal", entry.PrincipalComponent.Int64()),
			zap.Int64("interest", entry.InterestComponent.Int64()),
			zap.Int64("principal_remaining", loan.PrincipalRemaining.Int64()),
			zap.String("status", string(loan.Status)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.settle(ctx, models.LoanKindUnsecured, dir, loanID, &entry.ID, models.CategoryPayment, entry.Amount, entry.Date)
	return entry, nil
}

// ReturnItems hands pledged items back and settles their net value.
func (l *Ledger) ReturnItems(ctx context.Context, loanID uuid.UUID, req engine.ReturnRequest) (*engine.Settlement, error) {
	if req.RecordedAt.IsZero() {
		req.RecordedAt = l.now()
	}
	var settlement *engine.Settlement
	err := l.withLock(ctx, loanID, func() error {
		loan, err := l.storage.GetCollateralLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if settlement, err = engine.ReturnItems(loan, req); err != nil {
			return err
		}
		loan.UpdatedAt = l.now()
		if err := l.storage.UpdateCollateralLoan(ctx, loan); err != nil {
			return fmt.Errorf("failed to update loan after return: %w", err)
		}
		l.logger.Info("collateral items returned",
			zap.String("loan_id", loanID.String()),
			zap.String("entry_id", settlement.Entry.ID.String()),
			zap.Int("items", len(settlement.Items)),
			zap.Int64("gross_return", settlement.GrossReturn.Int64()),
			zap.Int64("net_return", settlement.NetReturn.Int64()),
			zap.Int64("outstanding", loan.Outstanding.Int64()),
			zap.String("status", string(loan.Status)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	entry := settlement.Entry
	l.settle(ctx, models.LoanKindCollateral, "", loanID, &entry.ID, models.CategoryItemReturn, settlement.NetReturn, entry.Date)
	return settlement, nil
}

// CancelCollateralEntry reverses a payment on a pledge loan.
func (l *Ledger) CancelCollateralEntry(ctx context.Context, loanID, entryID uuid.UUID, reason string) (*models.LedgerEntry, error) {
	at := l.now()
	var entry *models.LedgerEntry
	err := l.withLock(ctx, loanID, func() error {
		loan, err := l.storage.GetCollateralLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if entry, err = engine.CancelCollateralEntry(loan, entryID, at, reason); err != nil {
			return err
		}
		loan.UpdatedAt = at
		if err := l.storage.UpdateCollateralLoan(ctx, loan); err != nil {
			return fmt.Errorf("failed to update loan after cancellation: %w", err)
		}
		l.logger.Info("collateral entry cancelled",
			zap.String("loan_id", loanID.String()),
			zap.String("entry_id", entryID.String()),
			zap.String("reason", reason),
			zap.Int64("outstanding", loan.Outstanding.Int64()),
			zap.String("status", string(loan.Status)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.settle(ctx, models.LoanKindCollateral, "", loanID, &entry.ID, models.CategoryReversal, entry.PrincipalComponent+entry.InterestComponent, at)
	return entry, nil
}

// CancelUnsecuredEntry reverses a payment on a hand loan or udhar.
func (l *Ledger) CancelUnsecuredEntry(ctx context.Context, loanID, entryID uuid.UUID, reason string) (*models.LedgerEntry, error) {
	at := l.now()
	var (
		entry *models.LedgerEntry
		dir   models.Direction
	)
	err := l.withLock(ctx, loanID, func() error {
		loan, err := l.storage.GetUnsecuredLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if entry, err = engine.CancelUnsecuredEntry(loan, entryID, at, reason); err != nil {
			return err
		}
		loan.UpdatedAt = at
		if err := l.storage.UpdateUnsecuredLoan(ctx, loan); err != nil {
			return fmt.Errorf("failed to update loan after cancellation: %w", err)
		}
		dir = loan.Direction
		l.logger.Info("unsecured entry cancelled",
			zap.String("loan_id", loanID.String()),
			zap.String("entry_id", entryID.String()),
			zap.String("reason", reason),
			zap.Int64("principal_remaining", loan.PrincipalRemaining.Int64()),
			zap.String("status", string(loan.Status)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.settle(ctx, models.LoanKindUnsecured, dir, loanID, &entry.ID, models.CategoryReversal, entry.PrincipalComponent+entry.InterestComponent, at)
	return entry, nil
}

// ---------------------------------------------------------------------------
// read-only views
// ---------------------------------------------------------------------------

// CollateralSnapshot reports what the loan owes as of asOf without accruing.
func (l *Ledger) CollateralSnapshot(ctx context.Context, id uuid.UUID, asOf time.Time) (models.ReminderSnapshot, error) {
	loan, err := l.storage.GetCollateralLoan(ctx, id)
	if err != nil {
		return models.ReminderSnapshot{}, err
	}
	return engine.CollateralSnapshot(loan, asOf), nil
}

func (l *Ledger) UnsecuredSnapshot(ctx context.Context, id uuid.UUID, asOf time.Time) (models.ReminderSnapshot, error) {
	loan, err := l.storage.GetUnsecuredLoan(ctx, id)
	if err != nil {
		return models.ReminderSnapshot{}, err
	}
	return engine.UnsecuredSnapshot(loan, asOf), nil
}

// Reminders returns a snapshot of every open loan of either kind.
func (l *Ledger) Reminders(ctx context.Context, asOf time.Time) ([]models.ReminderSnapshot, error) {
	pledges, err := l.storage.ListCollateralLoans(ctx, store.LoanFilter{Statuses: openStatuses})
	if err != nil {
		return nil, fmt.Errorf("failed to list collateral loans: %w", err)
	}
	hand, err := l.storage.ListUnsecuredLoans(ctx, store.LoanFilter{Statuses: openStatuses})
	if err != nil {
		return nil, fmt.Errorf("failed to list unsecured loans: %w", err)
	}
	snapshots := make([]models.ReminderSnapshot, 0, len(pledges)+len(hand))
	for _, loan := range pledges {
		snapshots = append(snapshots, engine.CollateralSnapshot(loan, asOf))
	}
	for _, loan := range hand {
		snapshots = append(snapshots, engine.UnsecuredSnapshot(loan, asOf))
	}
	return snapshots, nil
}

// ---------------------------------------------------------------------------
// scheduled accrual
// ---------------------------------------------------------------------------

// AccrualSummary reports one AccrueActiveLoans run.
type AccrualSummary struct {
	Scanned  int
	Accrued  int
	Failed   int
	Interest money.Money
}

// AccrueActiveLoans brings every open pledge loan current as of asOf. A loan
// that fails is logged and skipped; running twice for the same date charges
// nothing the second time.
func (l *Ledger) AccrueActiveLoans(ctx context.Context, asOf time.Time) (AccrualSummary, error) {
	var summary AccrualSummary
	loans, err := l.storage.ListCollateralLoans(ctx, store.LoanFilter{Statuses: openStatuses})
	if err != nil {
		return summary, fmt.Errorf("failed to list loans for accrual: %w", err)
	}

	for _, candidate := range loans {
		summary.Scanned++
		if money.DaysBetween(candidate.LastAccrualDate, asOf) <= 0 {
			continue
		}
		var delta money.Money
		err := l.withLock(ctx, candidate.ID, func() error {
			loan, err := l.storage.GetCollateralLoan(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if loan.Status == models.StatusClosed {
				return nil
			}
			last := loan.LastAccrualDate
			if delta = engine.AccrueTo(loan, asOf); loan.LastAccrualDate.Equal(last) {
				return nil
			}
			loan.UpdatedAt = l.now()
			return l.storage.UpdateCollateralLoan(ctx, loan)
		})
		if err != nil {
			summary.Failed++
			l.logger.Error("accrual failed", zap.String("loan_id", candidate.ID.String()), zap.Error(err))
			continue
		}
		if delta > 0 {
			summary.Accrued++
			summary.Interest += delta
			l.logger.Debug("interest accrued",
				zap.String("loan_id", candidate.ID.String()),
				zap.Int64("interest", delta.Int64()),
			)
		}
	}

	l.logger.Info("accrual run finished",
		zap.Time("as_of", asOf),
		zap.Int("scanned", summary.Scanned),
		zap.Int("accrued", summary.Accrued),
		zap.Int("failed", summary.Failed),
		zap.Int64("interest", summary.Interest.Int64()),
	)
	return summary, ctx.Err()
}

// ---------------------------------------------------------------------------
// settlement
// ---------------------------------------------------------------------------

// cashDirection sees each movement from our books. Disbursements and reversals
// send money out on loans we gave; a loan we took runs the other way.
func cashDirection(dir models.Direction, category models.TransactionCategory) models.CashDirection {
	outflow := category == models.CategoryDisbursement || category == models.CategoryReversal
	if dir == models.DirectionTaken {
		outflow = !outflow
	}
	if outflow {
		return models.CashDebit
	}
	return models.CashCredit
}

// settle writes the settlement record. The loan change is already committed,
// so a failure here is logged rather than returned.
func (l *Ledger) settle(ctx context.Context, kind models.LoanKind, dir models.Direction, loanID uuid.UUID, entryID *uuid.UUID, category models.TransactionCategory, amount money.Money, at time.Time) {
	transaction := &models.Transaction{
		ID:        uuid.New(),
		LoanID:    loanID,
		EntryID:   entryID,
		LoanKind:  kind,
		Amount:    amount,
		Direction: cashDirection(dir, category),
		Category:  category,
		Timestamp: at,
	}
	if err := l.storage.CreateTransaction(ctx, transaction); err != nil {
		l.logger.Error("failed to store settlement transaction",
			zap.String("loan_id", loanID.String()),
			zap.String("category", string(category)),
			zap.Int64("amount", amount.Int64()),
			zap.Error(err),
		)
	}
}
