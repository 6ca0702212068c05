package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pledgeLedger/pkg/models"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens the database and initializes the schema. Use ":memory:"
// for a throwaway database.
func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// SQLite has a single writer, and every connection to :memory: is its own database.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logger.Info("database ready", zap.String("dsn", dataSourceName))
	return s, nil
}

// initSchema creates the tables if they don't already exist and adds columns
// introduced after the first release. Amounts are INTEGER paise; rates, weights
// and purity are TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS collateral_loans (
		id TEXT PRIMARY KEY,
		customer_key TEXT NOT NULL,
		metal TEXT NOT NULL,
		principal_original INTEGER NOT NULL,
		principal_remaining INTEGER NOT NULL,
		outstanding INTEGER NOT NULL,
		monthly_rate_pct TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		last_accrual_date DATETIME NOT NULL,
		due_date DATETIME,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_collateral_loans_customer ON collateral_loans(customer_key);
	CREATE INDEX IF NOT EXISTS idx_collateral_loans_status ON collateral_loans(status);

	CREATE TABLE IF NOT EXISTS collateral_items (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		metal TEXT NOT NULL,
		weight_grams TEXT NOT NULL,
		purity TEXT NOT NULL DEFAULT '0',
		deposit_date DATETIME NOT NULL,
		return_date DATETIME,
		returned_weight TEXT NOT NULL DEFAULT '0',
		return_value INTEGER NOT NULL DEFAULT 0,
		item_condition TEXT NOT NULL DEFAULT '',
		photos_ref TEXT NOT NULL DEFAULT '',
		verified_by TEXT NOT NULL DEFAULT '',
		return_entry_id TEXT,
		FOREIGN KEY(loan_id) REFERENCES collateral_loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_collateral_items_loan ON collateral_items(loan_id, seq);

	CREATE TABLE IF NOT EXISTS unsecured_loans (
		id TEXT PRIMARY KEY,
		counterparty_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		direction TEXT NOT NULL,
		principal_original INTEGER NOT NULL,
		principal_remaining INTEGER NOT NULL,
		monthly_rate_pct TEXT NOT NULL,
		taken_date DATETIME NOT NULL,
		due_date DATETIME,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_unsecured_loans_counterparty ON unsecured_loans(counterparty_key);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		loan_kind TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		entry_date DATETIME NOT NULL,
		principal_component INTEGER NOT NULL DEFAULT 0,
		interest_component INTEGER NOT NULL DEFAULT 0,
		amount INTEGER NOT NULL,
		outstanding_before INTEGER NOT NULL,
		outstanding_after INTEGER NOT NULL,
		method TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		item_ids_json TEXT,
		return_json TEXT,
		status TEXT NOT NULL,
		cancelled_at DATETIME,
		cancel_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_loan ON ledger_entries(loan_id, seq);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		entry_id TEXT,
		loan_kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		direction TEXT NOT NULL,
		category TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_loan ON transactions(loan_id, timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	migrations := []struct{ table, column string }{
		{"collateral_loans", "closed_at DATETIME"},
		{"unsecured_loans", "closed_at DATETIME"},
		{"unsecured_loans", "next_interest_due_date DATETIME"},
	}
	for _, m := range migrations {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", m.table, m.column))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ---------------------------------------------------------------------------
// collateral loans
// ---------------------------------------------------------------------------

const collateralColumns = `id, customer_key, metal, principal_original, principal_remaining, outstanding,
	monthly_rate_pct, start_date, last_accrual_date, due_date, status, closed_at, version, created_at, updated_at`

// CreateCollateralLoan inserts the loan with its items and entries.
func (s *SQLiteStore) CreateCollateralLoan(ctx context.Context, loan *models.CollateralLoan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if loan.Version == 0 {
		loan.Version = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO collateral_loans (`+collateralColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CustomerKey, loan.Metal, loan.PrincipalOriginal.Int64(), loan.PrincipalRemaining.Int64(),
		loan.Outstanding.Int64(), loan.MonthlyRatePct, loan.StartDate, loan.LastAccrualDate, loan.DueDate, loan.Status,
		loan.ClosedAt, loan.Version, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create collateral loan: %w", err)
	}
	if err := upsertItems(ctx, tx, loan.ID, loan.Items); err != nil {
		return err
	}
	if err := upsertEntries(ctx, tx, models.LoanKindCollateral, loan.Payments); err != nil {
		return err
	}
	return tx.Commit()
}

// GetCollateralLoan retrieves a loan with its items and ledger entries.
func (s *SQLiteStore) GetCollateralLoan(ctx context.Context, id uuid.UUID) (*models.CollateralLoan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collateralColumns+` FROM collateral_loans WHERE id = ?`, id.String())
	loan, err := scanCollateral(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("collateral loan %s: %w", id, ErrLoanNotFound)
		}
		return nil, fmt.Errorf("failed to get collateral loan: %w", err)
	}
	if err := s.loadCollateralChildren(ctx, loan); err != nil {
		return nil, err
	}
	return loan, nil
}

// UpdateCollateralLoan writes the mutable fields if the stored version still
// matches loan.Version, then increments it.
func (s *SQLiteStore) UpdateCollateralLoan(ctx context.Context, loan *models.CollateralLoan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE collateral_loans SET principal_remaining = ?, outstanding = ?, last_accrual_date = ?, due_date = ?,
		status = ?, closed_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		loan.PrincipalRemaining.Int64(), loan.Outstanding.Int64(), loan.LastAccrualDate, loan.DueDate,
		loan.Status, loan.ClosedAt, loan.UpdatedAt, loan.ID.String(), loan.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update collateral loan: %w", err)
	}
	if err := checkUpdated(ctx, tx, result, "collateral_loans", loan.ID); err != nil {
		return err
	}
	if err := upsertItems(ctx, tx, loan.ID, loan.Items); err != nil {
		return err
	}
	if err := upsertEntries(ctx, tx, models.LoanKindCollateral, loan.Payments); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit collateral loan: %w", err)
	}
	loan.Version++
	return nil
}

// ListCollateralLoans returns loans matching filter, oldest first.
func (s *SQLiteStore) ListCollateralLoans(ctx context.Context, filter LoanFilter) ([]*models.CollateralLoan, error) {
	where, args := filterClause("customer_key", filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+collateralColumns+` FROM collateral_loans`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list collateral loans: %w", err)
	}
	var loans []*models.CollateralLoan
	for rows.Next() {
		loan, err := scanCollateral(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan collateral loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	// children are loaded on the same connection, so the cursor must be closed first
	rows.Close()

	for _, loan := range loans {
		if err := s.loadCollateralChildren(ctx, loan); err != nil {
			return nil, err
		}
	}
	return loans, nil
}

func scanCollateral(row rowScanner) (*models.CollateralLoan, error) {
	var loan models.CollateralLoan
	var idStr string
	var due, closed sql.NullTime
	err := row.Scan(&idStr, &loan.CustomerKey, &loan.Metal, &loan.PrincipalOriginal, &loan.PrincipalRemaining,
		&loan.Outstanding, &loan.MonthlyRatePct, &loan.StartDate, &loan.LastAccrualDate, &due, &loan.Status,
		&closed, &loan.Version, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	loan.StartDate = loan.StartDate.UTC()
	loan.LastAccrualDate = loan.LastAccrualDate.UTC()
	loan.CreatedAt = loan.CreatedAt.UTC()
	loan.UpdatedAt = loan.UpdatedAt.UTC()
	loan.DueDate = nullTime(due)
	loan.ClosedAt = nullTime(closed)
	return &loan, nil
}

func (s *SQLiteStore) loadCollateralChildren(ctx context.Context, loan *models.CollateralLoan) error {
	items, err := loadItems(ctx, s.db, loan.ID)
	if err != nil {
		return err
	}
	entries, err := loadEntries(ctx, s.db, loan.ID)
	if err != nil {
		return err
	}
	loan.Items = items
	loan.Payments = entries
	return nil
}

// ---------------------------------------------------------------------------
// collateral items
// ---------------------------------------------------------------------------

// upsertItems inserts new items and records return details on existing ones.
// Deposit fields are never rewritten.
func upsertItems(ctx context.Context, q queryer, loanID uuid.UUID, items []models.CollateralItem) error {
	for i, it := range items {
		_, err := q.ExecContext(ctx,
			`INSERT INTO collateral_items (id, loan_id, seq, description, metal, weight_grams, purity, deposit_date,
			return_date, returned_weight, return_value, item_condition, photos_ref, verified_by, return_entry_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				return_date = excluded.return_date,
				returned_weight = excluded.returned_weight,
				return_value = excluded.return_value,
				item_condition = excluded.item_condition,
				photos_ref = excluded.photos_ref,
				verified_by = excluded.verified_by,
				return_entry_id = excluded.return_entry_id`,
			it.ID.String(), loanID.String(), i, it.Description, it.Metal, it.WeightGrams, it.Purity, it.DepositDate,
			it.ReturnDate, it.ReturnedWeight, it.ReturnValue.Int64(), it.Condition, it.PhotosRef, it.VerifiedBy,
			nullUUID(it.ReturnEntryID),
		)
		if err != nil {
			return fmt.Errorf("failed to save collateral item %s: %w", it.ID, err)
		}
	}
	return nil
}

func loadItems(ctx context.Context, q queryer, loanID uuid.UUID) ([]models.CollateralItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, description, metal, weight_grams, purity, deposit_date, return_date, returned_weight,
		return_value, item_condition, photos_ref, verified_by, return_entry_id
		FROM collateral_items WHERE loan_id = ? ORDER BY seq`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load items for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var items []models.CollateralItem
	for rows.Next() {
		var it models.CollateralItem
		var idStr string
		var returned sql.NullTime
		var entryID sql.NullString
		if err := rows.Scan(&idStr, &it.Description, &it.Metal, &it.WeightGrams, &it.Purity, &it.DepositDate,
			&returned, &it.ReturnedWeight, &it.ReturnValue, &it.Condition, &it.PhotosRef, &it.VerifiedBy, &entryID); err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		it.ID = uuid.MustParse(idStr)
		it.DepositDate = it.DepositDate.UTC()
		it.ReturnDate = nullTime(returned)
		if entryID.Valid {
			id := uuid.MustParse(entryID.String)
			it.ReturnEntryID = &id
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during item rows iteration: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// unsecured loans
// ---------------------------------------------------------------------------

const unsecuredColumns = `id, counterparty_key, kind, direction, principal_original, principal_remaining,
	monthly_rate_pct, taken_date, due_date, next_interest_due_date, status, closed_at, version, created_at, updated_at`

func (s *SQLiteStore) CreateUnsecuredLoan(ctx context.Context, loan *models.UnsecuredLoan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if loan.Version == 0 {
		loan.Version = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO unsecured_loans (`+unsecuredColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CounterpartyKey, loan.Kind, loan.Direction, loan.PrincipalOriginal.Int64(),
		loan.PrincipalRemaining.Int64(), loan.MonthlyRatePct, loan.TakenDate, loan.DueDate, loan.NextInterestDueDate,
		loan.Status, loan.ClosedAt, loan.Version, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create unsecured loan: %w", err)
	}
	if err := upsertEntries(ctx, tx, models.LoanKindUnsecured, loan.PaymentHistory); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetUnsecuredLoan(ctx context.Context, id uuid.UUID) (*models.UnsecuredLoan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+unsecuredColumns+` FROM unsecured_loans WHERE id = ?`, id.String())
	loan, err := scanUnsecured(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("unsecured loan %s: %w", id, ErrLoanNotFound)
		}
		return nil, fmt.Errorf("failed to get unsecured loan: %w", err)
	}
	if loan.PaymentHistory, err = loadEntries(ctx, s.db, loan.ID); err != nil {
		return nil, err
	}
	return loan, nil
}

func (s *SQLiteStore) UpdateUnsecuredLoan(ctx context.Context, loan *models.UnsecuredLoan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE unsecured_loans SET principal_remaining = ?, due_date = ?, next_interest_due_date = ?, status = ?,
		closed_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		loan.PrincipalRemaining.Int64(), loan.DueDate, loan.NextInterestDueDate, loan.Status, loan.ClosedAt,
		loan.UpdatedAt, loan.ID.String(), loan.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update unsecured loan: %w", err)
	}
	if err := checkUpdated(ctx, tx, result, "unsecured_loans", loan.ID); err != nil {
		return err
	}
	if err := upsertEntries(ctx, tx, models.LoanKindUnsecured, loan.PaymentHistory); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unsecured loan: %w", err)
	}
	loan.Version++
	return nil
}

func (s *SQLiteStore) ListUnsecuredLoans(ctx context.Context, filter LoanFilter) ([]*models.UnsecuredLoan, error) {
	where, args := filterClause("counterparty_key", filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+unsecuredColumns+` FROM unsecured_loans`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsecured loans: %w", err)
	}
	var loans []*models.UnsecuredLoan
	for rows.Next() {
		loan, err := scanUnsecured(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan unsecured loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	rows.Close()

	for _, loan := range loans {
		if loan.PaymentHistory, err = loadEntries(ctx, s.db, loan.ID); err != nil {
			return nil, err
		}
	}
	return loans, nil
}

func scanUnsecured(row rowScanner) (*models.UnsecuredLoan, error) {
	var loan models.UnsecuredLoan
	var idStr string
	var due, nextDue, closed sql.NullTime
	err := row.Scan(&idStr, &loan.CounterpartyKey, &loan.Kind, &loan.Direction, &loan.PrincipalOriginal,
		&loan.PrincipalRemaining, &loan.MonthlyRatePct, &loan.TakenDate, &due, &nextDue, &loan.Status, &closed,
		&loan.Version, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	loan.TakenDate = loan.TakenDate.UTC()
	loan.CreatedAt = loan.CreatedAt.UTC()
	loan.UpdatedAt = loan.UpdatedAt.UTC()
	loan.DueDate = nullTime(due)
	loan.NextInterestDueDate = nullTime(nextDue)
	loan.ClosedAt = nullTime(closed)
	return &loan, nil
}

// ---------------------------------------------------------------------------
// ledger entries
// ---------------------------------------------------------------------------

// upsertEntries appends new entries. For entries already stored only the
// cancellation flag can change.
func upsertEntries(ctx context.Context, q queryer, kind models.LoanKind, entries []models.LedgerEntry) error {
	for i, e := range entries {
		itemIDs, err := json.Marshal(e.ItemIDs)
		if err != nil {
			return fmt.Errorf("failed to encode item ids: %w", err)
		}
		detail, err := json.Marshal(e.Return)
		if err != nil {
			return fmt.Errorf("failed to encode return detail: %w", err)
		}
		_, err = q.ExecContext(ctx,
			`INSERT INTO ledger_entries (id, loan_id, loan_kind, seq, kind, entry_date, principal_component,
			interest_component, amount, outstanding_before, outstanding_after, method, reference, notes,
			item_ids_json, return_json, status, cancelled_at, cancel_reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				cancelled_at = excluded.cancelled_at,
				cancel_reason = excluded.cancel_reason`,
			e.ID.String(), e.LoanID.String(), kind, i, e.Kind, e.Date, e.PrincipalComponent.Int64(),
			e.InterestComponent.Int64(), e.Amount.Int64(), e.OutstandingBefore.Int64(), e.OutstandingAfter.Int64(),
			e.Method, e.Reference, e.Notes, string(itemIDs), string(detail), e.Status, e.CancelledAt,
			e.CancelReason, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save ledger entry %s: %w", e.ID, err)
		}
	}
	return nil
}

func loadEntries(ctx context.Context, q queryer, loanID uuid.UUID) ([]models.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, loan_id, kind, entry_date, principal_component, interest_component, amount, outstanding_before,
		outstanding_after, method, reference, notes, item_ids_json, return_json, status, cancelled_at,
		cancel_reason, created_at
		FROM ledger_entries WHERE loan_id = ? ORDER BY seq`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load entries for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var idStr, loanIDStr string
		var itemIDs, detail sql.NullString
		var cancelled sql.NullTime
		if err := rows.Scan(&idStr, &loanIDStr, &e.Kind, &e.Date, &e.PrincipalComponent, &e.InterestComponent,
			&e.Amount, &e.OutstandingBefore, &e.OutstandingAfter, &e.Method, &e.Reference, &e.Notes, &itemIDs,
			&detail, &e.Status, &cancelled, &e.CancelReason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		e.ID = uuid.MustParse(idStr)
		e.LoanID = uuid.MustParse(loanIDStr)
		e.Date = e.Date.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		e.CancelledAt = nullTime(cancelled)
		if itemIDs.Valid {
			if err := json.Unmarshal([]byte(itemIDs.String), &e.ItemIDs); err != nil {
				return nil, fmt.Errorf("failed to decode item ids of entry %s: %w", e.ID, err)
			}
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Return); err != nil {
				return nil, fmt.Errorf("failed to decode return detail of entry %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during entry rows iteration: %w", err)
	}
	return entries, nil
}

// ---------------------------------------------------------------------------
// transactions
// ---------------------------------------------------------------------------

// CreateTransaction inserts a settlement record.
func (s *SQLiteStore) CreateTransaction(ctx context.Context, transaction *models.Transaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, loan_id, entry_id, loan_kind, amount, direction, category, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		transaction.ID.String(), transaction.LoanID.String(), nullUUID(transaction.EntryID), transaction.LoanKind,
		transaction.Amount.Int64(), transaction.Direction, transaction.Category, transaction.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetTransactionsForLoan retrieves all settlement records for a loan in the
// order they were written.
func (s *SQLiteStore) GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, loan_id, entry_id, loan_kind, amount, direction, category, timestamp
		FROM transactions WHERE loan_id = ? ORDER BY timestamp ASC, rowid ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		var transaction models.Transaction
		var txIDStr, loanIDStr string
		var entryID sql.NullString
		if err := rows.Scan(&txIDStr, &loanIDStr, &entryID, &transaction.LoanKind, &transaction.Amount,
			&transaction.Direction, &transaction.Category, &transaction.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transaction.ID = uuid.MustParse(txIDStr)
		transaction.LoanID = uuid.MustParse(loanIDStr)
		transaction.Timestamp = transaction.Timestamp.UTC()
		if entryID.Valid {
			id := uuid.MustParse(entryID.String)
			transaction.EntryID = &id
		}
		transactions = append(transactions, &transaction)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan transactions: %w", err)
	}
	return transactions, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// checkUpdated distinguishes a missing loan from a stale version when an
// optimistic update touched no rows.
func checkUpdated(ctx context.Context, q queryer, result sql.Result, table string, id uuid.UUID) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = q.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", table), id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("loan %s: %w", id, ErrLoanNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check loan %s: %w", id, err)
	}
	return fmt.Errorf("loan %s: %w", id, ErrConcurrentModification)
}

func filterClause(partyColumn string, f LoanFilter) (string, []any) {
	var conds []string
	var args []any
	if f.PartyKey != "" {
		conds = append(conds, partyColumn+" = ?")
		args = append(args, f.PartyKey)
	}
	if len(f.Statuses) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(f.Statuses)), ",")
		conds = append(conds, "status IN ("+marks+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
