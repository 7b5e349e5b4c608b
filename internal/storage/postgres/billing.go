package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/tollgrid/smarttoll/internal/domain/billing"
)

// uniqueViolation is the Postgres error code for unique constraint breaks.
const uniqueViolation = "23505"

// TransactionRepo implements billing.Repository on PostgreSQL.
type TransactionRepo struct {
	db *sql.DB
}

// NewTransactionRepo creates a transaction repository.
func NewTransactionRepo(db *sql.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

const transactionColumns = `
	id, toll_event_id, vehicle_id, amount, currency, status,
	transaction_time, last_updated, payment_gateway_ref,
	payment_method_details, error_message, retry_count`

// Insert creates a PENDING row. The unique index on toll_event_id wins any
// concurrent race: a violation surfaces as ErrDuplicateTollEvent.
func (r *TransactionRepo) Insert(ctx context.Context, tx *billing.Transaction) error {
	const query = `
		INSERT INTO billing_transactions
			(toll_event_id, vehicle_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, transaction_time, last_updated`

	err := r.db.QueryRowContext(ctx, query,
		tx.TollEventID,
		tx.VehicleID,
		tx.Amount.StringFixed(2),
		tx.Currency,
		string(billing.StatusPending),
	).Scan(&tx.ID, &tx.TransactionTime, &tx.LastUpdated)

	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrDuplicateTollEvent
		}
		return fmt.Errorf("insert transaction %s: %w", tx.TollEventID, err)
	}
	tx.Status = billing.StatusPending
	return nil
}

// GetByTollEventID retrieves a transaction by its business key.
func (r *TransactionRepo) GetByTollEventID(ctx context.Context, tollEventID string) (*billing.Transaction, error) {
	query := `SELECT` + transactionColumns + `
		FROM billing_transactions WHERE toll_event_id = $1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, tollEventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction by toll event %s: %w", tollEventID, err)
	}
	return tx, nil
}

// GetByID retrieves a transaction by surrogate id.
func (r *TransactionRepo) GetByID(ctx context.Context, id int64) (*billing.Transaction, error) {
	query := `SELECT` + transactionColumns + `
		FROM billing_transactions WHERE id = $1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return tx, nil
}

// MarkProcessing moves the row to PROCESSING and counts the attempt. The
// status predicate makes the claim conditional: a row another worker has
// already finalized matches no rows, and the caller must not charge it again.
func (r *TransactionRepo) MarkProcessing(ctx context.Context, id int64) (int, error) {
	const query = `
		UPDATE billing_transactions
		SET status = $2, retry_count = retry_count + 1
		WHERE id = $1 AND status NOT IN ($3, $4)
		RETURNING retry_count`

	var retryCount int
	err := r.db.QueryRowContext(ctx, query, id, string(billing.StatusProcessing),
		string(billing.StatusSuccess), string(billing.StatusFailed)).Scan(&retryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, billing.ErrTransactionSettled
	}
	if err != nil {
		return 0, fmt.Errorf("mark transaction %d processing: %w", id, err)
	}
	return retryCount, nil
}

// Finalize writes the terminal status; last_updated is stamped by the
// storage trigger, not here.
func (r *TransactionRepo) Finalize(ctx context.Context, id int64, status billing.Status, gatewayRef, errorMessage *string) error {
	const query = `
		UPDATE billing_transactions
		SET status = $2, payment_gateway_ref = $3, error_message = $4
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, string(status),
		nullableString(gatewayRef), nullableString(errorMessage))
	if err != nil {
		return fmt.Errorf("finalize transaction %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize transaction %d: %w", id, err)
	}
	if affected == 0 {
		return billing.ErrTransactionNotFound
	}
	return nil
}

// ListByVehicle returns recent transactions for a vehicle, optionally
// filtered by status.
func (r *TransactionRepo) ListByVehicle(ctx context.Context, vehicleID string, status billing.Status, limit int) ([]*billing.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `SELECT` + transactionColumns + `
		FROM billing_transactions WHERE vehicle_id = $1`
	args := []interface{}{vehicleID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY transaction_time DESC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", vehicleID, err)
	}
	defer rows.Close()

	var out []*billing.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("list transactions for %s: %w", vehicleID, err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", vehicleID, err)
	}
	return out, nil
}

// ClaimStale claims non-terminal rows older than the cutoff for this
// sweeper: one statement locks the candidates with SKIP LOCKED, flips them
// to PROCESSING and counts the attempt. The storage trigger refreshes
// last_updated on the claim, so a concurrent sweeper's cutoff no longer
// matches the same rows even after the locks release.
func (r *TransactionRepo) ClaimStale(ctx context.Context, cutoff time.Time, limit int) ([]*billing.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		UPDATE billing_transactions
		SET status = $1, retry_count = retry_count + 1
		WHERE id IN (
			SELECT id FROM billing_transactions
			WHERE status IN ($1, $2) AND last_updated < $3
			ORDER BY last_updated ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + transactionColumns

	rows, err := r.db.QueryContext(ctx, query,
		string(billing.StatusProcessing), string(billing.StatusPending), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("claim stale transactions: %w", err)
	}
	defer rows.Close()

	var out []*billing.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("claim stale transactions: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim stale transactions: %w", err)
	}
	return out, nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (*billing.Transaction, error) {
	var (
		tx            billing.Transaction
		amount        string
		status        string
		gatewayRef    sql.NullString
		methodDetails sql.NullString
		errorMessage  sql.NullString
	)
	err := row.Scan(
		&tx.ID,
		&tx.TollEventID,
		&tx.VehicleID,
		&amount,
		&tx.Currency,
		&status,
		&tx.TransactionTime,
		&tx.LastUpdated,
		&gatewayRef,
		&methodDetails,
		&errorMessage,
		&tx.RetryCount,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	tx.Amount = parsed
	tx.Status = billing.Status(status)
	if gatewayRef.Valid {
		tx.PaymentGatewayRef = &gatewayRef.String
	}
	if methodDetails.Valid {
		tx.PaymentMethodDetails = &methodDetails.String
	}
	if errorMessage.Valid {
		tx.ErrorMessage = &errorMessage.String
	}
	return &tx, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
