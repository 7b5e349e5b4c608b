package billing

import (
	"context"
	"time"
)

// Repository defines the interface for billing transaction persistence
type Repository interface {
	// Insert creates a PENDING row for the toll event and fills in the
	// generated ID. Returns ErrDuplicateTollEvent when a row for the same
	// toll_event_id already exists.
	Insert(ctx context.Context, tx *Transaction) error

	// GetByTollEventID retrieves a transaction by its business key.
	// Returns ErrTransactionNotFound when no row exists.
	GetByTollEventID(ctx context.Context, tollEventID string) (*Transaction, error)

	// GetByID retrieves a transaction by surrogate id
	GetByID(ctx context.Context, id int64) (*Transaction, error)

	// MarkProcessing moves a non-terminal row to PROCESSING and increments
	// retry_count, returning the new count. Returns ErrTransactionSettled
	// when the row has already reached a terminal status (or is gone), so a
	// late caller never re-drives a settled charge.
	MarkProcessing(ctx context.Context, id int64) (int, error)

	// Finalize writes the terminal status together with the gateway
	// reference and error message.
	Finalize(ctx context.Context, id int64, status Status, gatewayRef, errorMessage *string) error

	// ListByVehicle returns recent transactions for a vehicle, optionally
	// filtered by status.
	ListByVehicle(ctx context.Context, vehicleID string, status Status, limit int) ([]*Transaction, error)

	// ClaimStale atomically moves non-terminal rows whose last_updated is
	// older than the cutoff to PROCESSING, counting the attempt, and returns
	// the claimed rows. Claiming refreshes last_updated, so a row claimed by
	// one sweeper no longer matches another sweeper's cutoff.
	ClaimStale(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error)
}
