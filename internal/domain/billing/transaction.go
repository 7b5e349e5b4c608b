package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusRetry      Status = "RETRY"
)

// IsTerminal reports whether the status is final. SUCCESS and FAILED rows
// are never touched again by delivery or reconciliation.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// IsValid reports whether s is a known transaction status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed, StatusRetry:
		return true
	}
	return false
}

// Transaction is the durable billing record, one per toll event. The
// toll_event_id unique constraint is the idempotency backstop; last_updated
// is stamped by a storage-level trigger on every update.
type Transaction struct {
	ID                   int64           `json:"id"`
	TollEventID          string          `json:"toll_event_id"`
	VehicleID            string          `json:"vehicle_id"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Status               Status          `json:"status"`
	TransactionTime      time.Time       `json:"transaction_time"`
	LastUpdated          time.Time       `json:"last_updated"`
	PaymentGatewayRef    *string         `json:"payment_gateway_ref,omitempty"`
	PaymentMethodDetails *string         `json:"payment_method_details,omitempty"`
	ErrorMessage         *string         `json:"error_message,omitempty"`
	RetryCount           int             `json:"retry_count"`
}
