package dto

import (
	"encoding/json"
	"time"

	"github.com/tollgrid/smarttoll/internal/domain/billing"
)

// TransactionResponse is the API rendering of a billing transaction.
// Amount is a json.Number so it serializes as a bare number with exactly
// two fractional digits.
type TransactionResponse struct {
	ID                int64       `json:"id"`
	TollEventID       string      `json:"toll_event_id"`
	VehicleID         string      `json:"vehicle_id"`
	Amount            json.Number `json:"amount"`
	Currency          string      `json:"currency"`
	Status            string      `json:"status"`
	TransactionTime   time.Time   `json:"transaction_time"`
	LastUpdated       time.Time   `json:"last_updated"`
	PaymentGatewayRef *string     `json:"payment_gateway_ref,omitempty"`
	ErrorMessage      *string     `json:"error_message,omitempty"`
	RetryCount        int         `json:"retry_count"`
}

// NewTransactionResponse converts a domain transaction to its API shape.
func NewTransactionResponse(tx *billing.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:                tx.ID,
		TollEventID:       tx.TollEventID,
		VehicleID:         tx.VehicleID,
		Amount:            json.Number(tx.Amount.StringFixed(2)),
		Currency:          tx.Currency,
		Status:            string(tx.Status),
		TransactionTime:   tx.TransactionTime,
		LastUpdated:       tx.LastUpdated,
		PaymentGatewayRef: tx.PaymentGatewayRef,
		ErrorMessage:      tx.ErrorMessage,
		RetryCount:        tx.RetryCount,
	}
}

// TransactionListResponse wraps a vehicle's transaction history.
type TransactionListResponse struct {
	VehicleID    string                `json:"vehicle_id"`
	Count        int                   `json:"count"`
	Transactions []TransactionResponse `json:"transactions"`
}

// NewTransactionListResponse converts a result set. An empty set marshals
// as [] rather than null.
func NewTransactionListResponse(vehicleID string, txs []*billing.Transaction) TransactionListResponse {
	out := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, NewTransactionResponse(tx))
	}
	return TransactionListResponse{
		VehicleID:    vehicleID,
		Count:        len(out),
		Transactions: out,
	}
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is returned by the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadyResponse is returned by the readiness endpoint.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
