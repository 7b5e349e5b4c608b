package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeRequest carries everything the gateway needs for one charge.
type ChargeRequest struct {
	TransactionID int64
	TollEventID   string // idempotency key when the gateway supports one
	VehicleID     string
	Amount        decimal.Decimal
	Currency      string
}

// ChargeResponse is a successful gateway outcome.
type ChargeResponse struct {
	Reference string
	Details   string
}

// Gateway is the synchronous payment processor boundary. Failures are
// either a *payment.GatewayError (typed decline or timeout, finalized as
// FAILED) or an infrastructure error (retried upstream).
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error)
}
