package payment

import (
	"errors"
	"fmt"
)

// ErrorCode classifies gateway declines and timeouts.
type ErrorCode string

const (
	CodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	CodeCardDeclined      ErrorCode = "CARD_DECLINED"
	CodeAccountFrozen     ErrorCode = "ACCOUNT_FROZEN"
	CodeInvalidCard       ErrorCode = "INVALID_CARD"
	CodeExpiredCard       ErrorCode = "EXPIRED_CARD"
	CodeGatewayTimeout    ErrorCode = "GW_TIMEOUT"
)

// GatewayError is a typed payment failure. Any gateway error, including a
// timeout, finalizes the transaction as FAILED; only infrastructure errors
// outside this type are retried.
type GatewayError struct {
	Code    ErrorCode
	Message string
}

// Error renders the persisted error message format.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsGatewayError extracts a GatewayError from an error chain.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
