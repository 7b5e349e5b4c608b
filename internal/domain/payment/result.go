package payment

// ResultStatus is the outcome of a billing attempt as seen by downstream
// consumers.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFailed  ResultStatus = "FAILED"
)

// Result is the wire record published after the billing workflow reaches a
// payment outcome. It is keyed by vehicle id so downstream readers observe
// each vehicle's payments in issuance order. TransactionID may be nil when
// the outcome could not be recorded in the transaction store.
type Result struct {
	EventID          string       `json:"event_id"`
	TransactionID    *int64       `json:"transaction_id"`
	VehicleID        string       `json:"vehicle_id"`
	Status           ResultStatus `json:"status"`
	GatewayReference string       `json:"gateway_reference,omitempty"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	ProcessedTime    int64        `json:"processed_time"` // epoch ms
}
