package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/tollgrid/smarttoll/internal/domain/billing"
	paydomain "github.com/tollgrid/smarttoll/internal/domain/payment"
	"github.com/tollgrid/smarttoll/internal/domain/toll"
	"github.com/tollgrid/smarttoll/internal/service/payment"
	"github.com/tollgrid/smarttoll/pkg/logger"
	"github.com/tollgrid/smarttoll/pkg/metrics"
)

// ResultPublisher delivers payment results downstream.
type ResultPublisher interface {
	PublishPaymentResult(ctx context.Context, result *paydomain.Result) error
}

// Workflow executes the billing transaction for toll events: idempotency
// probe, PENDING insert, PROCESSING mark, gateway charge, finalize and
// publish. A nil return means the offset may be committed; an error means
// the record must be redelivered.
type Workflow struct {
	repo    domain.Repository
	gateway payment.Gateway
	pub     ResultPublisher
	metrics *metrics.BillingMetrics
	log     *logger.Logger
}

// NewWorkflow creates the billing workflow.
func NewWorkflow(repo domain.Repository, gateway payment.Gateway, pub ResultPublisher, m *metrics.BillingMetrics, log *logger.Logger) *Workflow {
	return &Workflow{
		repo:    repo,
		gateway: gateway,
		pub:     pub,
		metrics: m,
		log:     log.Named("billing"),
	}
}

// ProcessTollEvent bills one toll event end to end.
func (w *Workflow) ProcessTollEvent(ctx context.Context, event *toll.TollEvent) error {
	// Idempotency probe. Any existing row means a previous delivery got
	// here first: skip without touching the gateway and without publishing
	// a second result. FAILED rows are not retried by redelivery; stuck
	// PENDING/PROCESSING rows are advanced by the reconciliation sweeper.
	existing, err := w.repo.GetByTollEventID(ctx, event.EventID)
	if err != nil && !errors.Is(err, domain.ErrTransactionNotFound) {
		return fmt.Errorf("idempotency probe for %s: %w", event.EventID, err)
	}
	if existing != nil {
		w.metrics.Transactions.WithLabelValues("duplicate").Inc()
		w.log.Info("duplicate toll event ignored",
			logger.String("toll_event_id", event.EventID),
			logger.Int64("transaction_id", existing.ID),
			logger.String("status", string(existing.Status)),
		)
		return nil
	}

	tx := &domain.Transaction{
		TollEventID: event.EventID,
		VehicleID:   event.VehicleID,
		Amount:      event.TollAmount,
		Currency:    event.Currency,
	}
	err = w.repo.Insert(ctx, tx)
	if errors.Is(err, domain.ErrDuplicateTollEvent) {
		// Lost a concurrent race for the same event; the winner bills it.
		w.metrics.Transactions.WithLabelValues("duplicate").Inc()
		w.log.Info("concurrent duplicate toll event ignored",
			logger.String("toll_event_id", event.EventID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert transaction for %s: %w", event.EventID, err)
	}

	retryCount, err := w.repo.MarkProcessing(ctx, tx.ID)
	if errors.Is(err, domain.ErrTransactionSettled) {
		// The sweeper settled our freshly inserted row before we could
		// claim it. Same treatment as a duplicate: commit without charging.
		w.metrics.Transactions.WithLabelValues("duplicate").Inc()
		w.log.Info("transaction settled before claim, skipping",
			logger.String("toll_event_id", event.EventID),
			logger.Int64("transaction_id", tx.ID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark transaction %d processing: %w", tx.ID, err)
	}
	tx.RetryCount = retryCount

	return w.settle(ctx, tx)
}

// Reconcile drives a transaction claimed by ClaimStale through the gateway
// and finalization. The row is re-read first: a caller's snapshot may
// predate another actor settling the transaction, and a settled charge
// must never reach the gateway twice. The toll event itself is not
// redelivered here, the row already carries everything needed.
func (w *Workflow) Reconcile(ctx context.Context, tx *domain.Transaction) error {
	current, err := w.repo.GetByID(ctx, tx.ID)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reload transaction %d: %w", tx.ID, err)
	}
	if current.Status.IsTerminal() {
		return nil
	}

	w.log.Info("reconciling stale transaction",
		logger.Int64("transaction_id", current.ID),
		logger.String("toll_event_id", current.TollEventID),
		logger.Int("retry_count", current.RetryCount),
	)
	return w.settle(ctx, current)
}

// settle charges the gateway for a PROCESSING row, persists the terminal
// status and publishes the PaymentResult.
func (w *Workflow) settle(ctx context.Context, tx *domain.Transaction) error {
	start := time.Now()
	resp, chargeErr := w.gateway.Charge(ctx, payment.ChargeRequest{
		TransactionID: tx.ID,
		TollEventID:   tx.TollEventID,
		VehicleID:     tx.VehicleID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
	})
	w.metrics.GatewayDuration.Observe(time.Since(start).Seconds())

	var (
		finalStatus  domain.Status
		gatewayRef   *string
		errorMessage *string
	)
	switch {
	case chargeErr == nil:
		finalStatus = domain.StatusSuccess
		gatewayRef = &resp.Reference
		w.metrics.GatewayCalls.WithLabelValues("success").Inc()

	case errors.Is(chargeErr, context.Canceled):
		// Shutdown mid-charge: the outcome is unknown, leave the row
		// PROCESSING for the sweeper instead of guessing.
		w.metrics.GatewayCalls.WithLabelValues("error").Inc()
		return fmt.Errorf("gateway charge for transaction %d interrupted: %w", tx.ID, chargeErr)

	default:
		finalStatus = domain.StatusFailed
		msg := gatewayFailureMessage(chargeErr)
		errorMessage = &msg
		if _, ok := paydomain.AsGatewayError(chargeErr); ok {
			w.metrics.GatewayCalls.WithLabelValues("declined").Inc()
		} else {
			w.metrics.GatewayCalls.WithLabelValues("error").Inc()
		}
		w.log.Warn("payment failed",
			logger.Int64("transaction_id", tx.ID),
			logger.String("toll_event_id", tx.TollEventID),
			logger.String("reason", msg),
		)
	}

	result := &paydomain.Result{
		EventID:       tx.TollEventID,
		TransactionID: &tx.ID,
		VehicleID:     tx.VehicleID,
		Status:        resultStatus(finalStatus),
		ProcessedTime: time.Now().UnixMilli(),
	}
	if gatewayRef != nil {
		result.GatewayReference = *gatewayRef
	}
	if errorMessage != nil {
		result.ErrorMessage = *errorMessage
	}

	if err := w.repo.Finalize(ctx, tx.ID, finalStatus, gatewayRef, errorMessage); err != nil {
		// The gateway has already moved (or refused) the money: downstream
		// must learn the outcome even though our own record is stale. The
		// uncommitted offset keeps the row on the sweeper's radar.
		w.log.Error("final status write failed, publishing result anyway",
			logger.Int64("transaction_id", tx.ID),
			logger.String("status", string(finalStatus)),
			logger.Err(err),
		)
		if pubErr := w.pub.PublishPaymentResult(ctx, result); pubErr != nil {
			w.log.Error("payment result publish failed after final write failure",
				logger.Int64("transaction_id", tx.ID),
				logger.Err(pubErr),
			)
		}
		return fmt.Errorf("finalize transaction %d: %w", tx.ID, err)
	}

	if err := w.pub.PublishPaymentResult(ctx, result); err != nil {
		return fmt.Errorf("publish payment result for transaction %d: %w", tx.ID, err)
	}

	w.metrics.Transactions.WithLabelValues(string(finalStatus)).Inc()
	w.log.Info("transaction settled",
		logger.Int64("transaction_id", tx.ID),
		logger.String("toll_event_id", tx.TollEventID),
		logger.String("status", string(finalStatus)),
		logger.String("amount", tx.Amount.StringFixed(2)),
	)
	return nil
}

// gatewayFailureMessage renders the persisted error message: typed gateway
// failures keep their "<code>: <message>" form, anything else is wrapped
// as an unexpected system error.
func gatewayFailureMessage(err error) string {
	if ge, ok := paydomain.AsGatewayError(err); ok {
		return ge.Error()
	}
	return fmt.Sprintf("Unexpected system error: %v", err)
}

func resultStatus(status domain.Status) paydomain.ResultStatus {
	if status == domain.StatusSuccess {
		return paydomain.ResultSuccess
	}
	return paydomain.ResultFailed
}
