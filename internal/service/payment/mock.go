package payment

import (
	"context"
	"encoding/hex"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/tollgrid/smarttoll/internal/domain/payment"
	"github.com/tollgrid/smarttoll/pkg/logger"
)

// transientFailureRate is the chance of a simulated network timeout,
// independent of the configured decline rate.
const transientFailureRate = 0.03

var declineOutcomes = []domain.GatewayError{
	{Code: domain.CodeInsufficientFunds, Message: "Insufficient funds"},
	{Code: domain.CodeCardDeclined, Message: "Card declined"},
	{Code: domain.CodeAccountFrozen, Message: "Account frozen"},
	{Code: domain.CodeInvalidCard, Message: "Invalid card details"},
	{Code: domain.CodeExpiredCard, Message: "Expired card"},
}

// MockConfig tunes the simulated gateway.
type MockConfig struct {
	// FailRate is the probability in [0,1] of a decline.
	FailRate float64

	// Timeout caps a single charge call.
	Timeout time.Duration

	// MinDelay and MaxDelay bound the simulated round-trip.
	MinDelay time.Duration
	MaxDelay time.Duration

	// Seed fixes the random sequence; 0 seeds from the clock.
	Seed int64
}

// MockGateway simulates an external payment processor for development and
// tests. No money moves.
type MockGateway struct {
	config MockConfig
	log    *logger.Logger

	mu  sync.Mutex // rand.Rand is not goroutine-safe
	rng *rand.Rand
}

// NewMockGateway creates the simulated gateway.
func NewMockGateway(config MockConfig, log *logger.Logger) *MockGateway {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MinDelay <= 0 {
		config.MinDelay = 50 * time.Millisecond
	}
	if config.MaxDelay < config.MinDelay {
		config.MaxDelay = 300 * time.Millisecond
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockGateway{
		config: config,
		log:    log.Named("mockgw"),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Charge simulates one gateway round-trip: a 50-300 ms delay, a small
// chance of a network timeout, then a decline roll against FailRate.
func (g *MockGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	g.log.Info("initiating payment",
		logger.Int64("transaction_id", req.TransactionID),
		logger.String("toll_event_id", req.TollEventID),
		logger.String("vehicle_id", req.VehicleID),
		logger.String("amount", req.Amount.StringFixed(2)),
		logger.String("currency", req.Currency),
	)

	delay, timeoutRoll, declineRoll, declineIdx := g.rolls()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if timeoutRoll < transientFailureRate {
		g.log.Warn("simulated gateway timeout",
			logger.Int64("transaction_id", req.TransactionID))
		return nil, &domain.GatewayError{
			Code:    domain.CodeGatewayTimeout,
			Message: "Simulated network timeout",
		}
	}

	if declineRoll < g.config.FailRate {
		decline := declineOutcomes[declineIdx]
		g.log.Warn("payment declined",
			logger.Int64("transaction_id", req.TransactionID),
			logger.String("code", string(decline.Code)),
		)
		return nil, &decline
	}

	ref := newGatewayRef()
	g.log.Info("payment succeeded",
		logger.Int64("transaction_id", req.TransactionID),
		logger.String("gateway_ref", ref),
	)
	return &ChargeResponse{Reference: ref}, nil
}

// rolls draws all random numbers under one lock so concurrent charges do
// not interleave mid-decision.
func (g *MockGateway) rolls() (delay time.Duration, timeoutRoll, declineRoll float64, declineIdx int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	span := int64(g.config.MaxDelay - g.config.MinDelay)
	delay = g.config.MinDelay
	if span > 0 {
		delay += time.Duration(g.rng.Int63n(span + 1))
	}
	timeoutRoll = g.rng.Float64()
	declineRoll = g.rng.Float64()
	declineIdx = g.rng.Intn(len(declineOutcomes))
	return delay, timeoutRoll, declineRoll, declineIdx
}

func newGatewayRef() string {
	u := uuid.New()
	return "MOCKGW_" + strings.ToUpper(hex.EncodeToString(u[:8]))
}
