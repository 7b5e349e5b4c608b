package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	domain "github.com/tollgrid/smarttoll/internal/domain/billing"
	"github.com/tollgrid/smarttoll/pkg/logger"
)

func newTestSweeper(repo *memRepo, w *Workflow) *Sweeper {
	return NewSweeper(repo, w, SweeperConfig{
		Interval:   time.Minute,
		StaleAfter: 5 * time.Minute,
		BatchSize:  10,
	}, billingTestMetrics, logger.NewNop())
}

// TestSweep_AdvancesStaleRows tests that abandoned rows reach a terminal state
func TestSweep_AdvancesStaleRows(t *testing.T) {
	repo := newMemRepo()
	gw := &stubGateway{}
	pub := &captureResults{}
	w := newTestWorkflow(repo, gw, pub)

	old := time.Now().Add(-10 * time.Minute)
	first := repo.seed(&domain.Transaction{
		TollEventID: "evt-0101",
		VehicleID:   "VEH-1",
		Amount:      decimal.RequireFromString("0.23"),
		Currency:    "USD",
		Status:      domain.StatusPending,
		LastUpdated: old,
	})
	second := repo.seed(&domain.Transaction{
		TollEventID: "evt-0102",
		VehicleID:   "VEH-2",
		Amount:      decimal.RequireFromString("1.80"),
		Currency:    "USD",
		Status:      domain.StatusProcessing,
		LastUpdated: old,
	})

	newTestSweeper(repo, w).Sweep(context.Background())

	assert.Equal(t, domain.StatusSuccess, first.Status)
	assert.Equal(t, domain.StatusSuccess, second.Status)
	assert.Equal(t, 2, gw.calls)
	assert.Len(t, pub.results, 2)
}

// TestSweep_IgnoresFreshAndTerminalRows tests sweep selection boundaries
func TestSweep_IgnoresFreshAndTerminalRows(t *testing.T) {
	repo := newMemRepo()
	gw := &stubGateway{}
	pub := &captureResults{}
	w := newTestWorkflow(repo, gw, pub)

	fresh := repo.seed(&domain.Transaction{
		TollEventID: "evt-0201",
		VehicleID:   "VEH-1",
		Amount:      decimal.RequireFromString("0.23"),
		Currency:    "USD",
		Status:      domain.StatusPending,
		LastUpdated: time.Now(),
	})
	failed := repo.seed(&domain.Transaction{
		TollEventID: "evt-0202",
		VehicleID:   "VEH-2",
		Amount:      decimal.RequireFromString("0.50"),
		Currency:    "USD",
		Status:      domain.StatusFailed,
		LastUpdated: time.Now().Add(-time.Hour),
	})

	newTestSweeper(repo, w).Sweep(context.Background())

	assert.Equal(t, domain.StatusPending, fresh.Status, "fresh rows are in-flight, not stale")
	assert.Equal(t, domain.StatusFailed, failed.Status, "FAILED is terminal")
	assert.Zero(t, gw.calls)
	assert.Empty(t, pub.results)
}

// TestSweep_ClaimFailureIsQuiet tests that a failing claim waits for the
// next tick
func TestSweep_ClaimFailureIsQuiet(t *testing.T) {
	repo := newMemRepo()
	repo.claimErr = errors.New("connection refused")
	gw := &stubGateway{}
	pub := &captureResults{}
	w := newTestWorkflow(repo, gw, pub)

	newTestSweeper(repo, w).Sweep(context.Background())

	assert.Zero(t, gw.calls)
	assert.Empty(t, pub.results)
}

// TestSweep_FailedReconcileLeavesRowForNextTick tests per-row error isolation
func TestSweep_FailedReconcileLeavesRowForNextTick(t *testing.T) {
	repo := newMemRepo()
	gw := &stubGateway{}
	pub := &captureResults{err: errors.New("broker unavailable")}
	w := newTestWorkflow(repo, gw, pub)

	old := time.Now().Add(-10 * time.Minute)
	row := repo.seed(&domain.Transaction{
		TollEventID: "evt-0301",
		VehicleID:   "VEH-1",
		Amount:      decimal.RequireFromString("0.23"),
		Currency:    "USD",
		Status:      domain.StatusPending,
		LastUpdated: old,
	})

	sweeper := newTestSweeper(repo, w)
	sweeper.Sweep(context.Background())

	assert.False(t, row.Status.IsTerminal(), "row must remain sweepable")
	assert.Equal(t, 1, gw.calls)

	// The claim refreshed last_updated, so an overlapping sweep finds
	// nothing and the gateway is not hit again until the row goes stale.
	sweeper.Sweep(context.Background())
	assert.Equal(t, 1, gw.calls, "claimed rows are invisible to other sweeps")
}

// TestRun_StopsOnContextCancel tests sweeper shutdown
func TestRun_StopsOnContextCancel(t *testing.T) {
	repo := newMemRepo()
	w := newTestWorkflow(repo, &stubGateway{}, &captureResults{})
	sweeper := NewSweeper(repo, w, SweeperConfig{
		Interval:   10 * time.Millisecond,
		StaleAfter: time.Minute,
	}, billingTestMetrics, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}
