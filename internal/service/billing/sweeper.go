package billing

import (
	"context"
	"time"

	domain "github.com/tollgrid/smarttoll/internal/domain/billing"
	"github.com/tollgrid/smarttoll/pkg/logger"
	"github.com/tollgrid/smarttoll/pkg/metrics"
)

const defaultSweepBatch = 50

// SweeperConfig tunes the reconciliation sweeper.
type SweeperConfig struct {
	// Interval between sweeps.
	Interval time.Duration

	// StaleAfter is how long a row may sit in PENDING or PROCESSING before
	// it is considered abandoned.
	StaleAfter time.Duration

	// BatchSize caps rows per sweep.
	BatchSize int
}

// Sweeper re-drives transactions abandoned mid-workflow by a crash or
// shutdown. A duplicate delivery of the same toll event skips such rows at
// the idempotency probe, so without the sweeper they would sit in PENDING
// or PROCESSING forever.
type Sweeper struct {
	repo     domain.Repository
	workflow *Workflow
	config   SweeperConfig
	metrics  *metrics.BillingMetrics
	log      *logger.Logger
}

// NewSweeper creates the reconciliation sweeper.
func NewSweeper(repo domain.Repository, workflow *Workflow, config SweeperConfig, m *metrics.BillingMetrics, log *logger.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 5 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultSweepBatch
	}
	return &Sweeper{
		repo:     repo,
		workflow: workflow,
		config:   config,
		metrics:  m,
		log:      log.Named("sweeper"),
	}
}

// Run sweeps on every interval tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("reconciliation sweeper started",
		logger.Duration("interval", s.config.Interval),
		logger.Duration("stale_after", s.config.StaleAfter),
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("reconciliation sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep claims and advances one batch of stale rows. The claim is atomic
// in storage, so overlapping sweepers split the backlog instead of racing
// for the same transactions. Failures are logged and left for the next tick.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.StaleAfter)
	rows, err := s.repo.ClaimStale(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		s.log.Warn("stale transaction claim failed", logger.Err(err))
		return
	}
	if len(rows) == 0 {
		return
	}

	s.log.Info("sweeping stale transactions", logger.Int("count", len(rows)))
	for _, tx := range rows {
		if ctx.Err() != nil {
			return
		}
		if err := s.workflow.Reconcile(ctx, tx); err != nil {
			s.log.Warn("reconciliation attempt failed",
				logger.Int64("transaction_id", tx.ID),
				logger.String("toll_event_id", tx.TollEventID),
				logger.Err(err),
			)
			continue
		}
		s.metrics.ReconciledRows.Inc()
	}
}
