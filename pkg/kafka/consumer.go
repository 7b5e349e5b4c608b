package kafka

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	apperrors "github.com/tollgrid/smarttoll/pkg/errors"
	"github.com/tollgrid/smarttoll/pkg/logger"
)

// ConsumerConfig holds consumer group configuration
type ConsumerConfig struct {
	Brokers        []string
	Group          string
	Topics         []string
	ClientID       string
	PollTimeout    time.Duration
	MaxPollRecords int
	DrainTimeout   time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
}

// HandleFunc processes one record. A nil return marks the record handled;
// a Poison-classified error routes it to the error sink and advances past
// it; any other error is treated as transient and retried in place without
// committing.
type HandleFunc func(ctx context.Context, rec *kgo.Record) error

// Consumer is a manual-commit consumer loop. Offsets are committed only
// here, after a batch: every handled record (including poison pills) is
// committed, and nothing past a still-failing record ever is.
type Consumer struct {
	client *kgo.Client
	cfg    ConsumerConfig
	sink   *ErrorSink
	logger *logger.Logger
}

// NewConsumer creates a consumer group client with auto-commit disabled.
func NewConsumer(cfg ConsumerConfig, sink *ErrorSink, log *logger.Logger) (*Consumer, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.MaxPollRecords <= 0 {
		cfg.MaxPollRecords = 100
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 15 * time.Second
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach kafka brokers: %w", err)
	}

	return &Consumer{
		client: client,
		cfg:    cfg,
		sink:   sink,
		logger: log,
	}, nil
}

// Run polls and processes batches until ctx is cancelled. Partitions within
// a batch are processed concurrently; records within a partition strictly
// in order. Rebalances are blocked while a batch is in flight, so committed
// work is never revoked mid-record.
func (c *Consumer) Run(ctx context.Context, handle HandleFunc) error {
	// Records in flight when shutdown begins keep a live context for the
	// drain window, then get hard-cancelled.
	workCtx, workCancel := context.WithCancel(context.Background())
	defer workCancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-workCtx.Done():
			return
		}
		timer := time.NewTimer(c.cfg.DrainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			workCancel()
		case <-workCtx.Done():
		}
	}()

	c.logger.Info("consumer loop started",
		logger.String("group", c.cfg.Group),
		logger.Any("topics", c.cfg.Topics),
	)

	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer loop stopped")
			return nil
		}

		pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		fetches := c.client.PollRecords(pollCtx, c.cfg.MaxPollRecords)
		cancel()

		if fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("fetch error",
				logger.String("topic", topic),
				logger.Int32("partition", partition),
				logger.Err(err),
			)
		})
		if fetches.Empty() {
			continue
		}

		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			handled []*kgo.Record
		)
		fetches.EachPartition(func(part kgo.FetchTopicPartition) {
			records := part.Records
			if len(records) == 0 {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				done := c.processPartition(ctx, workCtx, records, handle)
				mu.Lock()
				handled = append(handled, done...)
				mu.Unlock()
			}()
		})
		wg.Wait()

		if len(handled) > 0 {
			c.commit(handled)
		}
		// The batch is settled; let a pending rebalance proceed before the
		// next poll.
		c.client.AllowRebalance()
	}
}

// processPartition handles one partition's records in order, returning the
// contiguous prefix that is safe to commit.
func (c *Consumer) processPartition(runCtx, workCtx context.Context, records []*kgo.Record, handle HandleFunc) []*kgo.Record {
	done := make([]*kgo.Record, 0, len(records))
	for _, rec := range records {
		if !c.processOne(runCtx, workCtx, rec, handle) {
			return done
		}
		done = append(done, rec)
	}
	return done
}

// processOne retries rec until it is handled or shutdown interrupts the
// attempt. Returns false only in the interrupted case.
func (c *Consumer) processOne(runCtx, workCtx context.Context, rec *kgo.Record, handle HandleFunc) bool {
	delay := c.cfg.BackoffMin
	for attempt := 1; ; attempt++ {
		err := c.handleRecord(workCtx, rec, handle)
		if err == nil {
			return true
		}
		if apperrors.IsPoison(err) {
			c.reportPoison(workCtx, rec, err)
			return true
		}

		// Transient: the offset stays uncommitted until the record
		// eventually succeeds, so nothing in this partition is lost.
		c.logger.Warn("transient processing failure, retrying",
			logger.String("topic", rec.Topic),
			logger.Int32("partition", rec.Partition),
			logger.Int64("offset", rec.Offset),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", delay),
			logger.Err(err),
		)
		if !sleepWithContext(runCtx, delay) {
			return false
		}
		delay *= 2
		if delay > c.cfg.BackoffMax {
			delay = c.cfg.BackoffMax
		}
	}
}

// handleRecord invokes handle, converting a panic into a poison error so a
// buggy record cannot wedge its partition. The stack is logged here, where
// the panicking frames are still on the goroutine.
func (c *Consumer) handleRecord(ctx context.Context, rec *kgo.Record, handle HandleFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while processing record",
				logger.String("topic", rec.Topic),
				logger.Int32("partition", rec.Partition),
				logger.Int64("offset", rec.Offset),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
			err = apperrors.Poison("UnhandledException", fmt.Errorf("panic: %v", r))
		}
	}()
	return handle(ctx, rec)
}

func (c *Consumer) reportPoison(ctx context.Context, rec *kgo.Record, err error) {
	kind := apperrors.PoisonKind(err)
	if kind == "" {
		kind = "ProcessingError"
	}
	if c.sink != nil {
		c.sink.Report(ctx, kind, err, rec.Value, map[string]interface{}{
			"topic":     rec.Topic,
			"partition": rec.Partition,
			"offset":    rec.Offset,
		})
	}
}

// commit records the highest handled offset per partition. CommitRecords
// commits offset+1 of the max record for each partition it is given.
func (c *Consumer) commit(records []*kgo.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.CommitRecords(ctx, records...); err != nil {
		// Redelivery after a rebalance is acceptable; downstream handling
		// is idempotent.
		c.logger.Error("offset commit failed",
			logger.Int("records", len(records)),
			logger.Err(err),
		)
		return
	}
	c.logger.Debug("offsets committed", logger.Int("records", len(records)))
}

// Ping checks broker connectivity.
func (c *Consumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	c.client.Close()
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
