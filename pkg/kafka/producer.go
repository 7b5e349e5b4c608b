package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/tollgrid/smarttoll/pkg/logger"
)

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	Linger       time.Duration
	Retries      int
	LeaderAcks   bool // dev/simulator profile; pipeline publishers use all-ISR acks
	FlushTimeout time.Duration
}

// Producer wraps a franz-go client used for publishing pipeline records.
type Producer struct {
	client       *kgo.Client
	logger       *logger.Logger
	flushTimeout time.Duration
}

// NewProducer creates a producer and verifies broker connectivity.
func NewProducer(cfg ProducerConfig, log *logger.Logger) (*Producer, error) {
	if cfg.Linger <= 0 {
		cfg.Linger = 10 * time.Millisecond
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 5
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ProducerLinger(cfg.Linger),
		kgo.RecordRetries(cfg.Retries),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.LeaderAcks {
		// Idempotent produce requires all-ISR acks.
		opts = append(opts,
			kgo.RequiredAcks(kgo.LeaderAck()),
			kgo.DisableIdempotentWrite(),
		)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach kafka brokers: %w", err)
	}

	return &Producer{
		client:       client,
		logger:       log,
		flushTimeout: cfg.FlushTimeout,
	}, nil
}

// Publish sends one record and waits for the broker acknowledgement.
func (p *Producer) Publish(ctx context.Context, topic string, key, payload []byte) error {
	rec := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		p.logger.Error("publish failed",
			logger.String("topic", topic),
			logger.String("key", string(key)),
			logger.Err(err),
		)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it keyed by key.
func (p *Producer) PublishJSON(ctx context.Context, topic, key string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", topic, err)
	}
	return p.Publish(ctx, topic, []byte(key), payload)
}

// Ping checks broker connectivity.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records and closes the client.
func (p *Producer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), p.flushTimeout)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Error("producer flush on close failed", logger.Err(err))
	}
	p.client.Close()
}
