package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tollgrid/smarttoll/internal/config"
	"github.com/tollgrid/smarttoll/internal/domain/telemetry"
	"github.com/tollgrid/smarttoll/internal/service/simulator"
	"github.com/tollgrid/smarttoll/pkg/kafka"
	"github.com/tollgrid/smarttoll/pkg/logger"
)

const serviceName = "smarttoll-obu-simulator"

func main() {
	// Load configuration
	cfg, err := config.Load(serviceName)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: serviceName,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting SmartToll OBU simulator",
		logger.Any("brokers", cfg.Kafka.Brokers),
		logger.String("gps_topic", cfg.Kafka.GpsTopic),
		logger.Int("vehicles", cfg.Simulator.Vehicles),
	)

	// Low-latency dev producer: leader acks, tiny linger
	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		ClientID:     serviceName,
		Linger:       5 * time.Millisecond,
		LeaderAcks:   true,
		FlushTimeout: cfg.Kafka.FlushTimeout,
	}, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create Kafka producer", logger.Err(err))
	}
	defer producer.Close()

	fleet := simulator.NewFleet(simulator.Config{
		Vehicles: cfg.Simulator.Vehicles,
		Steps:    cfg.Simulator.Steps,
		Interval: cfg.Simulator.Interval,
		Loop:     cfg.Simulator.Loop,
	}, &fixPublisher{producer: producer, topic: cfg.Kafka.GpsTopic}, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		appLogger.Info("Shutdown signal received")
		cancel()
		<-quit
		appLogger.Warn("Second signal received, forcing exit")
		os.Exit(1)
	}()

	if err := fleet.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Fatal("Simulation failed", logger.Err(err))
	}

	appLogger.Info("Simulator stopped")
}

// fixPublisher keys GPS samples by vehicle so each vehicle's track lands
// on one partition in order.
type fixPublisher struct {
	producer *kafka.Producer
	topic    string
}

func (p *fixPublisher) PublishFix(ctx context.Context, fix *telemetry.GpsFix) error {
	return p.producer.PublishJSON(ctx, p.topic, fix.VehicleID, fix)
}
