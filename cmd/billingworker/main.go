package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/tollgrid/smarttoll/internal/api/handlers"
	"github.com/tollgrid/smarttoll/internal/api/routes"
	"github.com/tollgrid/smarttoll/internal/config"
	paydomain "github.com/tollgrid/smarttoll/internal/domain/payment"
	"github.com/tollgrid/smarttoll/internal/domain/toll"
	billingsvc "github.com/tollgrid/smarttoll/internal/service/billing"
	"github.com/tollgrid/smarttoll/internal/service/payment"
	"github.com/tollgrid/smarttoll/internal/storage/postgres"
	"github.com/tollgrid/smarttoll/pkg/database"
	apperrors "github.com/tollgrid/smarttoll/pkg/errors"
	"github.com/tollgrid/smarttoll/pkg/kafka"
	"github.com/tollgrid/smarttoll/pkg/logger"
	"github.com/tollgrid/smarttoll/pkg/metrics"
	"github.com/tollgrid/smarttoll/pkg/monitoring"
	"github.com/tollgrid/smarttoll/pkg/websocket"
)

const serviceName = "smarttoll-billing-worker"

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

	appLogger.Info("Starting SmartToll billing worker",
		logger.String("env", cfg.Server.Env),
		logger.Any("brokers", cfg.Kafka.Brokers),
		logger.String("toll_topic", cfg.Kafka.TollTopic),
		logger.String("group", cfg.Kafka.BillingGroup),
	)

	// Initialize New Relic
	nrApp, err := monitoring.New(monitoring.Config{
		LicenseKey: cfg.NewRelic.LicenseKey,
		AppName:    cfg.NewRelic.AppName,
		Enabled:    cfg.NewRelic.Enabled,
	})
	if err != nil {
		appLogger.Warn("Failed to initialize New Relic", logger.Err(err))
		nrApp, _ = monitoring.New(monitoring.Config{})
	} else if nrApp.IsEnabled() {
		appLogger.Info("New Relic APM initialized",
			logger.String("app_name", cfg.NewRelic.AppName))
	}
	defer nrApp.Shutdown(10 * time.Second)

	// Initialize PostgreSQL (billing transactions)
	db, err := database.NewPostgresDB(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MaxIdle:  cfg.Database.MaxIdle,
	})
	if err != nil {
		appLogger.Fatal("Failed to connect to PostgreSQL", logger.Err(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := postgres.EnsureBillingSchema(migrateCtx, db); err != nil {
			cancel()
			appLogger.Fatal("Failed to ensure schema", logger.Err(err))
		}
		cancel()
	}

	repo := postgres.NewTransactionRepo(db)

	// Producer for payment results and the error sink
	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		ClientID:     serviceName,
		FlushTimeout: cfg.Kafka.FlushTimeout,
	}, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create Kafka producer", logger.Err(err))
	}
	defer producer.Close()

	sink := kafka.NewErrorSink(producer, cfg.Kafka.ErrorTopic, "billing-worker", appLogger)

	m := metrics.NewBillingMetrics()
	m.Up.WithLabelValues(serviceName).Set(1)

	// WebSocket hub mirrors payment results to connected clients
	hub := websocket.NewHub(appLogger)
	go hub.Run()

	// Billing workflow over the mock gateway
	gateway := payment.NewMockGateway(payment.MockConfig{
		FailRate: cfg.Payment.MockFailRate,
		Timeout:  cfg.Payment.Timeout,
	}, appLogger)

	pub := &paymentPublisher{
		producer: producer,
		topic:    cfg.Kafka.PaymentTopic,
		hub:      hub,
	}
	workflow := billingsvc.NewWorkflow(repo, gateway, pub, m, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connection pool telemetry for APM
	if nrApp.IsEnabled() {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					nrApp.RecordDatabasePoolStats(database.GetPoolStats(db))
				}
			}
		}()
	}

	sweeper := billingsvc.NewSweeper(repo, workflow, billingsvc.SweeperConfig{
		Interval:   cfg.Billing.ReconcileInterval,
		StaleAfter: cfg.Billing.ReconcileAfter,
	}, m, appLogger)
	go sweeper.Run(ctx)

	// API server: transaction queries, payment feed, health
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	h := handlers.NewHandlers(repo, appLogger, hub, handlers.Options{
		Service: serviceName,
		ReadyChecks: []handlers.ReadyCheck{
			{Name: "postgres", Check: db.PingContext},
			{Name: "kafka", Check: producer.Ping},
		},
		WSReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WSWriteBufferSize: cfg.WebSocket.WriteBufferSize,
	})

	var nrApplication *newrelic.Application
	if nrApp.IsEnabled() {
		nrApplication = nrApp.Application
	}
	routes.SetupBillingRoutes(router, h, cfg.Server.APIKey, nrApplication)

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		appLogger.Info("API server starting", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("Failed to start API server", logger.Err(err))
		}
	}()

	// Consumer loop
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		Group:          cfg.Kafka.BillingGroup,
		Topics:         []string{cfg.Kafka.TollTopic},
		ClientID:       serviceName,
		PollTimeout:    cfg.Kafka.PollTimeout,
		MaxPollRecords: cfg.Kafka.MaxPollRecords,
		DrainTimeout:   cfg.Kafka.DrainTimeout,
		BackoffMin:     cfg.Billing.RetryBackoffMin,
		BackoffMax:     cfg.Billing.RetryBackoffMax,
	}, sink, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create Kafka consumer", logger.Err(err))
	}
	defer consumer.Close()

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Run(ctx, tollEventHandler(workflow, m))
	}()

	// First signal starts a graceful drain; a second one forces exit.
	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutdown signal received", logger.String("signal", sig.String()))
		m.Up.WithLabelValues(serviceName).Set(0)
		cancel()
		go func() {
			<-quit
			appLogger.Warn("Second signal received, forcing exit")
			os.Exit(1)
		}()
		if err := <-consumerDone; err != nil {
			appLogger.Error("Consumer loop ended with error", logger.Err(err))
		}
	case err := <-consumerDone:
		if err != nil {
			appLogger.Error("Consumer loop failed", logger.Err(err))
		}
		m.Up.WithLabelValues(serviceName).Set(0)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("API server forced to shutdown", logger.Err(err))
	}

	appLogger.Info("Billing worker stopped gracefully")
}

// paymentPublisher delivers a settled payment to the broker and mirrors it
// to feed clients. Only the broker publish can fail the workflow; the feed
// is best effort.
type paymentPublisher struct {
	producer *kafka.Producer
	topic    string
	hub      *websocket.Hub
}

func (p *paymentPublisher) PublishPaymentResult(ctx context.Context, result *paydomain.Result) error {
	if err := p.producer.PublishJSON(ctx, p.topic, result.VehicleID, result); err != nil {
		return err
	}
	p.hub.BroadcastResult(result.VehicleID, websocket.Message{
		Type: "payment_result",
		Data: result,
	})
	return nil
}

// tollEventHandler decodes and validates one toll event, then runs the
// billing workflow. Malformed events are poison; workflow failures are
// transient and retried by the consumer loop.
func tollEventHandler(workflow *billingsvc.Workflow, m *metrics.BillingMetrics) kafka.HandleFunc {
	return func(ctx context.Context, rec *kgo.Record) error {
		m.EventsReceived.Inc()
		start := time.Now()

		event, err := toll.DecodeEvent(rec.Value)
		if err != nil {
			return apperrors.Poison("DeserializationError", err)
		}
		if err := event.Validate(); err != nil {
			return apperrors.Poison("ValidationError", err)
		}

		if err := workflow.ProcessTollEvent(ctx, event); err != nil {
			return err
		}

		m.MessageDuration.Observe(time.Since(start).Seconds())
		return nil
	}
}
