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
	"github.com/tollgrid/smarttoll/internal/domain/telemetry"
	"github.com/tollgrid/smarttoll/internal/domain/toll"
	"github.com/tollgrid/smarttoll/internal/service/tracker"
	"github.com/tollgrid/smarttoll/internal/storage/postgres"
	"github.com/tollgrid/smarttoll/internal/storage/redisstate"
	"github.com/tollgrid/smarttoll/pkg/cache"
	"github.com/tollgrid/smarttoll/pkg/database"
	apperrors "github.com/tollgrid/smarttoll/pkg/errors"
	"github.com/tollgrid/smarttoll/pkg/kafka"
	"github.com/tollgrid/smarttoll/pkg/logger"
	"github.com/tollgrid/smarttoll/pkg/metrics"
	"github.com/tollgrid/smarttoll/pkg/monitoring"
)

const serviceName = "smarttoll-toll-processor"

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

	appLogger.Info("Starting SmartToll toll processor",
		logger.String("env", cfg.Server.Env),
		logger.Any("brokers", cfg.Kafka.Brokers),
		logger.String("gps_topic", cfg.Kafka.GpsTopic),
		logger.String("group", cfg.Kafka.ProcessorGroup),
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

	// Initialize Redis (vehicle state store)
	redisClient, err := cache.NewRedisClient(cache.Config{
		Host:        cfg.Redis.Host,
		Port:        cfg.Redis.Port,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		MaxRetries:  cfg.Redis.MaxRetries,
		PoolSize:    cfg.Redis.PoolSize,
		MinIdleConn: cfg.Redis.MinIdleConn,
		DialTimeout: cfg.Redis.DialTimeout,
		ReadTimeout: cfg.Redis.ReadTimeout,
	})
	if err != nil {
		appLogger.Fatal("Failed to connect to Redis", logger.Err(err))
	}
	defer cache.Close(redisClient)

	// Initialize PostgreSQL (geofence index)
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
		if err := postgres.EnsureProcessorSchema(migrateCtx, db); err != nil {
			cancel()
			appLogger.Fatal("Failed to ensure schema", logger.Err(err))
		}
		if cfg.Database.SeedDemo {
			if err := postgres.SeedDemoZone(migrateCtx, db); err != nil {
				cancel()
				appLogger.Fatal("Failed to seed demo zone", logger.Err(err))
			}
			appLogger.Info("Demo toll zone seeded")
		}
		cancel()
	}

	// Producer for toll events and the error sink
	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		ClientID:     serviceName,
		FlushTimeout: cfg.Kafka.FlushTimeout,
	}, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create Kafka producer", logger.Err(err))
	}
	defer producer.Close()

	sink := kafka.NewErrorSink(producer, cfg.Kafka.ErrorTopic, "toll-processor", appLogger)

	m := metrics.NewProcessorMetrics()
	m.Up.WithLabelValues(serviceName).Set(1)

	// Wire the zone tracker
	states := redisstate.New(redisClient, cfg.Tracker.StateTTL, appLogger)
	zones := postgres.NewGeofenceIndex(db)
	trackerSvc := tracker.NewService(states, zones,
		&tollPublisher{producer: producer, topic: cfg.Kafka.TollTopic},
		m, appLogger,
		tracker.Config{Currency: cfg.Tracker.DefaultCurrency},
	)

	// Operational HTTP server (health, readiness, metrics)
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	h := handlers.NewHandlers(nil, appLogger, nil, handlers.Options{
		Service: serviceName,
		ReadyChecks: []handlers.ReadyCheck{
			{Name: "postgres", Check: db.PingContext},
			{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
			{Name: "kafka", Check: producer.Ping},
		},
	})

	var nrApplication *newrelic.Application
	if nrApp.IsEnabled() {
		nrApplication = nrApp.Application
	}
	routes.SetupHealthRoutes(router, h, nrApplication)

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		appLogger.Info("Health server starting", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("Failed to start health server", logger.Err(err))
		}
	}()

	// Consumer loop
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		Group:          cfg.Kafka.ProcessorGroup,
		Topics:         []string{cfg.Kafka.GpsTopic},
		ClientID:       serviceName,
		PollTimeout:    cfg.Kafka.PollTimeout,
		MaxPollRecords: cfg.Kafka.MaxPollRecords,
		DrainTimeout:   cfg.Kafka.DrainTimeout,
		BackoffMin:     cfg.Tracker.RetryBackoffMin,
		BackoffMax:     cfg.Tracker.RetryBackoffMax,
	}, sink, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create Kafka consumer", logger.Err(err))
	}
	defer consumer.Close()

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
					nrApp.RecordRedisPoolStats(cache.GetClientStats(redisClient))
				}
			}
		}()
	}

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Run(ctx, gpsHandler(trackerSvc, m, cfg.Tracker.MaxFixAge, cfg.Tracker.MaxFixSkew))
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
		appLogger.Error("Health server forced to shutdown", logger.Err(err))
	}

	appLogger.Info("Toll processor stopped gracefully")
}

// tollPublisher adapts the shared producer to the tracker boundary. Events
// are keyed by vehicle so per-vehicle order survives the broker.
type tollPublisher struct {
	producer *kafka.Producer
	topic    string
}

func (p *tollPublisher) PublishTollEvent(ctx context.Context, event *toll.TollEvent) error {
	return p.producer.PublishJSON(ctx, p.topic, event.VehicleID, event)
}

// gpsHandler decodes and validates one GPS record, then advances the zone
// state machine. Malformed or out-of-window fixes are poison; tracker
// failures are transient and retried by the consumer loop.
func gpsHandler(svc *tracker.Service, m *metrics.ProcessorMetrics, maxAge, maxSkew time.Duration) kafka.HandleFunc {
	return func(ctx context.Context, rec *kgo.Record) error {
		m.MessagesReceived.Inc()
		start := time.Now()

		fix, err := telemetry.Decode(rec.Value)
		if err != nil {
			m.MessagesProcessed.WithLabelValues("poison").Inc()
			return apperrors.Poison("DeserializationError", err)
		}
		if err := fix.Validate(time.Now(), maxAge, maxSkew); err != nil {
			m.MessagesProcessed.WithLabelValues("poison").Inc()
			return apperrors.Poison("ValidationError", err)
		}

		if err := svc.Process(ctx, fix); err != nil {
			m.MessagesProcessed.WithLabelValues("error").Inc()
			return err
		}

		m.MessagesProcessed.WithLabelValues("processed").Inc()
		m.MessageDuration.Observe(time.Since(start).Seconds())
		return nil
	}
}
