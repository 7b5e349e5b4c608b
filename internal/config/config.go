package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Kafka     KafkaConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Tracker   TrackerConfig
	Billing   BillingConfig
	Payment   PaymentConfig
	Simulator SimulatorConfig
	NewRelic  NewRelicConfig
	WebSocket WebSocketConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port       string
	HealthPort string
	Host       string
	Env        string
	APIKey     string
}

type KafkaConfig struct {
	Brokers        []string
	GpsTopic       string
	TollTopic      string
	PaymentTopic   string
	ErrorTopic     string
	ProcessorGroup string
	BillingGroup   string
	PollTimeout    time.Duration
	MaxPollRecords int
	DrainTimeout   time.Duration
	FlushTimeout   time.Duration
}

type DatabaseConfig struct {
	Host        string
	Port        int
	Name        string
	User        string
	Password    string
	SSLMode     string
	MaxConns    int
	MaxIdle     int
	AutoMigrate bool
	SeedDemo    bool
}

type RedisConfig struct {
	Host        string
	Port        string
	Password    string
	DB          int
	MaxRetries  int
	PoolSize    int
	MinIdleConn int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

type TrackerConfig struct {
	StateTTL        time.Duration
	MaxFixAge       time.Duration
	MaxFixSkew      time.Duration
	DefaultCurrency string
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration
}

type BillingConfig struct {
	ReconcileInterval time.Duration
	ReconcileAfter    time.Duration
	RetryBackoffMin   time.Duration
	RetryBackoffMax   time.Duration
}

type PaymentConfig struct {
	Timeout      time.Duration
	MockFailRate float64
}

type SimulatorConfig struct {
	Vehicles int
	Steps    int
	Interval time.Duration
	Loop     bool
}

type NewRelicConfig struct {
	LicenseKey string
	AppName    string
	Enabled    bool
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:       getEnv("API_PORT", "8080"),
			HealthPort: getEnv("HEALTH_PORT", "8081"),
			Host:       getEnv("API_HOST", "0.0.0.0"),
			Env:        getEnv("APP_ENV", "development"),
			APIKey:     getEnv("API_KEY", ""),
		},
		Kafka: KafkaConfig{
			Brokers:        splitAndTrim(getEnv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")),
			GpsTopic:       getEnv("KAFKA_GPS_TOPIC", "smarttoll.gps.raw.v1"),
			TollTopic:      getEnv("KAFKA_TOLL_TOPIC", "smarttoll.toll.events.v1"),
			PaymentTopic:   getEnv("KAFKA_PAYMENT_TOPIC", "smarttoll.payment.events.v1"),
			ErrorTopic:     getEnv("KAFKA_ERROR_TOPIC", "smarttoll.processor.errors.v1"),
			ProcessorGroup: getEnv("KAFKA_PROCESSOR_GROUP", "toll_processor_group_dev_1"),
			BillingGroup:   getEnv("KAFKA_BILLING_GROUP", "billing_service_group_dev_1"),
			PollTimeout:    time.Duration(getEnvAsInt("KAFKA_POLL_TIMEOUT_MS", 1000)) * time.Millisecond,
			MaxPollRecords: getEnvAsInt("KAFKA_MAX_POLL_RECORDS", 100),
			DrainTimeout:   time.Duration(getEnvAsInt("SHUTDOWN_DRAIN_SECONDS", 15)) * time.Second,
			FlushTimeout:   time.Duration(getEnvAsInt("PRODUCER_FLUSH_SECONDS", 10)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvAsInt("POSTGRES_PORT", 5432),
			Name:        getEnv("POSTGRES_DB", "smarttoll"),
			User:        getEnv("POSTGRES_USER", "postgres"),
			Password:    getEnv("POSTGRES_PASSWORD", ""),
			SSLMode:     getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns:    getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 25),
			MaxIdle:     getEnvAsInt("POSTGRES_MAX_IDLE_CONNECTIONS", 5),
			AutoMigrate: getEnvAsBool("DB_AUTO_MIGRATE", true),
			SeedDemo:    getEnvAsBool("DB_SEED_DEMO", false),
		},
		Redis: RedisConfig{
			Host:        getEnv("REDIS_HOST", "localhost"),
			Port:        getEnv("REDIS_PORT", "6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			MaxRetries:  getEnvAsInt("REDIS_MAX_RETRIES", 3),
			PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 20),
			MinIdleConn: getEnvAsInt("REDIS_MIN_IDLE_CONNECTIONS", 2),
			DialTimeout: 5 * time.Second,
			ReadTimeout: 3 * time.Second,
		},
		Tracker: TrackerConfig{
			StateTTL:        time.Duration(getEnvAsInt("VEHICLE_STATE_TTL_SECONDS", 21600)) * time.Second,
			MaxFixAge:       parseDuration(getEnv("GPS_MAX_FIX_AGE", "10m"), 10*time.Minute),
			MaxFixSkew:      parseDuration(getEnv("GPS_MAX_FIX_SKEW", "60s"), 60*time.Second),
			DefaultCurrency: getEnv("TOLL_CURRENCY", "USD"),
			RetryBackoffMin: parseDuration(getEnv("RETRY_BACKOFF_MIN", "500ms"), 500*time.Millisecond),
			RetryBackoffMax: parseDuration(getEnv("RETRY_BACKOFF_MAX", "30s"), 30*time.Second),
		},
		Billing: BillingConfig{
			ReconcileInterval: parseDuration(getEnv("BILLING_RECONCILE_INTERVAL", "60s"), 60*time.Second),
			ReconcileAfter:    parseDuration(getEnv("BILLING_RECONCILE_AFTER", "5m"), 5*time.Minute),
			RetryBackoffMin:   parseDuration(getEnv("RETRY_BACKOFF_MIN", "500ms"), 500*time.Millisecond),
			RetryBackoffMax:   parseDuration(getEnv("RETRY_BACKOFF_MAX", "30s"), 30*time.Second),
		},
		Payment: PaymentConfig{
			Timeout:      parseDuration(getEnv("PAYMENT_TIMEOUT", "30s"), 30*time.Second),
			MockFailRate: getEnvAsFloat64("MOCK_PAYMENT_FAIL_RATE", 0.1),
		},
		Simulator: SimulatorConfig{
			Vehicles: getEnvAsInt("SIM_VEHICLES", 3),
			Steps:    getEnvAsInt("SIM_STEPS", 40),
			Interval: parseDuration(getEnv("SIM_INTERVAL", "1s"), time.Second),
			Loop:     getEnvAsBool("SIM_LOOP", false),
		},
		NewRelic: NewRelicConfig{
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			AppName:    getEnv("NEW_RELIC_APP_NAME", serviceName),
			Enabled:    getEnvAsBool("NEW_RELIC_ENABLED", false),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 1024),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BOOTSTRAP_SERVERS is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("POSTGRES_DB is required")
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.Payment.MockFailRate < 0 || c.Payment.MockFailRate > 1 {
		return fmt.Errorf("MOCK_PAYMENT_FAIL_RATE must be between 0 and 1")
	}
	if c.Server.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("POSTGRES_PASSWORD must be set in production")
		}
		if c.Server.APIKey == "" {
			return fmt.Errorf("API_KEY must be set in production")
		}
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
