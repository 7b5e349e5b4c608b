package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable the loader reads so host values cannot
// leak into assertions. getEnv treats "" as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"API_PORT", "HEALTH_PORT", "API_HOST", "APP_ENV", "API_KEY",
		"KAFKA_BOOTSTRAP_SERVERS", "KAFKA_GPS_TOPIC", "KAFKA_TOLL_TOPIC",
		"KAFKA_PAYMENT_TOPIC", "KAFKA_ERROR_TOPIC", "KAFKA_PROCESSOR_GROUP",
		"KAFKA_BILLING_GROUP", "KAFKA_POLL_TIMEOUT_MS", "KAFKA_MAX_POLL_RECORDS",
		"SHUTDOWN_DRAIN_SECONDS", "PRODUCER_FLUSH_SECONDS",
		"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB", "POSTGRES_USER",
		"POSTGRES_PASSWORD", "POSTGRES_SSLMODE", "POSTGRES_MAX_CONNECTIONS",
		"POSTGRES_MAX_IDLE_CONNECTIONS", "DB_AUTO_MIGRATE", "DB_SEED_DEMO",
		"REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB",
		"REDIS_MAX_RETRIES", "REDIS_POOL_SIZE", "REDIS_MIN_IDLE_CONNECTIONS",
		"VEHICLE_STATE_TTL_SECONDS", "GPS_MAX_FIX_AGE", "GPS_MAX_FIX_SKEW",
		"TOLL_CURRENCY", "RETRY_BACKOFF_MIN", "RETRY_BACKOFF_MAX",
		"BILLING_RECONCILE_INTERVAL", "BILLING_RECONCILE_AFTER",
		"PAYMENT_TIMEOUT", "MOCK_PAYMENT_FAIL_RATE",
		"SIM_VEHICLES", "SIM_STEPS", "SIM_INTERVAL", "SIM_LOOP",
		"NEW_RELIC_LICENSE_KEY", "NEW_RELIC_APP_NAME", "NEW_RELIC_ENABLED",
		"WS_READ_BUFFER_SIZE", "WS_WRITE_BUFFER_SIZE",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

// TestLoadDefaults tests the development defaults
func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("smarttoll-test")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "8081", cfg.Server.HealthPort)
	assert.Equal(t, "development", cfg.Server.Env)

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "smarttoll.gps.raw.v1", cfg.Kafka.GpsTopic)
	assert.Equal(t, "smarttoll.toll.events.v1", cfg.Kafka.TollTopic)
	assert.Equal(t, "smarttoll.payment.events.v1", cfg.Kafka.PaymentTopic)
	assert.Equal(t, "smarttoll.processor.errors.v1", cfg.Kafka.ErrorTopic)
	assert.Equal(t, "toll_processor_group_dev_1", cfg.Kafka.ProcessorGroup)
	assert.Equal(t, "billing_service_group_dev_1", cfg.Kafka.BillingGroup)
	assert.Equal(t, time.Second, cfg.Kafka.PollTimeout)
	assert.Equal(t, 15*time.Second, cfg.Kafka.DrainTimeout)

	assert.Equal(t, "smarttoll", cfg.Database.Name)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.False(t, cfg.Database.SeedDemo)

	assert.Equal(t, 6*time.Hour, cfg.Tracker.StateTTL)
	assert.Equal(t, 10*time.Minute, cfg.Tracker.MaxFixAge)
	assert.Equal(t, time.Minute, cfg.Tracker.MaxFixSkew)
	assert.Equal(t, "USD", cfg.Tracker.DefaultCurrency)

	assert.Equal(t, time.Minute, cfg.Billing.ReconcileInterval)
	assert.Equal(t, 5*time.Minute, cfg.Billing.ReconcileAfter)

	assert.InDelta(t, 0.1, cfg.Payment.MockFailRate, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Payment.Timeout)

	assert.Equal(t, "smarttoll-test", cfg.NewRelic.AppName, "app name falls back to the service name")
	assert.False(t, cfg.NewRelic.Enabled)
}

// TestLoadOverrides tests environment overrides
func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "broker-1:9092, broker-2:9092")
	t.Setenv("KAFKA_GPS_TOPIC", "gps.staging.v2")
	t.Setenv("VEHICLE_STATE_TTL_SECONDS", "3600")
	t.Setenv("GPS_MAX_FIX_AGE", "5m")
	t.Setenv("MOCK_PAYMENT_FAIL_RATE", "0.25")
	t.Setenv("SIM_VEHICLES", "7")
	t.Setenv("SIM_LOOP", "true")
	t.Setenv("DB_SEED_DEMO", "true")

	cfg, err := Load("smarttoll-test")
	require.NoError(t, err)

	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers, "broker list is comma separated and trimmed")
	assert.Equal(t, "gps.staging.v2", cfg.Kafka.GpsTopic)
	assert.Equal(t, time.Hour, cfg.Tracker.StateTTL)
	assert.Equal(t, 5*time.Minute, cfg.Tracker.MaxFixAge)
	assert.InDelta(t, 0.25, cfg.Payment.MockFailRate, 1e-9)
	assert.Equal(t, 7, cfg.Simulator.Vehicles)
	assert.True(t, cfg.Simulator.Loop)
	assert.True(t, cfg.Database.SeedDemo)
}

// TestLoadBadDurationFallsBack tests that unparseable durations keep the
// default rather than failing startup
func TestLoadBadDurationFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("GPS_MAX_FIX_AGE", "ten minutes")

	cfg, err := Load("smarttoll-test")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Tracker.MaxFixAge)
}

// TestValidate tests the startup checks
func TestValidate(t *testing.T) {
	t.Run("fail rate out of range", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MOCK_PAYMENT_FAIL_RATE", "1.5")

		_, err := Load("smarttoll-test")
		assert.ErrorContains(t, err, "MOCK_PAYMENT_FAIL_RATE")
	})

	t.Run("production requires database password", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("APP_ENV", "production")
		t.Setenv("API_KEY", "prod-key")

		_, err := Load("smarttoll-test")
		assert.ErrorContains(t, err, "POSTGRES_PASSWORD")
	})

	t.Run("production requires api key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("APP_ENV", "production")
		t.Setenv("POSTGRES_PASSWORD", "hunter2")

		_, err := Load("smarttoll-test")
		assert.ErrorContains(t, err, "API_KEY")
	})

	t.Run("production with both passes", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("APP_ENV", "production")
		t.Setenv("POSTGRES_PASSWORD", "hunter2")
		t.Setenv("API_KEY", "prod-key")

		_, err := Load("smarttoll-test")
		assert.NoError(t, err)
	})
}
