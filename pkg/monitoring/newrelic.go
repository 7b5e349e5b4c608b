package monitoring

import (
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// Config holds New Relic configuration
type Config struct {
	LicenseKey string
	AppName    string
	Enabled    bool
}

// NewRelicApp wraps the New Relic application
type NewRelicApp struct {
	*newrelic.Application
	enabled bool
}

// New creates a new New Relic application
func New(cfg Config) (*NewRelicApp, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		// Return disabled app
		return &NewRelicApp{nil, false}, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigAppLogForwardingEnabled(true),
		newrelic.ConfigDistributedTracerEnabled(true),
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create New Relic application: %w", err)
	}

	return &NewRelicApp{app, true}, nil
}

// StartTransaction starts a new transaction. Safe to call (and End the
// result) when monitoring is disabled.
func (nr *NewRelicApp) StartTransaction(name string) *newrelic.Transaction {
	if !nr.enabled || nr.Application == nil {
		return nil
	}
	return nr.Application.StartTransaction(name)
}

// RecordCustomEvent records a custom event
func (nr *NewRelicApp) RecordCustomEvent(eventType string, params map[string]interface{}) {
	if !nr.enabled || nr.Application == nil {
		return
	}
	nr.Application.RecordCustomEvent(eventType, params)
}

// RecordCustomMetric records a custom metric
func (nr *NewRelicApp) RecordCustomMetric(name string, value float64) {
	if !nr.enabled || nr.Application == nil {
		return
	}
	nr.Application.RecordCustomMetric(name, value)
}

// Shutdown gracefully shuts down the New Relic application
func (nr *NewRelicApp) Shutdown(timeout time.Duration) {
	if !nr.enabled || nr.Application == nil {
		return
	}
	nr.Application.Shutdown(timeout)
}

// Custom metric helpers

// RecordTollEvent records an emitted toll event
func (nr *NewRelicApp) RecordTollEvent(zoneID string, amount float64, distanceKm float64) {
	nr.RecordCustomEvent("TollEventEmitted", map[string]interface{}{
		"zone_id":     zoneID,
		"amount":      amount,
		"distance_km": distanceKm,
		"timestamp":   time.Now().Unix(),
	})
}

// RecordPaymentProcessed records a billing outcome
func (nr *NewRelicApp) RecordPaymentProcessed(status string, amount float64) {
	nr.RecordCustomEvent("PaymentProcessed", map[string]interface{}{
		"status": status,
		"amount": amount,
	})
}

// RecordPoisonRecord records a record routed to the error sink
func (nr *NewRelicApp) RecordPoisonRecord(errorType string) {
	nr.RecordCustomEvent("PoisonRecord", map[string]interface{}{
		"error_type": errorType,
	})
}

// RecordDatabasePoolStats records database connection pool statistics
func (nr *NewRelicApp) RecordDatabasePoolStats(stats map[string]interface{}) {
	if open, ok := stats["open_connections"].(int); ok {
		nr.RecordCustomMetric("custom/db/open_connections", float64(open))
	}
	if idle, ok := stats["idle"].(int); ok {
		nr.RecordCustomMetric("custom/db/idle_connections", float64(idle))
	}
	if inUse, ok := stats["in_use"].(int); ok {
		nr.RecordCustomMetric("custom/db/in_use_connections", float64(inUse))
	}
}

// RecordRedisPoolStats records Redis pool statistics
func (nr *NewRelicApp) RecordRedisPoolStats(stats map[string]interface{}) {
	if hits, ok := stats["hits"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/pool_hits", float64(hits))
	}
	if misses, ok := stats["misses"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/pool_misses", float64(misses))
	}
	if timeouts, ok := stats["timeouts"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/timeouts", float64(timeouts))
	}
}

// IsEnabled returns whether New Relic is enabled
func (nr *NewRelicApp) IsEnabled() bool {
	return nr.enabled
}
