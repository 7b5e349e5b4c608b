package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProcessorMetrics holds all Prometheus metrics for the toll processor
type ProcessorMetrics struct {
	MessagesReceived  prometheus.Counter
	MessagesProcessed *prometheus.CounterVec
	ZoneEntries       *prometheus.CounterVec
	ZoneExits         *prometheus.CounterVec
	TollEvents        *prometheus.CounterVec
	TollAmount        *prometheus.HistogramVec
	MessageDuration   prometheus.Histogram
	GeofenceErrors    prometheus.Counter
	Up                *prometheus.GaugeVec
}

// NewProcessorMetrics creates and registers the toll processor metrics
func NewProcessorMetrics() *ProcessorMetrics {
	return &ProcessorMetrics{
		MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "toll_processor_messages_received_total",
			Help: "Total GPS records polled from the broker",
		}),
		MessagesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "toll_processor_messages_processed_total",
			Help: "GPS records by processing result",
		}, []string{"result"}), // result: processed, poison, error
		ZoneEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "toll_processor_zone_entries_total",
			Help: "Vehicles entering a toll zone",
		}, []string{"zone_id"}),
		ZoneExits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "toll_processor_zone_exits_total",
			Help: "Vehicles exiting a toll zone",
		}, []string{"zone_id"}),
		TollEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "toll_processor_toll_events_published_total",
			Help: "Toll events published to the broker",
		}, []string{"zone_id"}),
		TollAmount: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toll_processor_toll_amount_usd",
			Help:    "Distribution of billed toll amounts",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		}, []string{"zone_id"}),
		MessageDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "toll_processor_message_duration_seconds",
			Help:    "End-to-end processing time per GPS record",
			Buckets: prometheus.DefBuckets,
		}),
		GeofenceErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "toll_processor_geofence_errors_total",
			Help: "Geofence lookups that failed and were treated as outside",
		}),
		Up: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_up",
			Help: "Whether the service is running (1) or shutting down (0)",
		}, []string{"service"}),
	}
}

// BillingMetrics holds all Prometheus metrics for the billing worker
type BillingMetrics struct {
	EventsReceived  prometheus.Counter
	Transactions    *prometheus.CounterVec
	GatewayCalls    *prometheus.CounterVec
	GatewayDuration prometheus.Histogram
	MessageDuration prometheus.Histogram
	ReconciledRows  prometheus.Counter
	Up              *prometheus.GaugeVec
}

// NewBillingMetrics creates and registers the billing worker metrics
func NewBillingMetrics() *BillingMetrics {
	return &BillingMetrics{
		EventsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "billing_events_received_total",
			Help: "Total toll events polled from the broker",
		}),
		Transactions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_transactions_total",
			Help: "Billing transactions by final status",
		}, []string{"status"}), // status: SUCCESS, FAILED, duplicate
		GatewayCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_payment_gateway_calls_total",
			Help: "Payment gateway invocations by outcome",
		}, []string{"outcome"}), // outcome: success, declined, error
		GatewayDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "billing_payment_gateway_duration_seconds",
			Help:    "Payment gateway call latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		MessageDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "billing_message_duration_seconds",
			Help:    "End-to-end processing time per toll event",
			Buckets: prometheus.DefBuckets,
		}),
		ReconciledRows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "billing_reconciled_rows_total",
			Help: "Stale non-terminal rows advanced by the reconciliation sweeper",
		}),
		Up: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_up",
			Help: "Whether the service is running (1) or shutting down (0)",
		}, []string{"service"}),
	}
}
