package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PointsReceived counts points accepted by the telemetry endpoint.
	// result: inserted/merged
	PointsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telematics_points_received_total",
			Help: "Tracking points persisted, by write path.",
		},
		[]string{"result"},
	)

	IngestFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "telematics_ingest_failures_total",
			Help: "Telemetry batches rejected or aborted.",
		},
	)

	CommandsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telematics_commands_created_total",
			Help: "Controller commands enqueued, by code.",
		},
		[]string{"code"},
	)

	CommandsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "telematics_commands_dispatched_total",
			Help: "Controller commands delivered to polling devices.",
		},
	)

	ViolationsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telematics_violations_recorded_total",
			Help: "Violation records persisted, by effective type.",
		},
		[]string{"type"},
	)

	// ChannelDrops counts events dropped because an async channel was full.
	// channel: state/archive/notify/audit
	ChannelDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telematics_channel_drops_total",
			Help: "Events dropped on full pipeline channels.",
		},
		[]string{"channel"},
	)

	// BatchWrites counts rows written by the batch writers.
	// status: success/failed
	BatchWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telematics_batch_writes_total",
			Help: "Rows flushed by batch writers.",
		},
		[]string{"writer", "status"},
	)

	// Notifications counts notification attempts.
	// status: sent/failed/deduped
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telematics_notifications_total",
			Help: "Violation notifications, by notifier and outcome.",
		},
		[]string{"notifier", "status"},
	)

	LiveClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "telematics_live_clients",
			Help: "Open live feed websocket connections.",
		},
	)

	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telematics_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)

// Registry holds every collector of this service.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		PointsReceived,
		IngestFailures,
		CommandsCreated,
		CommandsDispatched,
		ViolationsRecorded,
		ChannelDrops,
		BatchWrites,
		Notifications,
		LiveClients,
		HTTPLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
