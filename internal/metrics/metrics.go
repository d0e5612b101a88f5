// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Alert metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devicealert_alerts_sent_total",
			Help: "Total number of alerts delivered to the webhook",
		},
		[]string{"kind"},
	)

	AlertsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devicealert_alerts_failed_total",
			Help: "Total number of alerts whose delivery failed",
		},
		[]string{"kind"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devicealert_alerts_suppressed_total",
			Help: "Total number of alert evaluations that produced no notification",
		},
		[]string{"kind", "reason"}, // reason: debounce, cooldown, reminder_interval, conflict, ...
	)

	TemplateErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devicealert_template_errors_total",
			Help: "Total number of alert templates that failed to render",
		},
		[]string{"kind"},
	)

	// Lookup metrics
	LookupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devicealert_lookup_failures_total",
			Help: "Total number of failed device, connection or tag lookups",
		},
		[]string{"lookup"}, // lookup: device, connection, tags, state
	)

	// Invocation metrics
	Invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devicealert_invocations_total",
			Help: "Total number of engine invocations",
		},
		[]string{"trigger"}, // trigger: message, tick
	)

	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devicealert_invocation_duration_seconds",
			Help:    "Engine invocation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"trigger"},
	)

	// Trigger metrics
	BusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devicealert_bus_messages_total",
			Help: "Total number of channel messages received from a message bus",
		},
		[]string{"bus", "status"}, // status: accepted, rejected
	)

	SkippedTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devicealert_scheduler_skipped_ticks_total",
			Help: "Total number of device ticks skipped because the previous tick was still running",
		},
	)
)
