package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the settlement collectors.
	Registry = prometheus.NewRegistry()

	paymentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "payments",
			Name:      "transitions_total",
			Help:      "Persisted payment status transitions.",
		},
		[]string{"from", "to"},
	)

	oracleResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "oracle",
			Name:      "resolutions_total",
			Help:      "Delivery status resolutions by answering source and status.",
		},
		[]string{"source", "status"},
	)

	trackingActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "settlement",
			Subsystem: "tracking",
			Name:      "active",
			Help:      "Payments currently being polled for delivery status.",
		},
	)

	trackingPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "tracking",
			Name:      "polls_total",
			Help:      "Delivery status polls by outcome.",
		},
		[]string{"outcome"},
	)

	chainSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "chain",
			Name:      "submissions_total",
			Help:      "On-chain calls submitted by operation and result.",
		},
		[]string{"op", "result"},
	)
)

func init() {
	Registry.MustRegister(
		paymentTransitions,
		oracleResolutions,
		trackingActive,
		trackingPolls,
		chainSubmissions,
	)
}

// MetricsHandler exposes Registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
