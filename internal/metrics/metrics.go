// Package metrics holds the Prometheus collectors for the client. Collectors
// register with the default registry on import; Handler serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coach_go"

var (
	pollCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poll",
		Name:      "probes_total",
		Help:      "Probe invocations by outcome class.",
	}, []string{"outcome"})

	pollStops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poll",
		Name:      "stops_total",
		Help:      "Polling loops stopped, by reason.",
	}, []string{"reason"})

	confirmCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "confirm",
		Name:      "transitions_total",
		Help:      "Confirmation outcomes: proposed, confirmed, cancelled, violation, retry_failed, rejected.",
	}, []string{"outcome"})

	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "confirm",
		Name:      "pending",
		Help:      "1 while a proposal awaits confirmation.",
	})

	invalidationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Read-query families invalidated, by tag and source.",
	}, []string{"tag", "source"})

	retryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "retries_total",
		Help:      "Transport-level retries by HTTP method.",
	}, []string{"method"})
)

func init() {
	prometheus.MustRegister(pollCounter, pollStops, confirmCounter, pendingGauge, invalidationCounter, retryCounter)
}

// RecordProbe counts one probe invocation. outcome is "ok" or an error class.
func RecordProbe(outcome string) {
	pollCounter.WithLabelValues(outcome).Inc()
}

// RecordPollStop counts a stopped polling loop.
func RecordPollStop(reason string) {
	pollStops.WithLabelValues(reason).Inc()
}

// RecordConfirmation counts a confirmation outcome and tracks the slot.
func RecordConfirmation(outcome string, pending bool) {
	confirmCounter.WithLabelValues(outcome).Inc()

	if pending {
		pendingGauge.Set(1)
	} else {
		pendingGauge.Set(0)
	}
}

// RecordInvalidation counts one invalidated tag.
func RecordInvalidation(tag, source string) {
	invalidationCounter.WithLabelValues(tag, source).Inc()
}

// RecordRetry counts one transport retry.
func RecordRetry(method string) {
	retryCounter.WithLabelValues(method).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
