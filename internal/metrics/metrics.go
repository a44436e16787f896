// Package metrics holds the service's Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vkanalytics"

var (
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_ingested_total",
		Help:      "Events committed to the store.",
	})

	BatchesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_rejected_total",
		Help:      "Ingestion requests rejected with a validation error.",
	}, []string{"reason"})

	FallbackWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_batches_total",
		Help:      "Batches written to the fallback log instead of the store.",
	}, []string{"cause"})

	ExcludedBatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "excluded_batches_total",
		Help:      "Batches dropped because the client IP is excluded.",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Return-visit notifications by channel and outcome.",
	}, []string{"channel", "outcome"})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Form submissions by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	IdempotencyHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idempotency_replays_total",
		Help:      "Submissions answered from the idempotency cache.",
	})

	BreakerStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_state_changes_total",
		Help:      "Circuit breaker transitions on outbound integrations.",
	}, []string{"name", "to"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
