// Package breaker builds the circuit breakers guarding outbound integrations.
package breaker

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"vkanalytics/internal/metrics"
)

// Settings tunes a breaker. Zero values use the defaults below.
type Settings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

const (
	defaultConsecutiveFailures = 5
	defaultOpenTimeout         = time.Minute
)

// New returns a breaker that opens after consecutive failures and probes
// again with a single request once OpenTimeout has passed.
func New[T any](name string, logger *slog.Logger, s Settings) *gobreaker.CircuitBreaker[T] {
	failures := s.ConsecutiveFailures
	if failures == 0 {
		failures = defaultConsecutiveFailures
	}
	timeout := s.OpenTimeout
	if timeout == 0 {
		timeout = defaultOpenTimeout
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			if logger != nil {
				logger.Warn("Circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			}
		},
	})
}
