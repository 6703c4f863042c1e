package ingest

import (
	"sync"

	"deadfeed/internal/metrics"

	"github.com/pterm/pterm"
)

// ConnHealth tracks consecutive transient-connectivity failures per
// server. A single failure is retried silently on the next tick; only
// a run at or above the threshold surfaces a degraded signal, scoped
// to that server alone.
type ConnHealth struct {
	logger    *pterm.Logger
	metrics   *metrics.Ingestion
	threshold int

	mu     sync.Mutex
	counts map[string]int
}

func NewConnHealth(threshold int, m *metrics.Ingestion, logger *pterm.Logger) *ConnHealth {
	if threshold <= 0 {
		threshold = 3
	}
	return &ConnHealth{
		logger:    logger,
		metrics:   m,
		threshold: threshold,
		counts:    make(map[string]int),
	}
}

// Failure records one transient failure and reports whether the
// server just crossed into degraded state.
func (h *ConnHealth) Failure(serverKey string) bool {
	h.metrics.ConnFailures.WithLabelValues(serverKey).Inc()

	h.mu.Lock()
	h.counts[serverKey]++
	count := h.counts[serverKey]
	h.mu.Unlock()

	if count == h.threshold {
		h.metrics.DegradedServers.WithLabelValues(serverKey).Set(1)
		h.logger.Warn("Server connectivity degraded",
			h.logger.Args("server", serverKey, "consecutive_failures", count))
		return true
	}
	return false
}

// Success resets the failure streak and clears the degraded flag.
func (h *ConnHealth) Success(serverKey string) {
	h.mu.Lock()
	wasDegraded := h.counts[serverKey] >= h.threshold
	delete(h.counts, serverKey)
	h.mu.Unlock()

	if wasDegraded {
		h.logger.Info("Server connectivity recovered", h.logger.Args("server", serverKey))
	}
	h.metrics.DegradedServers.WithLabelValues(serverKey).Set(0)
}

// Degraded reports whether the server is currently flagged.
func (h *ConnHealth) Degraded(serverKey string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[serverKey] >= h.threshold
}
