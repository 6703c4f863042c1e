package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Ingestion holds the counters and gauges for the ingestion pipeline.
// Labels: kind = csv|log|backfill, server = "{guildID}:{serverID}".
type Ingestion struct {
	Registry *prometheus.Registry

	CyclesTotal     *prometheus.CounterVec // kind, server, result=ok|error|skipped|locked
	LinesParsed     *prometheus.CounterVec // kind, server
	LinesMalformed  *prometheus.CounterVec // kind, server
	EventsEmitted   *prometheus.CounterVec // kind, server
	TicksSkipped    *prometheus.CounterVec // kind, server
	Rotations       *prometheus.CounterVec // kind, server
	ConnFailures    *prometheus.CounterVec // server
	DegradedServers *prometheus.GaugeVec   // server
	BackfillRunning prometheus.Gauge
}

func New() *Ingestion {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Ingestion{
		Registry: registry,
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deadfeed_cycles_total",
			Help: "Ingestion cycles by outcome.",
		}, []string{"kind", "server", "result"}),
		LinesParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deadfeed_lines_parsed_total",
			Help: "Lines successfully parsed.",
		}, []string{"kind", "server"}),
		LinesMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deadfeed_lines_malformed_total",
			Help: "Lines skipped because they failed to parse.",
		}, []string{"kind", "server"}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deadfeed_events_emitted_total",
			Help: "Structured events handed to downstream sinks.",
		}, []string{"kind", "server"}),
		TicksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deadfeed_ticks_skipped_total",
			Help: "Scheduler ticks skipped because the previous run was still in flight.",
		}, []string{"kind", "server"}),
		Rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deadfeed_rotations_detected_total",
			Help: "File rotations or truncations that reset a checkpoint.",
		}, []string{"kind", "server"}),
		ConnFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deadfeed_conn_failures_total",
			Help: "Transient remote-connectivity failures.",
		}, []string{"server"}),
		DegradedServers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deadfeed_server_degraded",
			Help: "1 when a server exceeded the consecutive-failure threshold.",
		}, []string{"server"}),
		BackfillRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deadfeed_backfills_running",
			Help: "Historical backfills currently in flight.",
		}),
	}

	registry.MustRegister(
		m.CyclesTotal,
		m.LinesParsed,
		m.LinesMalformed,
		m.EventsEmitted,
		m.TicksSkipped,
		m.Rotations,
		m.ConnFailures,
		m.DegradedServers,
		m.BackfillRunning,
	)
	return m
}
