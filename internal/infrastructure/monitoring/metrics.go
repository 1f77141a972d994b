package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the execution engine.
type Metrics struct {
	// Job lifecycle metrics
	JobsActive  prometheus.Gauge
	JobsTotal   prometheus.Counter
	JobExits    *prometheus.CounterVec
	JobSignals  *prometheus.CounterVec

	// Pump metrics
	PumpBytes        prometheus.Counter
	PumpStreams      prometheus.Gauge
	PumpBackpressure prometheus.Counter

	// Sniffer metrics
	SnifferVerdicts *prometheus.CounterVec

	// Command metrics
	CommandCalls    *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// HTTP metrics (observer API)
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		JobsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coral_jobs_active",
			Help: "Number of jobs currently tracked in the job table",
		}),
		JobsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coral_jobs_total",
			Help: "Total number of jobs created",
		}),
		JobExits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coral_job_exits_total",
				Help: "Job exits by status class",
			},
			[]string{"status"},
		),
		JobSignals: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coral_job_signals_total",
				Help: "Signals delivered to job process groups",
			},
			[]string{"signal"},
		),

		PumpBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coral_pump_bytes_total",
			Help: "Bytes moved through pipeline pumps",
		}),
		PumpStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coral_pump_streams_active",
			Help: "Pumps currently attached to live descriptors",
		}),
		PumpBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coral_pump_backpressure_waits_total",
			Help: "Times a pump producer stalled on a full ring buffer",
		}),

		SnifferVerdicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coral_sniffer_verdicts_total",
				Help: "Locked format verdicts by format",
			},
			[]string{"format"},
		),

		CommandCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coral_command_calls_total",
				Help: "In-process command invocations by name and status",
			},
			[]string{"command", "status"},
		),
		CommandDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coral_command_duration_seconds",
				Help:    "In-process command execution duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coral_http_requests_total",
				Help: "Total number of observer API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coral_http_request_duration_seconds",
				Help:    "Observer API request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coral_ws_connections",
			Help: "Active event stream connections",
		}),

		Uptime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coral_uptime_seconds",
			Help: "Session uptime in seconds",
		}),
	}
}

// All helpers are nil-safe so hot paths can skip wiring in tests.

// RecordJobCreated tracks a new job entering the table.
func (m *Metrics) RecordJobCreated() {
	if m == nil {
		return
	}
	m.JobsTotal.Inc()
	m.JobsActive.Inc()
}

// RecordJobRemoved tracks a job evicted from the table.
func (m *Metrics) RecordJobRemoved() {
	if m == nil {
		return
	}
	m.JobsActive.Dec()
}

// RecordJobExit tracks a reaped job by status class.
func (m *Metrics) RecordJobExit(status string) {
	if m == nil {
		return
	}
	m.JobExits.WithLabelValues(status).Inc()
}

// RecordSignal tracks a signal delivered to a process group.
func (m *Metrics) RecordSignal(signal string) {
	if m == nil {
		return
	}
	m.JobSignals.WithLabelValues(signal).Inc()
}

// RecordPumpBytes tracks bytes accepted into a ring buffer.
func (m *Metrics) RecordPumpBytes(n int) {
	if m == nil {
		return
	}
	m.PumpBytes.Add(float64(n))
}

// RecordPumpAttached tracks pump attach/detach.
func (m *Metrics) RecordPumpAttached(delta int) {
	if m == nil {
		return
	}
	m.PumpStreams.Add(float64(delta))
}

// RecordBackpressure tracks a producer stall on a full ring.
func (m *Metrics) RecordBackpressure() {
	if m == nil {
		return
	}
	m.PumpBackpressure.Inc()
}

// RecordVerdict tracks a locked sniffer verdict.
func (m *Metrics) RecordVerdict(format string) {
	if m == nil {
		return
	}
	m.SnifferVerdicts.WithLabelValues(format).Inc()
}

// RecordCommand tracks one in-process command invocation.
func (m *Metrics) RecordCommand(name, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CommandCalls.WithLabelValues(name, status).Inc()
	m.CommandDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordHTTPRequest tracks one observer API request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWSConnection tracks event stream connects and disconnects.
func (m *Metrics) RecordWSConnection(delta int) {
	if m == nil {
		return
	}
	m.WSConnections.Add(float64(delta))
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	if m == nil {
		return
	}
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
