// Package metrics exposes Prometheus instrumentation for identification,
// sessions, attendance and the audit pipeline. All methods are nil-safe so
// components can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the attendance service.
type Metrics struct {
	// Identify outcomes by result: matched, unmatched, error
	IdentifyOutcome *prometheus.CounterVec

	// Identify latency including snapshot lookup
	IdentifyLatency prometheus.Histogram

	// Attendance marks by result: created, duplicate, rejected
	AttendanceMarks *prometheus.CounterVec

	// Session lifecycle transitions by event: created, ended, expired, conflict
	SessionEvents *prometheus.CounterVec

	// Extractor call latency by backend
	ExtractLatency *prometheus.HistogramVec

	// Audit entries by result: written, failed, dropped
	AuditEntries *prometheus.CounterVec

	// Archive uploads by result: stored, failed
	ArchiveUploads *prometheus.CounterVec
}

// New creates a Metrics instance registered with reg. A nil reg registers
// with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		IdentifyOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_identify_total",
			Help: "Total identification attempts by outcome",
		}, []string{"outcome"}),

		IdentifyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendance_identify_duration_seconds",
			Help:    "Duration of identification including candidate snapshot lookup",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		AttendanceMarks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_marks_total",
			Help: "Total attendance mark requests by result",
		}, []string{"result"}),

		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_session_events_total",
			Help: "Session lifecycle transitions and conflicts",
		}, []string{"event"}),

		ExtractLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attendance_extract_duration_seconds",
			Help:    "Duration of feature extraction calls by backend",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"backend"}),

		AuditEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_audit_entries_total",
			Help: "Audit entries by result",
		}, []string{"result"}),

		ArchiveUploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_archive_uploads_total",
			Help: "Raw frame archive uploads by result",
		}, []string{"result"}),
	}
}

// IncrementIdentify records an identification outcome.
func (m *Metrics) IncrementIdentify(outcome string) {
	if m != nil {
		m.IdentifyOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveIdentifyLatency records one identification duration.
func (m *Metrics) ObserveIdentifyLatency(d time.Duration) {
	if m != nil {
		m.IdentifyLatency.Observe(d.Seconds())
	}
}

// IncrementMark records an attendance mark result.
func (m *Metrics) IncrementMark(result string) {
	if m != nil {
		m.AttendanceMarks.WithLabelValues(result).Inc()
	}
}

// IncrementSessionEvent records a session transition.
func (m *Metrics) IncrementSessionEvent(event string) {
	m.AddSessionEvents(event, 1)
}

// AddSessionEvents records n session transitions of one kind.
func (m *Metrics) AddSessionEvents(event string, n int) {
	if m != nil && n > 0 {
		m.SessionEvents.WithLabelValues(event).Add(float64(n))
	}
}

// ObserveExtractLatency records an extractor call duration.
func (m *Metrics) ObserveExtractLatency(backend string, d time.Duration) {
	if m != nil {
		m.ExtractLatency.WithLabelValues(backend).Observe(d.Seconds())
	}
}

// IncrementAudit records an audit pipeline result.
func (m *Metrics) IncrementAudit(result string) {
	if m != nil {
		m.AuditEntries.WithLabelValues(result).Inc()
	}
}

// IncrementArchive records an archive upload result.
func (m *Metrics) IncrementArchive(result string) {
	if m != nil {
		m.ArchiveUploads.WithLabelValues(result).Inc()
	}
}
