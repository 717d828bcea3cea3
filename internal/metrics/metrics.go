package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsDecoded counts whole events produced by the framer
	EventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execstream_events_decoded_total",
			Help: "Total number of stream events decoded, by event type",
		},
		[]string{"type"},
	)

	// MalformedEvents counts data lines whose payload was not a JSON object
	MalformedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "execstream_malformed_events_total",
			Help: "Total number of malformed event payloads discarded",
		},
	)

	// Sentinels counts end-of-stream markers seen
	Sentinels = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "execstream_stream_sentinels_total",
			Help: "Total number of [DONE] sentinels seen",
		},
	)

	// TransportsOpened counts stream transports opened, by backend
	TransportsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execstream_transports_opened_total",
			Help: "Total number of streaming transports opened",
		},
		[]string{"backend"},
	)

	// TransportErrors counts transport failures, by backend
	TransportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execstream_transport_errors_total",
			Help: "Total number of streaming transport failures",
		},
		[]string{"backend"},
	)

	// ControlCalls counts control requests, by command and outcome
	ControlCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execstream_control_calls_total",
			Help: "Total number of control calls",
		},
		[]string{"command", "outcome"},
	)

	// ToolRecords counts tool execution records reaching a final status
	ToolRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execstream_tool_records_total",
			Help: "Total number of tool execution records by final status",
		},
		[]string{"tool", "status"},
	)

	// SessionsEnded counts sessions reaching a terminal status
	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execstream_sessions_ended_total",
			Help: "Total number of execution sessions ended, by status",
		},
		[]string{"status"},
	)

	// PendingApprovals is 1 while an approval is outstanding
	PendingApprovals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "execstream_pending_approvals",
			Help: "Number of outstanding tool approvals",
		},
	)

	// EventBufferDrops tracks dropped events due to buffer overflow
	EventBufferDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "execstream_event_buffer_drops_total",
			Help: "Total number of applied events dropped from the observation buffer",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEvent records a decoded event
func RecordEvent(eventType string) {
	EventsDecoded.WithLabelValues(eventType).Inc()
}

// RecordMalformed records a discarded payload
func RecordMalformed() {
	MalformedEvents.Inc()
}

// RecordSentinel records a [DONE] sentinel
func RecordSentinel() {
	Sentinels.Inc()
}

// RecordTransportOpen records a transport open for a backend
func RecordTransportOpen(backend string) {
	TransportsOpened.WithLabelValues(backend).Inc()
}

// RecordTransportError records a transport failure for a backend
func RecordTransportError(backend string) {
	TransportErrors.WithLabelValues(backend).Inc()
}

// RecordControlCall records a control call outcome ("ok", "error", "rejected")
func RecordControlCall(command, outcome string) {
	ControlCalls.WithLabelValues(command, outcome).Inc()
}

// RecordToolRecord records a tool record reaching a final status
func RecordToolRecord(tool, status string) {
	ToolRecords.WithLabelValues(tool, status).Inc()
}

// RecordSessionEnd records a session ending
func RecordSessionEnd(status string) {
	SessionsEnded.WithLabelValues(status).Inc()
}

// SetPendingApproval sets the outstanding approval gauge
func SetPendingApproval(pending bool) {
	if pending {
		PendingApprovals.Set(1)
		return
	}
	PendingApprovals.Set(0)
}

// RecordEventDrop records an event buffer drop
func RecordEventDrop() {
	EventBufferDrops.Inc()
}
