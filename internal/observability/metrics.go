package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lexiqai/convo-coach/internal/failure"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convo_coach_active_sessions",
		Help: "Number of sessions currently recording or analyzing",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convo_coach_sessions_total",
		Help: "Total number of sessions by outcome",
	}, []string{"mode", "outcome"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "convo_coach_session_duration_seconds",
		Help:    "Wall clock duration of sessions in seconds",
		Buckets: []float64{5, 30, 60, 120, 300, 600, 1800, 3600},
	})

	// Transcription metrics
	transcriptEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convo_coach_transcript_events_total",
		Help: "Total number of transcript events received from the speech provider",
	})

	// Annotation metrics
	annotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convo_coach_annotations_total",
		Help: "Total number of annotation calls by outcome",
	}, []string{"outcome"}) // annotated, skipped, unparseable, failed, dropped_late

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "convo_coach_provider_latency_seconds",
		Help:    "Language analysis provider latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"call"})

	// Error metrics
	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convo_coach_failures_total",
		Help: "Total number of pipeline failures by kind",
	}, []string{"kind", "fatal"})

	// Persistence metrics
	persistAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convo_coach_persist_attempts_total",
		Help: "Total persistence attempts by status",
	}, []string{"status"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "convo_coach_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convo_coach_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convo_coach_audio_bytes_total",
		Help: "Total audio bytes forwarded to the speech provider",
	}, []string{"mode"}) // mode: "live" or "file"
)

// Annotation outcomes
const (
	AnnotationAnnotated   = "annotated"
	AnnotationSkipped     = "skipped"
	AnnotationUnparseable = "unparseable"
	AnnotationFailed      = "failed"
	AnnotationDroppedLate = "dropped_late"
)

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID string
	mode      string
	startTime time.Time
	ended     bool
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID, mode string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		mode:      mode,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session once
func (m *Metrics) RecordSessionEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true

	activeSessions.Dec()
	sessionsTotal.WithLabelValues(m.mode, outcome).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudioBytes records audio bytes forwarded to the provider
func (m *Metrics) RecordAudioBytes(bytes int64) {
	audioBytesProcessed.WithLabelValues(m.mode).Add(float64(bytes))
}

// RecordTranscriptEvent counts one transcript event
func RecordTranscriptEvent() {
	transcriptEvents.Inc()
}

// RecordAnnotation counts one annotation call outcome
func RecordAnnotation(outcome string) {
	annotations.WithLabelValues(outcome).Inc()
}

// ObserveProviderLatency records the latency of one provider call
func ObserveProviderLatency(call string, d time.Duration) {
	providerLatency.WithLabelValues(call).Observe(d.Seconds())
}

// RecordFailure counts a failure of the given kind
func RecordFailure(kind failure.Kind) {
	fatal := "false"
	if kind.Fatal() {
		fatal = "true"
	}
	failuresTotal.WithLabelValues(string(kind), fatal).Inc()
}

// RecordPersistAttempt counts one persistence attempt
func RecordPersistAttempt(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	persistAttempts.WithLabelValues(status).Inc()
}

// UpdateCircuitBreakerState updates the circuit breaker state gauge
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failures
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
