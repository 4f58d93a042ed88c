package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audio_gateway_active_sessions",
		Help: "Number of live audio sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_gateway_sessions_total",
		Help: "Total number of sessions accepted",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_gateway_session_duration_seconds",
		Help:    "Duration of audio sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Frame metrics
	framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_gateway_frames_total",
		Help: "Audio frames received by validation outcome",
	}, []string{"outcome"}) // outcome: "valid" or "dropped"

	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Utterance metrics
	utterancesFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_gateway_utterances_total",
		Help: "Finalized utterances by endpoint reason",
	}, []string{"reason"}) // reason: silence_timeout, max_duration, explicit_end

	utterancesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_gateway_utterances_skipped_total",
		Help: "Utterances skipped before dispatch",
	}, []string{"cause"}) // cause: too_short, silent, low_volume

	utteranceSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_gateway_utterance_duration_seconds",
		Help:    "Duration of finalized utterances in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	})

	// Transcription metrics
	transcriptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_gateway_transcription_requests_total",
		Help: "Total transcription dispatches",
	}, []string{"status"})

	transcriptionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_gateway_transcription_latency_seconds",
		Help:    "Transcription latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0},
	})

	// Conversation pipeline metrics
	pipelineRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_gateway_pipeline_requests_total",
		Help: "Total conversation pipeline requests",
	}, []string{"status"})

	pipelineLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_gateway_pipeline_latency_seconds",
		Help:    "Conversation pipeline latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_gateway_tts_requests_total",
		Help: "Total TTS render requests",
	}, []string{"status"})

	// Turn-taking metrics
	silentTurnPrompts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_gateway_silent_turn_prompts_total",
		Help: "Escalating prompts spoken after silent turns",
	})

	bargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_gateway_barge_ins_total",
		Help: "User interruptions of agent speech",
	})

	// Persistence metrics
	turnsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_gateway_turns_dropped_total",
		Help: "Turn records dropped because the store queue was full",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audio_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID       string
	startTime       time.Time
	sttStartTime    time.Time
	pipeStartTime   time.Time
	mu              sync.Mutex
}

// NewSessionMetrics creates a metrics tracker for one session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records an accepted session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordFrame records one received frame and its validation outcome
func (m *Metrics) RecordFrame(valid bool, size int) {
	outcome := "valid"
	if !valid {
		outcome = "dropped"
	}
	framesReceived.WithLabelValues(outcome).Inc()
	audioBytes.WithLabelValues("in").Add(float64(size))
}

// RecordAudioOut records audio bytes sent back to the client
func (m *Metrics) RecordAudioOut(size int) {
	audioBytes.WithLabelValues("out").Add(float64(size))
}

// RecordUtterance records a finalized utterance
func (m *Metrics) RecordUtterance(reason string, seconds float64) {
	utterancesFinalized.WithLabelValues(reason).Inc()
	utteranceSeconds.Observe(seconds)
}

// RecordUtteranceSkipped records a pre-dispatch skip
func (m *Metrics) RecordUtteranceSkipped(cause string) {
	utterancesSkipped.WithLabelValues(cause).Inc()
}

// RecordTranscriptionStart marks the start of a transcription dispatch
func (m *Metrics) RecordTranscriptionStart() {
	m.mu.Lock()
	m.sttStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTranscriptionEnd records the outcome of a transcription dispatch
func (m *Metrics) RecordTranscriptionEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sttStartTime.IsZero() {
		transcriptionLatency.Observe(time.Since(m.sttStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	transcriptionRequests.WithLabelValues(status).Inc()
}

// RecordPipelineStart marks the start of a pipeline request
func (m *Metrics) RecordPipelineStart() {
	m.mu.Lock()
	m.pipeStartTime = time.Now()
	m.mu.Unlock()
}

// RecordPipelineEnd records the outcome of a pipeline request
func (m *Metrics) RecordPipelineEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pipeStartTime.IsZero() {
		pipelineLatency.Observe(time.Since(m.pipeStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	pipelineRequests.WithLabelValues(status).Inc()
}

// RecordTTS records the outcome of a TTS render
func (m *Metrics) RecordTTS(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(status).Inc()
}

// RecordSilentTurnPrompt records one escalating prompt
func (m *Metrics) RecordSilentTurnPrompt() {
	silentTurnPrompts.Inc()
}

// RecordBargeIn records a user interruption
func (m *Metrics) RecordBargeIn() {
	bargeIns.Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordTurnDropped records a turn record lost to queue overflow
func RecordTurnDropped() {
	turnsDropped.Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
