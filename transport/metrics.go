package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes used as the "outcome" label.
const (
	OutcomeSuccess     = "success"
	OutcomeClientError = "client_error"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeExhausted   = "retries_exhausted"
	OutcomeDecodeError = "decode_error"
	OutcomeCanceled    = "canceled"
)

// Metrics holds the prometheus collectors for a Connection. A nil *Metrics
// records nothing.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	attemptsTotal     *prometheus.CounterVec
	failuresTotal     *prometheus.CounterVec
	circuitState      *prometheus.GaugeVec
	circuitRejections *prometheus.CounterVec
	streamEventsTotal *prometheus.CounterVec
}

// NewMetrics registers the transport collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_transport_requests_total",
			Help: "Total number of logical transport requests by outcome",
		}, []string{"endpoint", "method", "outcome"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_transport_request_duration_seconds",
			Help:    "Duration of logical transport requests including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"endpoint", "method", "outcome"}),
		attemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_transport_attempts_total",
			Help: "Total number of HTTP attempts",
		}, []string{"endpoint", "method"}),
		failuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_transport_failures_total",
			Help: "Total number of attempts recorded as breaker failures",
		}, []string{"endpoint", "reason"}),
		circuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llm_transport_circuit_state",
			Help: "Circuit state per endpoint (0 closed, 1 open, 2 half-open)",
		}, []string{"endpoint"}),
		circuitRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_transport_circuit_rejections_total",
			Help: "Total number of attempts rejected by an open circuit",
		}, []string{"endpoint"}),
		streamEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_transport_stream_events_total",
			Help: "Total number of stream data fragments yielded",
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) recordRequest(key EndpointKey, method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(key.String(), method, outcome).Inc()
	m.requestDuration.WithLabelValues(key.String(), method, outcome).Observe(d.Seconds())
}

func (m *Metrics) recordAttempt(key EndpointKey, method string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(key.String(), method).Inc()
}

func (m *Metrics) recordFailure(key EndpointKey, reason string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(key.String(), reason).Inc()
}

func (m *Metrics) recordRejection(key EndpointKey) {
	if m == nil {
		return
	}
	m.circuitRejections.WithLabelValues(key.String()).Inc()
}

func (m *Metrics) recordStreamEvent(key EndpointKey) {
	if m == nil {
		return
	}
	m.streamEventsTotal.WithLabelValues(key.String()).Inc()
}

// ObserveBreaker mirrors b's state transitions into the circuit state gauge.
func (m *Metrics) ObserveBreaker(b *CircuitBreaker) {
	if m == nil || b == nil {
		return
	}
	b.AddStateChangeHook(func(key EndpointKey, _, to State) {
		m.circuitState.WithLabelValues(key.String()).Set(float64(to))
	})
}
