package metrics

import "github.com/prometheus/client_golang/prometheus"

// SessionMetrics exposes counters/histograms for the call lifecycle and
// the response pipeline.
type SessionMetrics struct {
	transitionsTotal *prometheus.CounterVec
	intentsTotal     *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
}

func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voyage",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Call lifecycle state transitions",
		}, []string{"from", "to"}),
		intentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voyage",
			Subsystem: "pipeline",
			Name:      "intents_total",
			Help:      "Utterances routed per intent",
		}, []string{"intent"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voyage",
			Subsystem: "session",
			Name:      "failures_total",
			Help:      "Classified failures by kind and origin",
		}, []string{"kind", "source"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voyage",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Time from user utterance to assistant reply",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voyage",
			Subsystem: "session",
			Name:      "active",
			Help:      "Live widget sessions",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.intentsTotal, m.failuresTotal, m.pipelineDuration, m.activeSessions)
	return m
}

func (m *SessionMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *SessionMetrics) ObserveIntent(intent string) {
	if m == nil {
		return
	}
	m.intentsTotal.WithLabelValues(intent).Inc()
}

// ObserveFailure counts a classified failure. source is "sdk" or "pipeline".
func (m *SessionMetrics) ObserveFailure(kind, source string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(kind, source).Inc()
}

func (m *SessionMetrics) ObservePipeline(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.pipelineDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *SessionMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *SessionMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}
