package acme

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the issuance and responder counters on their own registry.
type Metrics struct {
	registry           *prometheus.Registry
	runs               *prometheus.CounterVec
	challengeResponses *prometheus.CounterVec
	certificates       prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "http01",
			Name:      "runs_total",
			Help:      "Issuance runs by outcome.",
		}, []string{"outcome"}),
		challengeResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "http01",
			Name:      "challenge_responses_total",
			Help:      "Challenge requests answered by the responder, by result.",
		}, []string{"result"}),
		certificates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "http01",
			Name:      "certificates_written_total",
			Help:      "Per-host certificate copies written to disk.",
		}),
	}
	m.registry.MustRegister(m.runs, m.challengeResponses, m.certificates)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observeRun(outcome Outcome) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) observeChallenge(result string) {
	if m == nil {
		return
	}
	m.challengeResponses.WithLabelValues(result).Inc()
}

func (m *Metrics) observeCertificates(n int) {
	if m == nil {
		return
	}
	m.certificates.Add(float64(n))
}
