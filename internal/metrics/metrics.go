package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the advisor.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Turns             *prometheus.CounterVec
	CompletionErrors  *prometheus.CounterVec
	CompletionLatency prometheus.Histogram
	Persists          *prometheus.CounterVec
	Recoveries        *prometheus.CounterVec
	Conversations     prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the instruments on reg. Pass a fresh prometheus.NewRegistry()
// in tests; the server uses its own registry too.
func New(reg *prometheus.Registry, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Advisor submissions by outcome.",
		}, []string{"outcome"}),
		CompletionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_errors_total",
			Help:      "Completion failures by kind.",
		}, []string{"kind"}),
		CompletionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Latency of completion calls in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		Persists: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persists_total",
			Help:      "Conversation collection saves by result.",
		}, []string{"result"}),
		Recoveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hydrate_recoveries_total",
			Help:      "Hydrations that could not use the primary snapshot, by source used.",
		}, []string{"source"}),
		Conversations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations",
			Help:      "Conversations held in memory.",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) TurnFinished(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CompletionFailed(kind string) {
	if m == nil {
		return
	}
	m.CompletionErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveCompletion(d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) Persisted(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Persists.WithLabelValues(result).Inc()
}

func (m *Metrics) Recovered(source string) {
	if m == nil {
		return
	}
	m.Recoveries.WithLabelValues(source).Inc()
}

func (m *Metrics) SetConversations(n int) {
	if m == nil {
		return
	}
	m.Conversations.Set(float64(n))
}

// Handler exposes the registry m was built on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
