package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bdobrica/ghostai/internal/ghostai/memory"
)

// Metrics groups all Prometheus instruments used by the service. It
// implements memory.Observer.
type Metrics struct {
	registry *prometheus.Registry

	Compactions       *prometheus.CounterVec
	Drains            *prometheus.CounterVec
	Replies           *prometheus.CounterVec
	BufferTrims       prometheus.Counter
	CompletionLatency *prometheus.HistogramVec
	HotConversations  prometheus.GaugeFunc
}

// NewMetrics registers the instruments on a fresh registry. hotConversations
// is sampled at scrape time; nil reports zero.
func NewMetrics(namespace string, hotConversations func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if hotConversations == nil {
		hotConversations = func() int { return 0 }
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Compactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Compaction attempts by result.",
		}, []string{"result"}),
		Drains: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drains_total",
			Help:      "Per-conversation shutdown drain outcomes by result.",
		}, []string{"result"}),
		Replies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Reply requests by result.",
		}, []string{"result"}),
		BufferTrims: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_trims_total",
			Help:      "Turns dropped from the hot tier by the hard ceiling.",
		}),
		CompletionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_seconds",
			Help:      "Completion backend call latency by purpose.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}, []string{"purpose"}),
		HotConversations: f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hot_conversations",
			Help:      "Conversations currently holding turns in memory.",
		}, func() float64 { return float64(hotConversations()) }),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) CompactionFinished(result string) { m.Compactions.WithLabelValues(result).Inc() }
func (m *Metrics) DrainFinished(result string)      { m.Drains.WithLabelValues(result).Inc() }
func (m *Metrics) ReplyFinished(result string)      { m.Replies.WithLabelValues(result).Inc() }
func (m *Metrics) BufferTrimmed(dropped int)        { m.BufferTrims.Add(float64(dropped)) }

func (m *Metrics) CompletionObserved(purpose string, elapsed time.Duration, _ error) {
	m.CompletionLatency.WithLabelValues(purpose).Observe(elapsed.Seconds())
}

var _ memory.Observer = (*Metrics)(nil)
