package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "topic_syncer"

// Metrics holds the process collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	categoryOutcome *prometheus.CounterVec
	topicsWritten   prometheus.Counter
	summaries       *prometheus.CounterVec
	summaryLatency  prometheus.Histogram
	gateWait        prometheus.Histogram
	queries         *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	published       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Completed poll cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_cycle_duration_seconds",
			Help:      "Poll cycle duration.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		categoryOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_category_outcomes_total",
			Help:      "Per-category poll outcomes.",
		}, []string{"outcome"}),
		topicsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_topics_written_total",
			Help:      "Topic rows upserted.",
		}),
		summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarizer_requests_total",
			Help:      "Summarization attempts by result.",
		}, []string{"result"}),
		summaryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summarizer_request_duration_seconds",
			Help:      "Provider call latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		gateWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summarizer_gate_wait_seconds",
			Help:      "Time spent waiting for the cooldown gate.",
			Buckets:   []float64{0, 0.5, 1, 2, 5, 10, 30},
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_requests_total",
			Help:      "Query service calls by operation and result.",
		}, []string{"op", "result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_lookups_total",
			Help:      "Query cache lookups by result.",
		}, []string{"result"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topic_events_published_total",
			Help:      "Topic events sent to the broker by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles,
		m.cycleDuration,
		m.categoryOutcome,
		m.topicsWritten,
		m.summaries,
		m.summaryLatency,
		m.gateWait,
		m.queries,
		m.cacheLookups,
		m.published,
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveCycle(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) CategoryOutcome(outcome string) {
	if m == nil {
		return
	}
	m.categoryOutcome.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TopicWritten() {
	if m == nil {
		return
	}
	m.topicsWritten.Inc()
}

// Summary records one summarization attempt; result is ok, failed, empty, cancelled or breaker_open.
func (m *Metrics) Summary(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.summaries.WithLabelValues(result).Inc()
	if d > 0 {
		m.summaryLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) GateWait(d time.Duration) {
	if m == nil {
		return
	}
	m.gateWait.Observe(d.Seconds())
}

func (m *Metrics) Query(op, result string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(op, result).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Published(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.published.WithLabelValues(result).Inc()
}
