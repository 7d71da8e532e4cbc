package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the distribution engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	seriesCreated  *prometheus.CounterVec
	adjustOutcomes *prometheus.CounterVec
	adjustDuration prometheus.Histogram
	postings       *prometheus.CounterVec
	cleanups       *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "itemloc"
	}
	factory := promauto.With(reg)

	return &Metrics{
		seriesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "series",
				Name:      "created_total",
				Help:      "Series allocated, by whether a root distribution record was written",
			},
			[]string{"controlled"},
		),
		adjustOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "series",
				Name:      "adjust_total",
				Help:      "Series adjustments by outcome",
			},
			[]string{"outcome"},
		),
		adjustDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "series",
				Name:      "adjust_duration_seconds",
				Help:      "Wall time of series adjustment including interactive waits",
				Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
			},
		),
		postings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "posting",
				Name:      "transactions_total",
				Help:      "Posted inventory transactions by type and outcome",
			},
			[]string{"trans_type", "outcome"},
		),
		cleanups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "series",
				Name:      "cleanup_total",
				Help:      "Series deletions by force flag and result",
			},
			[]string{"force", "result"},
		),
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (m *Metrics) SeriesCreated(controlled bool) {
	if m == nil {
		return
	}
	m.seriesCreated.WithLabelValues(boolLabel(controlled)).Inc()
}

// ObserveAdjust records one adjustment. outcome is "accepted" or an error kind.
func (m *Metrics) ObserveAdjust(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.adjustOutcomes.WithLabelValues(outcome).Inc()
	m.adjustDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Posting(transType string, outcome string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(transType, outcome).Inc()
}

func (m *Metrics) Cleanup(force bool, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cleanups.WithLabelValues(boolLabel(force), result).Inc()
}
