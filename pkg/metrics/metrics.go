// Package metrics exposes Prometheus collectors for forest construction and scoring.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "iforest"

// Recorder observes forest activity. A nil *Recorder is valid and records nothing.
type Recorder struct {
	treesBuilt     prometheus.Counter
	createDuration prometheus.Histogram
	scores         prometheus.Counter
	normalized     prometheus.Histogram
}

// NewRecorder creates the collectors and registers them on reg.
// A nil reg leaves the collectors unregistered.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		treesBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trees_built_total",
			Help:      "Number of isolation trees built.",
		}),
		createDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "create_duration_seconds",
			Help:      "Time spent building a forest.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		scores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_total",
			Help:      "Number of samples scored.",
		}),
		normalized: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "normalized_score",
			Help:      "Distribution of normalized anomaly scores.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}

	if reg == nil {
		return r, nil
	}
	for _, c := range []prometheus.Collector{r.treesBuilt, r.createDuration, r.scores, r.normalized} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveCreate records a finished forest build.
func (r *Recorder) ObserveCreate(trees int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.treesBuilt.Add(float64(trees))
	r.createDuration.Observe(elapsed.Seconds())
}

// ObserveScore records one raw score computation.
func (r *Recorder) ObserveScore() {
	if r == nil {
		return
	}
	r.scores.Inc()
}

// ObserveNormalized records a normalized score.
func (r *Recorder) ObserveNormalized(v float64) {
	if r == nil {
		return
	}
	r.normalized.Observe(v)
}
