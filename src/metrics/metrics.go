// Package metrics is mvnwatch's internal metrics facade: FileStore,
// CacheLayer and LockCache each register their own counters/histograms
// through it rather than reaching
// for the prometheus client directly, so call sites stay oblivious to the
// concrete backend. Unlike the teacher's Metrics interface (which
// decorates a pluggable implementation so it can be swapped per build),
// mvnwatch only ever ships one backend, so this package IS that backend:
// every Counter/Histogram created here is live against prometheus's
// DefaultRegisterer from the moment it's constructed.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Namespace is the prometheus namespace every mvnwatch metric is registered under.
const Namespace = "mvnwatch"

// A Counter is a metric that counts up a unitless quantity, e.g. cache
// hits, coalesced upstream fetches, or flush failures.
type Counter struct {
	counter prometheus.Counter
}

// NewCounter creates and registers a new counter. Call it at package init
// time (package-scoped vars), the same pattern cmap's getFast/getMedium
// counters already use.
func NewCounter(subsystem, name, help string) *Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
	prometheus.MustRegister(c)
	return &Counter{counter: c}
}

// Inc increments the counter by one.
func (c *Counter) Inc() {
	c.counter.Inc()
}

// Add increments the counter by the given amount.
func (c *Counter) Add(n float64) {
	c.counter.Add(n)
}

// A Histogram counts individual observations of values (durations, byte
// counts) in buckets, e.g. flush latency or upstream fetch duration.
type Histogram struct {
	hist prometheus.Histogram
}

// NewHistogram creates and registers a new histogram.
func NewHistogram(subsystem, name, help string, buckets []float64) *Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
	prometheus.MustRegister(h)
	return &Histogram{hist: h}
}

// Observe adds an observation to the histogram.
func (h *Histogram) Observe(v float64) {
	h.hist.Observe(v)
}

// ExponentialBuckets creates a set of buckets starting at start and
// increasing by factor each time; a convenience re-export so callers don't
// need a direct prometheus import just to size a Histogram.
func ExponentialBuckets(start, factor float64, count int) []float64 {
	return prometheus.ExponentialBuckets(start, factor, count)
}

// Handler returns the HTTP handler cmd/mvnwatchd mounts at /metrics for
// scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// PushTo performs a single best-effort push of every registered metric to a
// Prometheus Pushgateway at url, grouped under job, and returns any push
// error to the caller.
func PushTo(url, job string) error {
	return push.New(url, job).Gatherer(prometheus.DefaultGatherer).Push()
}
