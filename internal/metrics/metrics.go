// Package metrics exposes sorting activity and store contents to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/smartbin/smartbin/internal/bin"
)

// Metrics holds the control loop metrics.
type Metrics struct {
	Resolutions      *prometheus.CounterVec
	Dispatches       *prometheus.CounterVec
	DispatchFailures *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
}

// New creates the loop metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smartbin_resolutions_total",
			Help: "Item label resolutions by outcome",
		}, []string{"outcome"}), // hit, learned, skipped, failed

		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smartbin_dispatches_total",
			Help: "Items routed to a bin, by actuator mode",
		}, []string{"bin", "mode"}),

		DispatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smartbin_dispatch_failures_total",
			Help: "Sort commands that could not be delivered",
		}, []string{"bin"}),

		// the mechanism takes ~10s per item, simulation ~1s
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartbin_dispatch_duration_seconds",
			Help:    "Time spent dispatching one item, including the mechanism wait",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
		}),
	}
}

// RecordResolution counts one resolution outcome.
func (m *Metrics) RecordResolution(outcome string) {
	m.Resolutions.WithLabelValues(outcome).Inc()
}

// RecordDispatch records one dispatch attempt.
func (m *Metrics) RecordDispatch(color bin.Color, mode string, d time.Duration, err error) {
	m.DispatchDuration.Observe(d.Seconds())
	if err != nil {
		m.DispatchFailures.WithLabelValues(string(color)).Inc()
		return
	}
	m.Dispatches.WithLabelValues(string(color), mode).Inc()
}

// StatsSource is read on every scrape.
type StatsSource interface {
	Stats(ctx context.Context, topN int) (*bin.Stats, error)
}

// StoreCollector reports the classification store contents per bin.
type StoreCollector struct {
	source  StatsSource
	log     logrus.FieldLogger
	timeout time.Duration

	records *prometheus.Desc
	usage   *prometheus.Desc
}

// NewStoreCollector creates a collector reading from source.
func NewStoreCollector(source StatsSource, log logrus.FieldLogger) *StoreCollector {
	return &StoreCollector{
		source:  source,
		log:     log,
		timeout: 5 * time.Second,
		records: prometheus.NewDesc(
			"smartbin_records",
			"Learned classifications per bin",
			[]string{"bin"}, nil,
		),
		usage: prometheus.NewDesc(
			"smartbin_usage",
			"Summed usage counters per bin",
			[]string{"bin"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.records
	ch <- c.usage
}

// Collect implements prometheus.Collector.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stats, err := c.source.Stats(ctx, 0)
	if err != nil {
		c.log.WithError(err).Warn("failed to collect store stats")
		return
	}
	for _, color := range bin.Colors {
		b := stats.PerBin[color]
		ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, float64(b.Count), string(color))
		ch <- prometheus.MustNewConstMetric(c.usage, prometheus.GaugeValue, float64(b.Usage), string(color))
	}
}
