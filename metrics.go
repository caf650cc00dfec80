package relog

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "relog"

// Collector exports a pipeline's Snapshot as Prometheus metrics. Values are
// read from the provider on every scrape, so nothing is double counted.
type Collector struct {
	provider StatsProvider

	events        *prometheus.Desc
	queueLength   *prometheus.Desc
	queueCapacity *prometheus.Desc
	processed     *prometheus.Desc
	processErrors *prometheus.Desc
	workers       *prometheus.Desc
}

// compile-time check for prometheus.Collector conformance
var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector for the named pipeline. The name is
// attached to every metric as the "pipeline" label.
func NewCollector(name string, p StatsProvider) *Collector {
	labels := prometheus.Labels{"pipeline": name}
	return &Collector{
		provider: p,
		events: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "events_total"),
			"Events handled by the delivery pipeline, by outcome.",
			[]string{"outcome"}, labels,
		),
		queueLength: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "queue", "length"),
			"Events waiting in the worker queue.",
			nil, labels,
		),
		queueCapacity: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "queue", "capacity"),
			"Configured worker queue capacity (0 means unbounded).",
			nil, labels,
		),
		processed: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "queue", "processed_total"),
			"Items processed by queue workers.",
			nil, labels,
		),
		processErrors: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "queue", "process_errors_total"),
			"Queue workers terminated by a process failure.",
			nil, labels,
		),
		workers: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "queue", "active_workers"),
			"Queue workers currently running.",
			nil, labels,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.events
	ch <- c.queueLength
	ch <- c.queueCapacity
	ch <- c.processed
	ch <- c.processErrors
	ch <- c.workers
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.provider.Stats()

	outcomes := []struct {
		name  string
		value uint64
	}{
		{"queued", s.Queued},
		{"bypassed", s.Bypassed},
		{"dropped", s.Dropped},
		{"delivered", s.Delivered},
		{"sink_failed", s.SinkFailures},
		{"spooled", s.Spooled},
		{"drained", s.Drained},
		{"lost", s.Lost},
	}
	for _, o := range outcomes {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(o.value), o.name)
	}

	ch <- prometheus.MustNewConstMetric(c.queueLength, prometheus.GaugeValue, float64(s.QueueLen))
	ch <- prometheus.MustNewConstMetric(c.queueCapacity, prometheus.GaugeValue, float64(s.QueueCap))
	ch <- prometheus.MustNewConstMetric(c.processed, prometheus.CounterValue, float64(s.Processed))
	ch <- prometheus.MustNewConstMetric(c.processErrors, prometheus.CounterValue, float64(s.ProcessErrors))
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(s.ActiveWorkers))
}

// registerCollector registers c, treating an identical earlier
// registration as success.
func registerCollector(r prometheus.Registerer, c prometheus.Collector) error {
	if err := r.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return err
		}
	}
	return nil
}
