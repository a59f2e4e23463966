package backdrop

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// StatsCollector exports the statistics of a backdrop as Prometheus
// counters labelled by event type.
type StatsCollector struct {
	backdrop *HeapBackdrop
	calls    *prometheus.Desc
	seconds  *prometheus.Desc
}

// NewStatsCollector returns a collector reading from b on every scrape.
func NewStatsCollector(b *HeapBackdrop) *StatsCollector {
	return newStatsCollector(b, nil)
}

// NewProcessStatsCollector labels every series with pid, so the backdrops
// of one replay session can share a registry.
func NewProcessStatsCollector(pid uint32, b *HeapBackdrop) *StatsCollector {
	return newStatsCollector(b, prometheus.Labels{"pid": strconv.FormatUint(uint64(pid), 10)})
}

func newStatsCollector(b *HeapBackdrop, constLabels prometheus.Labels) *StatsCollector {
	return &StatsCollector{
		backdrop: b,
		calls: prometheus.NewDesc(
			"chronoheap_backdrop_calls_total",
			"Number of heap calls dispatched through the backdrop.",
			[]string{"event"}, constLabels,
		),
		seconds: prometheus.NewDesc(
			"chronoheap_backdrop_call_seconds_total",
			"Time spent inside the replayed heap implementation.",
			[]string{"event"}, constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.seconds
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	for et, s := range c.backdrop.Stats() {
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.Calls), et.String())
		ch <- prometheus.MustNewConstMetric(c.seconds, prometheus.CounterValue, s.Time.Seconds(), et.String())
	}
}
