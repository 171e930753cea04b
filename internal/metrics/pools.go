package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"samasy.io/samasy/internal/pkg/worker"
)

// poolCollector reports worker pool occupancy at scrape time.
type poolCollector struct {
	stats func() map[string]worker.Stats
	desc  *prometheus.Desc
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for name, s := range c.stats() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(s.Running), name, "running")
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(s.Free), name, "free")
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(s.Cap), name, "cap")
	}
}

// WatchPools exports samasy_worker_pool_workers{pool, state} from stats,
// typically (*worker.Pools).Metrics.
func (r *Recorder) WatchPools(stats func() map[string]worker.Stats) error {
	return r.registry.Register(&poolCollector{
		stats: stats,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "worker_pool", "workers"),
			"Worker pool goroutines by state (running, free, cap).",
			[]string{"pool", "state"}, nil,
		),
	})
}
