package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	descEventCount = prometheus.NewDesc(
		"gamify_events_total", "Events recorded, by event name.",
		[]string{"event"}, nil)
	descEventErrors = prometheus.NewDesc(
		"gamify_event_errors_total", "Event handler errors, by event name.",
		[]string{"event"}, nil)
	descEventProcessing = prometheus.NewDesc(
		"gamify_event_processing_milliseconds_total", "Cumulative event processing time.",
		[]string{"event"}, nil)
	descModuleLast = prometheus.NewDesc(
		"gamify_module_metric_last_value", "Most recent module metric value.",
		[]string{"module", "metric"}, nil)
	descModuleCount = prometheus.NewDesc(
		"gamify_module_metric_observations_total", "Module metric observation count.",
		[]string{"module", "metric"}, nil)
	descUptime = prometheus.NewDesc(
		"gamify_uptime_milliseconds", "Collector uptime.", nil, nil)
	descMemoryRSS = prometheus.NewDesc(
		"gamify_process_memory_rss_bytes", "Resident set size from the last system snapshot.", nil, nil)
	descCPUPercent = prometheus.NewDesc(
		"gamify_process_cpu_percent", "CPU usage from the last system snapshot.", nil, nil)
)

// PrometheusBridge adapts a Collector to the prometheus registry with const
// metrics, so the counters stay owned by the Collector.
type PrometheusBridge struct {
	collector *Collector
}

// NewPrometheusBridge wraps a collector for registration.
func NewPrometheusBridge(collector *Collector) *PrometheusBridge {
	return &PrometheusBridge{collector: collector}
}

func (b *PrometheusBridge) Describe(ch chan<- *prometheus.Desc) {
	ch <- descEventCount
	ch <- descEventErrors
	ch <- descEventProcessing
	ch <- descModuleLast
	ch <- descModuleCount
	ch <- descUptime
	ch <- descMemoryRSS
	ch <- descCPUPercent
}

func (b *PrometheusBridge) Collect(ch chan<- prometheus.Metric) {
	snap := b.collector.Snapshot(context.Background())

	for name, em := range snap.Events {
		ch <- prometheus.MustNewConstMetric(descEventCount, prometheus.CounterValue, float64(em.Count), name)
		ch <- prometheus.MustNewConstMetric(descEventErrors, prometheus.CounterValue, float64(em.Errors), name)
		ch <- prometheus.MustNewConstMetric(descEventProcessing, prometheus.CounterValue, float64(em.TotalProcessingTime), name)
	}
	for module, metricsByName := range snap.Modules {
		for metric, mm := range metricsByName {
			ch <- prometheus.MustNewConstMetric(descModuleLast, prometheus.GaugeValue, mm.LastValue, module, metric)
			ch <- prometheus.MustNewConstMetric(descModuleCount, prometheus.CounterValue, float64(mm.Count), module, metric)
		}
	}
	ch <- prometheus.MustNewConstMetric(descUptime, prometheus.GaugeValue, float64(snap.Uptime))
	ch <- prometheus.MustNewConstMetric(descMemoryRSS, prometheus.GaugeValue, float64(snap.System.MemoryRSS))
	ch <- prometheus.MustNewConstMetric(descCPUPercent, prometheus.GaugeValue, snap.System.CPUPercent)
}
