package metrics

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/DataDog/datadog-go/v5/statsd"
)

// ExportJSON writes the snapshot as indented JSON.
func (c *Collector) ExportJSON(ctx context.Context, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c.Snapshot(ctx))
}

// ExportCSV writes one row per event counter and one per module metric.
func (c *Collector) ExportCSV(ctx context.Context, w io.Writer) error {
	snap := c.Snapshot(ctx)
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"kind", "name", "metric", "count", "value", "errors", "lastSeen"}); err != nil {
		return err
	}

	eventNames := make([]string, 0, len(snap.Events))
	for name := range snap.Events {
		eventNames = append(eventNames, name)
	}
	sort.Strings(eventNames)
	for _, name := range eventNames {
		em := snap.Events[name]
		row := []string{
			"event", name, "",
			fmt.Sprintf("%d", em.Count),
			fmt.Sprintf("%d", em.TotalProcessingTime),
			fmt.Sprintf("%d", em.Errors),
			fmt.Sprintf("%d", em.LastSeen),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	moduleNames := make([]string, 0, len(snap.Modules))
	for name := range snap.Modules {
		moduleNames = append(moduleNames, name)
	}
	sort.Strings(moduleNames)
	for _, module := range moduleNames {
		metricsByName := snap.Modules[module]
		metricNames := make([]string, 0, len(metricsByName))
		for name := range metricsByName {
			metricNames = append(metricNames, name)
		}
		sort.Strings(metricNames)
		for _, metric := range metricNames {
			mm := metricsByName[metric]
			row := []string{
				"module", module, metric,
				fmt.Sprintf("%d", mm.Count),
				fmt.Sprintf("%g", mm.LastValue),
				"",
				fmt.Sprintf("%d", mm.LastUpdate),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// FlushStatsd pushes the current counters to a statsd client as gauges and
// counts. The caller owns the client lifecycle.
func (c *Collector) FlushStatsd(ctx context.Context, client statsd.ClientInterface) error {
	snap := c.Snapshot(ctx)

	for name, em := range snap.Events {
		tags := []string{"event:" + name}
		if err := client.Count("gamify.events.count", em.Count, tags, 1); err != nil {
			return err
		}
		if err := client.Count("gamify.events.errors", em.Errors, tags, 1); err != nil {
			return err
		}
		if err := client.Gauge("gamify.events.processing_ms", float64(em.TotalProcessingTime), tags, 1); err != nil {
			return err
		}
	}
	for module, metricsByName := range snap.Modules {
		for metric, mm := range metricsByName {
			tags := []string{"module:" + module, "metric:" + metric}
			if err := client.Gauge("gamify.modules.last_value", mm.LastValue, tags, 1); err != nil {
				return err
			}
			if err := client.Count("gamify.modules.count", mm.Count, tags, 1); err != nil {
				return err
			}
		}
	}
	if err := client.Gauge("gamify.system.memory_rss", float64(snap.System.MemoryRSS), nil, 1); err != nil {
		return err
	}
	if err := client.Gauge("gamify.system.cpu_percent", snap.System.CPUPercent, nil, 1); err != nil {
		return err
	}
	return client.Flush()
}
