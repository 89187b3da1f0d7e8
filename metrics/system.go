package metrics

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Start launches the periodic system snapshot loop. Stop ends it.
func (c *Collector) Start() {
	go func() {
		ticker := time.NewTicker(c.cfg.CollectInterval)
		defer ticker.Stop()
		c.collectSystem()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.collectSystem()
			}
		}
	}()
}

// Stop ends the system snapshot loop. Idempotent.
func (c *Collector) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// collectSystem refreshes the process-level stats.
func (c *Collector) collectSystem() {
	began := time.Now()
	pid := os.Getpid()

	stats := SystemStats{
		PID:         pid,
		CollectedAt: began.UnixMilli(),
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		c.logger.Warn("system metrics collection failed", "error", err)
	} else {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			stats.MemoryRSS = mem.RSS
		}
		if pct, err := proc.MemoryPercent(); err == nil {
			stats.MemoryPercent = float64(pct)
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			stats.CPUPercent = cpu
		}
	}
	stats.LastCollectDuration = time.Since(began).Milliseconds()

	c.mu.Lock()
	stats.UptimeMillis = time.Since(c.startTime).Milliseconds()
	c.system = stats
	c.mu.Unlock()
}
