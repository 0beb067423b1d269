package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// HostStats is a sample of the agent host's resource usage
type HostStats struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
}

// HostCollector samples host CPU and memory usage into Prometheus gauges
type HostCollector struct {
	logger   *zap.Logger
	interval time.Duration

	mu   sync.RWMutex
	last HostStats

	stop     chan struct{}
	stopOnce sync.Once
}

// NewHostCollector creates a collector sampling every interval
func NewHostCollector(interval time.Duration, logger *zap.Logger) *HostCollector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HostCollector{
		logger:   logger.Named("host-collector"),
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start samples once and then keeps sampling until ctx is done or Stop is called
func (c *HostCollector) Start(ctx context.Context) {
	c.logger.Info("Starting host collector", zap.Duration("interval", c.interval))
	c.collect()
	go c.collectLoop(ctx)
}

// Stop stops the collector
func (c *HostCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Snapshot returns the latest sample
func (c *HostCollector) Snapshot() HostStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *HostCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *HostCollector) collect() {
	// A zero interval compares against the previous call instead of blocking.
	cpuPercent, err := cpu.Percent(0, false)
	if err != nil || len(cpuPercent) == 0 {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	stats := HostStats{
		Timestamp:     time.Now().UTC(),
		CPUPercent:    cpuPercent[0],
		MemoryPercent: memInfo.UsedPercent,
	}

	c.mu.Lock()
	c.last = stats
	c.mu.Unlock()

	hostCPUPercent.Set(stats.CPUPercent)
	hostMemoryPercent.Set(stats.MemoryPercent)

	c.logger.Debug("Host stats collected",
		zap.Float64("cpu_percent", stats.CPUPercent),
		zap.Float64("memory_percent", stats.MemoryPercent))
}
