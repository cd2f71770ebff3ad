package telemetry

import (
	"sync"
	"time"
)

// StatsProvider is implemented by components that expose point-in-time state
// worth sampling as gauges.
type StatsProvider interface {
	RegistrySize() int
	ActiveViewID() uint64
	ViewSize() int
}

// MetricsCollector periodically samples stats and updates telemetry gauges
type MetricsCollector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider StatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	RegistryEntries.Set(float64(mc.provider.RegistrySize()))
	ViewID.Set(float64(mc.provider.ActiveViewID()))
	ViewMembers.Set(float64(mc.provider.ViewSize()))
}
