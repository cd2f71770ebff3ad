package telemetry

import (
	"net/http"
	"strconv"

	"github.com/maxpert/viewsync/cfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "viewsync"

// registry is nil until InitializeTelemetry runs with Prometheus enabled;
// every constructor hands out noop stats while it is nil.
var registry *prometheus.Registry

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
}

type Histogram interface {
	Observe(float64)
}

// CounterVec hands out the counter for one combination of label values.
type CounterVec interface {
	With(labels ...string) Counter
}

// Latency selects the histogram buckets for a duration metric.
type Latency int

const (
	// LatencyRound covers whole reconciliation rounds, which may span several attempts
	LatencyRound Latency = iota
	// LatencyQuorumWait covers a single bounded quorum wait
	LatencyQuorumWait
	// LatencySend covers one out-of-band delivery to a peer
	LatencySend
)

func (l Latency) buckets() []float64 {
	switch l {
	case LatencyRound:
		return []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	case LatencyQuorumWait:
		return []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	case LatencySend:
		return []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
	default:
		return prometheus.DefBuckets
	}
}

type NoopStat struct{}

func (NoopStat) Inc()            {}
func (NoopStat) Add(float64)     {}
func (NoopStat) Set(float64)     {}
func (NoopStat) Observe(float64) {}

type noopCounterVec struct{}

func (noopCounterVec) With(...string) Counter { return NoopStat{} }

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

// nodeLabels tags every series with the local node id so scrapes from a
// whole cluster can be merged.
func nodeLabels() prometheus.Labels {
	return prometheus.Labels{"node_id": strconv.FormatUint(cfg.Config.NodeID, 10)}
}

func NewCounter(name, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: nodeLabels(),
	})
	registry.MustRegister(ret)
	return ret
}

func NewCounterVec(name, help string, labels ...string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}

	ret := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: nodeLabels(),
	}, labels)
	registry.MustRegister(ret)
	return prometheusCounterVec{vec: ret}
}

func NewGauge(name, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: nodeLabels(),
	})
	registry.MustRegister(ret)
	return ret
}

// NewLatency registers a duration histogram in seconds using the buckets of
// the given latency profile.
func NewLatency(name, help string, latency Latency) Histogram {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		Buckets:     latency.buckets(),
		ConstLabels: nodeLabels(),
	})
	registry.MustRegister(ret)
	return ret
}

// InitializeTelemetry creates the Prometheus registry when enabled in config.
// It must run before InitMetrics.
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	log.Info().Msg("Prometheus metrics enabled, served on the cluster port at /metrics")
}

// GetMetricsHandler returns the Prometheus handler, or nil when disabled.
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
