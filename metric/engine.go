package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine contains collectors of the processing cycle. All of them are
// safe to update from the processing thread: no labels are resolved and
// nothing is allocated on update.
type Engine struct {
	CycleDuration prometheus.Histogram
	DSPLoad       prometheus.Gauge
	MaxCycleTime  prometheus.Gauge
	Cycles        prometheus.Counter
	SkippedCycles prometheus.Counter
	NodeFailures  prometheus.Counter
	Preroll       prometheus.Gauge
}

// NewEngine creates collectors with engine name as a constant label.
func NewEngine(name string) *Engine {
	labels := prometheus.Labels{"engine": name}
	return &Engine{
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   "engine",
				Subsystem:   "cycle",
				Name:        "duration_seconds",
				Help:        "Wall-clock duration of processing cycles in seconds",
				Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 10),
				ConstLabels: labels,
			},
		),
		DSPLoad: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   "engine",
				Subsystem:   "cycle",
				Name:        "dsp_load_ratio",
				Help:        "Duration of the last cycle relative to its period",
				ConstLabels: labels,
			},
		),
		MaxCycleTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   "engine",
				Subsystem:   "cycle",
				Name:        "max_duration_seconds",
				Help:        "Longest cycle since the last reset in seconds",
				ConstLabels: labels,
			},
		),
		Cycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   "engine",
				Subsystem:   "cycle",
				Name:        "processed_total",
				Help:        "Total number of processed cycles",
				ConstLabels: labels,
			},
		),
		SkippedCycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   "engine",
				Subsystem:   "cycle",
				Name:        "skipped_total",
				Help:        "Total number of cycles skipped due to port operation lock contention",
				ConstLabels: labels,
			},
		),
		NodeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   "engine",
				Subsystem:   "node",
				Name:        "failures_total",
				Help:        "Total number of failed node executions",
				ConstLabels: labels,
			},
		),
		Preroll: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   "engine",
				Subsystem:   "router",
				Name:        "preroll_frames",
				Help:        "Latency preroll frames left",
				ConstLabels: labels,
			},
		),
	}
}

// Collectors returns all collectors.
func (e *Engine) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		e.CycleDuration,
		e.DSPLoad,
		e.MaxCycleTime,
		e.Cycles,
		e.SkippedCycles,
		e.NodeFailures,
		e.Preroll,
	}
}

// Register registers all collectors.
func (e *Engine) Register(r prometheus.Registerer) error {
	for _, c := range e.Collectors() {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes all collectors from the registry.
func (e *Engine) Unregister(r prometheus.Registerer) {
	for _, c := range e.Collectors() {
		r.Unregister(c)
	}
}

// ObserveCycle records a processed cycle of the period.
func (e *Engine) ObserveCycle(took, period time.Duration) {
	e.Cycles.Inc()
	e.CycleDuration.Observe(took.Seconds())
	if period > 0 {
		e.DSPLoad.Set(float64(took) / float64(period))
	}
}
