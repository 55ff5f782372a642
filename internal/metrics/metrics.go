// Package metrics exposes Prometheus counters for the analysis pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns the pipeline collectors and the registry they live in.
type Manager struct {
	namespace string
	subsystem string
	buckets   []float64
	registry  *prometheus.Registry

	framesIngested   prometheus.Counter
	sessionsAnalyzed prometheus.Counter
	candidateEvents  *prometheus.CounterVec
	refinedEvents    *prometheus.CounterVec
	suppressions     *prometheus.CounterVec
	mechanicEvents   *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	pipelineDuration prometheus.Histogram
	skippedLines     prometheus.Counter
	repairedLines    prometheus.Counter
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry registers collectors on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// WithHistogramBuckets sets custom buckets for the duration histogram.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}

// NewManager creates a Manager on its own registry, so Go runtime
// collectors never end up in the textfile.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "rlmetrics",
		subsystem: "pipeline",
		buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.init()
	return m
}

func (m *Manager) init() {
	auto := promauto.With(m.registry)

	m.framesIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "frames_ingested_total",
		Help:      "Frames decoded from timeline files",
	})
	m.skippedLines = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "frames_skipped_total",
		Help:      "Timeline lines that could not be decoded",
	})
	m.repairedLines = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "frames_repaired_total",
		Help:      "Timeline lines kept with ill-typed fields reset to defaults",
	})
	m.sessionsAnalyzed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_analyzed_total",
		Help:      "Sessions run through the full pipeline",
	})
	m.candidateEvents = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "candidate_events_total",
		Help:      "Events emitted by the streaming engine, by type",
	}, []string{"type"})
	m.refinedEvents = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "refined_events_total",
		Help:      "Events kept by the refiner, by type",
	}, []string{"type"})
	m.suppressions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "suppressions_total",
		Help:      "Candidate events dropped by the refiner, by reason",
	}, []string{"reason"})
	m.mechanicEvents = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "mechanic_events_total",
		Help:      "Graded mechanic occurrences, by mechanic and label",
	}, []string{"mechanic", "label"})
	m.cacheLookups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_lookups_total",
		Help:      "Per-player result cache lookups, by outcome",
	}, []string{"outcome"})
	m.pipelineDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "player_duration_seconds",
		Help:      "Wall time to analyze one player of a session",
		Buckets:   m.buckets,
	})
}

// Registry returns the registry the collectors are registered on.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

func (m *Manager) AddFrames(n int)       { m.framesIngested.Add(float64(n)) }
func (m *Manager) AddSkippedLines(n int) { m.skippedLines.Add(float64(n)) }
func (m *Manager) AddRepairedLines(n int) { m.repairedLines.Add(float64(n)) }
func (m *Manager) SessionAnalyzed()      { m.sessionsAnalyzed.Inc() }

func (m *Manager) AddCandidate(eventType string) {
	m.candidateEvents.WithLabelValues(eventType).Inc()
}

func (m *Manager) AddRefined(eventType string) {
	m.refinedEvents.WithLabelValues(eventType).Inc()
}

// AddSuppressions records every non-zero reason count.
func (m *Manager) AddSuppressions(counts map[string]int) {
	for reason, n := range counts {
		if n > 0 {
			m.suppressions.WithLabelValues(reason).Add(float64(n))
		}
	}
}

func (m *Manager) AddMechanicEvent(mechanic, label string) {
	m.mechanicEvents.WithLabelValues(mechanic, label).Inc()
}

func (m *Manager) CacheHit()  { m.cacheLookups.WithLabelValues("hit").Inc() }
func (m *Manager) CacheMiss() { m.cacheLookups.WithLabelValues("miss").Inc() }

func (m *Manager) ObservePlayer(d time.Duration) {
	m.pipelineDuration.Observe(d.Seconds())
}

// WriteTextfile writes the current values in the node-exporter textfile format.
func (m *Manager) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
