// Package metrics exports calculation events as Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/cellcalc/internal/event"
)

// DefaultNamespace is the metric namespace when none is configured.
const DefaultNamespace = "cellcalc"

// Outcome label values.
const (
	OutcomeOK     = "ok"
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultPartial = "partial"
)

// Config configures a Sink.
type Config struct {
	// Namespace prefixes every metric name. Default: "cellcalc".
	Namespace string

	// Registry receives the collectors. Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// DurationBuckets are histogram buckets in seconds.
	// Default: prometheus.DefBuckets.
	DurationBuckets []float64
}

// Sink implements event.Observer by updating Prometheus collectors.
//
// Thread-safe: collectors are safe for concurrent use.
type Sink struct {
	registry   prometheus.Registerer
	collectors []prometheus.Collector

	cells        *prometheus.CounterVec
	cellDuration prometheus.Histogram
	batchSize    prometheus.Histogram
	calculations *prometheus.CounterVec
	duration     prometheus.Histogram
}

// NewSink creates a sink and registers its collectors.
func NewSink(cfg Config) (*Sink, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	if cfg.DurationBuckets == nil {
		cfg.DurationBuckets = prometheus.DefBuckets
	}

	s := &Sink{registry: cfg.Registry}

	s.cells = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "calc",
			Name:      "cells_total",
			Help:      "Evaluated cells by outcome (ok or error type).",
		},
		[]string{"outcome"},
	)
	s.cellDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "calc",
		Name:      "cell_duration_seconds",
		Help:      "Time to evaluate one cell, including waits on precedents.",
		Buckets:   cfg.DurationBuckets,
	})
	s.batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "calc",
		Name:      "batch_cells",
		Help:      "Cells per evaluated batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
	s.calculations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "table",
			Name:      "calculations_total",
			Help:      "Completed calculations by result.",
		},
		[]string{"result"},
	)
	s.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "table",
		Name:      "calculation_duration_seconds",
		Help:      "End-to-end calculation time.",
		Buckets:   cfg.DurationBuckets,
	})

	for _, c := range []prometheus.Collector{s.cells, s.cellDuration, s.batchSize, s.calculations, s.duration} {
		if err := s.registry.Register(c); err != nil {
			s.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		s.collectors = append(s.collectors, c)
	}

	return s, nil
}

// Observe implements event.Observer.
func (s *Sink) Observe(e event.Event) {
	switch e.Type {
	case event.CalcCell:
		outcome := OutcomeOK
		if e.Error != nil {
			outcome = string(e.Error.Type)
		}
		s.cells.WithLabelValues(outcome).Inc()
		s.cellDuration.Observe(e.Elapsed.Seconds())

	case event.CalcBegin:
		s.batchSize.Observe(float64(e.Count))

	case event.TableEnd:
		result := ResultOK
		switch {
		case !e.OK:
			result = ResultFailed
		case e.Failed > 0:
			result = ResultPartial
		}
		s.calculations.WithLabelValues(result).Inc()
		s.duration.Observe(e.Elapsed.Seconds())
	}
}

// Close unregisters every collector.
func (s *Sink) Close() error {
	var errs []error
	for _, c := range s.collectors {
		if !s.registry.Unregister(c) {
			errs = append(errs, fmt.Errorf("unregister %T", c))
		}
	}
	s.collectors = nil
	return errors.Join(errs...)
}
