// Package metrics holds the Prometheus metrics for cycle runs.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thientran01/weather-bot/internal/report"
)

// Registry holds all metrics on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	SectionsTotal *prometheus.CounterVec
	DroppedQuotes prometheus.Counter
	MaxAbsGap     *prometheus.GaugeVec
}

// New creates the registry with every metric registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weatherbot_cycles_total",
				Help: "Total number of comparison cycles by result",
			},
			[]string{"result"},
		),

		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "weatherbot_cycle_duration_seconds",
				Help:    "Wall-clock duration of a comparison cycle",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
		),

		SectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weatherbot_sections_total",
				Help: "City/metric/date sections by outcome (ok or no-data reason)",
			},
			[]string{"outcome"},
		),

		DroppedQuotes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "weatherbot_dropped_quotes_total",
				Help: "Market quotes that could not be placed in a bucket",
			},
		),

		MaxAbsGap: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "weatherbot_max_abs_gap",
				Help: "Largest |forecast - market| in the last cycle per city and metric",
			},
			[]string{"city", "metric"},
		),
	}

	r.reg.MustRegister(
		r.CyclesTotal,
		r.CycleDuration,
		r.SectionsTotal,
		r.DroppedQuotes,
		r.MaxAbsGap,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// RecordCycle updates every metric from a finished cycle.
func (r *Registry) RecordCycle(s *report.Summary) {
	result := "ok"
	if ok, _ := s.Counts(); ok == 0 && len(s.Sections) > 0 {
		result = "no_data"
	}
	r.CyclesTotal.WithLabelValues(result).Inc()
	r.CycleDuration.Observe(s.Duration.Seconds())
	r.DroppedQuotes.Add(float64(s.Dropped()))

	best := make(map[[2]string]float64)
	for i := range s.Sections {
		sec := &s.Sections[i]
		r.SectionsTotal.WithLabelValues(sec.Outcome()).Inc()

		key := [2]string{sec.Target.City, string(sec.Target.Metric)}
		if l := sec.Largest(); l != nil {
			g, _ := l.AbsGap()
			if g > best[key] {
				best[key] = g
			}
		} else if _, seen := best[key]; !seen {
			best[key] = 0
		}
	}
	// Only targets present in this cycle keep a series.
	r.MaxAbsGap.Reset()
	for key, g := range best {
		r.MaxAbsGap.WithLabelValues(key[0], key[1]).Set(g)
	}
}

// RecordFailure counts a cycle that could not run at all.
func (r *Registry) RecordFailure(err error) {
	result := "error"
	if errors.Is(err, context.Canceled) {
		result = "canceled"
	}
	r.CyclesTotal.WithLabelValues(result).Inc()
}
