package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segment_recalculations_total",
		Help: "Segment recalculations by result (ok, skipped, error).",
	}, []string{"result"})

	recalculationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "segment_recalculation_duration_seconds",
		Help:    "Wall time of one segment recalculation, lock wait included.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	recalculationMembers = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "segment_recalculation_members",
		Help:    "Members matched by one recalculation.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	salesWindowSaturated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_sales_window_saturated_total",
		Help: "Recalculations whose sales query hit the sales window cap.",
	})
)
