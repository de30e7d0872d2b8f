// Package metrics exposes watchlist storage and store counters to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/tv-watchlist/services/watchlist/internal/watchlist"
)

const namespace = "watchlist"

// Storage implements watchlist.Observer and tracks the store size.
type Storage struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
	dropped  prometheus.Counter
	items    prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Storage {
	m := &Storage{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "ops_total",
			Help:      "Storage operations by op and result",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "op_duration_seconds",
			Help:      "Storage operation latency including retries",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}, []string{"op"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "dropped_items_total",
			Help:      "Invalid items dropped while loading the document",
		}),
		items: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "items",
			Help:      "Items currently held by the store",
		}),
	}
	reg.MustRegister(m.ops, m.duration, m.dropped, m.items)
	return m
}

func (m *Storage) ObserveOp(op string, d time.Duration, err error) {
	m.ops.WithLabelValues(op, Result(err)).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Storage) ObserveDropped(n int) {
	m.dropped.Add(float64(n))
}

func (m *Storage) SetItems(n int) {
	m.items.Set(float64(n))
}

// Result is the result label for err.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, watchlist.ErrInvalidItem):
		return "invalid"
	}
	return string(watchlist.KindOf(err))
}
