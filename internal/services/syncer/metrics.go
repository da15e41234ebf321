package syncer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BearBump/BostaSync/internal/models"
)

type Metrics struct {
	pages    *prometheus.CounterVec
	orders   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	running  *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bosta_sync_pages_total",
			Help: "Search pages processed, by outcome.",
		}, []string{"track", "result"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bosta_sync_orders_total",
			Help: "Orders handled, by outcome (saved, skipped, failed).",
		}, []string{"track", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bosta_sync_run_duration_seconds",
			Help:    "Wall time of a full track run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"track"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bosta_sync_running",
			Help: "1 while a track run is in progress.",
		}, []string{"track"}),
	}
	if reg != nil {
		reg.MustRegister(m.pages, m.orders, m.duration, m.running)
	}
	return m
}

func (m *Metrics) page(tr models.Track, result string) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(string(tr), result).Inc()
}

func (m *Metrics) orderCounts(tr models.Track, c counts) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(string(tr), "saved").Add(float64(c.Saved))
	m.orders.WithLabelValues(string(tr), "skipped").Add(float64(c.Skipped))
	m.orders.WithLabelValues(string(tr), "failed").Add(float64(c.Failed))
}

func (m *Metrics) started(tr models.Track) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(string(tr)).Set(1)
}

func (m *Metrics) finished(tr models.Track, seconds float64) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(string(tr)).Set(0)
	m.duration.WithLabelValues(string(tr)).Observe(seconds)
}
