// Package metrics exposes dispatch counters to Prometheus. Collector подписывается на шину событий
// и ничего не знает о менеджере и координаторе.
package metrics

import (
	"net/http"
	"sync"

	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	events            *prometheus.CounterVec
	alerts            *prometheus.CounterVec
	assignmentsClosed *prometheus.CounterVec
	acceptLatency     prometheus.Histogram
	pendingAcceptance prometheus.Gauge

	mu         sync.Mutex
	assignedAt map[string]float64 // load id -> unix seconds of LoadAssigned
}

func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_events_total",
			Help: "Committed dispatch transitions by event type",
		}, []string{"type"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_alerts_total",
			Help: "Dispatcher alerts raised by alert type",
		}, []string{"alert_type"}),
		assignmentsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_assignments_closed_total",
			Help: "Assignments returned to the pool by outcome",
		}, []string{"outcome"}),
		acceptLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_acceptance_latency_seconds",
			Help:    "Time from assignment to SMS-verified activation",
			Buckets: []float64{30, 60, 120, 300, 600, 900, 1200, 1800, 3600},
		}),
		pendingAcceptance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_pending_acceptance",
			Help: "Loads currently waiting for driver acceptance",
		}),
		assignedAt: make(map[string]float64),
	}

	c.reg.MustRegister(c.events, c.alerts, c.assignmentsClosed, c.acceptLatency, c.pendingAcceptance)
	c.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return c
}

// Handle is a bus subscriber.
func (c *Collector) Handle(ev events.Event) {
	c.events.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case events.AlertRaised:
		c.alerts.WithLabelValues(ev.Reason).Inc()
	case events.LoadAssigned:
		c.mu.Lock()
		if _, ok := c.assignedAt[ev.LoadID]; !ok {
			c.pendingAcceptance.Inc()
		}
		c.assignedAt[ev.LoadID] = float64(ev.OccurredAt.UnixNano()) / 1e9
		c.mu.Unlock()
	case events.LoadActivated:
		if at, ok := c.forget(ev.LoadID); ok {
			c.acceptLatency.Observe(float64(ev.OccurredAt.UnixNano())/1e9 - at)
		}
	case events.LoadExpired, events.LoadRejected, events.LoadUnassigned:
		c.assignmentsClosed.WithLabelValues(ev.Reason).Inc()
		c.forget(ev.LoadID)
	case events.LoadCancelled:
		c.forget(ev.LoadID)
	}
}

func (c *Collector) forget(loadID string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.assignedAt[loadID]
	if ok {
		delete(c.assignedAt, loadID)
		c.pendingAcceptance.Dec()
	}
	return at, ok
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
