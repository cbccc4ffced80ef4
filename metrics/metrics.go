// Package metrics exposes the Scheduler and ClientConnection counters and
// gauges spec.md's domain-stack expansion asks for, registered against a
// prometheus.Registerer the way the teacher's own gopher wires its
// nbio-level counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements the narrow schedulerMetrics and clientConnMetrics
// interfaces mordor.Scheduler and httpc.ClientConnection declare locally,
// so neither package needs to import metrics or prometheus directly.
type Collector struct {
	queueDepth  prometheus.Gauge
	dispatched  prometheus.Counter
	inFlight    prometheus.Gauge
	requestsTot *prometheus.CounterVec
}

// New registers the mordor_* metrics against reg and returns a Collector
// ready to hand to mordor.Scheduler.SetMetrics and
// httpc.ClientConnection.SetMetrics.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mordor_scheduler_queue_depth",
			Help: "Number of items currently queued on a Scheduler.",
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mordor_scheduler_items_dispatched_total",
			Help: "Total number of items a Scheduler has dispatched to a worker.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mordor_client_requests_in_flight",
			Help: "Number of ClientRequests currently admitted but not yet Done.",
		}),
		requestsTot: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mordor_client_requests_total",
			Help: "Total ClientRequests, by terminal outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(c.queueDepth, c.dispatched, c.inFlight, c.requestsTot)
	return c
}

// QueueDepth implements mordor.Scheduler's schedulerMetrics interface.
func (c *Collector) QueueDepth(delta int) {
	c.queueDepth.Add(float64(delta))
}

// Dispatched implements mordor.Scheduler's schedulerMetrics interface.
func (c *Collector) Dispatched() {
	c.dispatched.Inc()
}

// RequestStarted implements httpc.ClientConnection's clientConnMetrics
// interface.
func (c *Collector) RequestStarted() {
	c.inFlight.Inc()
}

// RequestFinished implements httpc.ClientConnection's clientConnMetrics
// interface. outcome is one of "done", "cancelled", "aborted", "failed".
func (c *Collector) RequestFinished(outcome string) {
	c.inFlight.Dec()
	c.requestsTot.WithLabelValues(outcome).Inc()
}
