// Package monitoring wraps an internal prometheus.Registry behind a
// narrow MetricsSink interface. No HTTP exposition endpoint is built
// here: the collector only counts and gauges for whatever process
// embeds this package (tests, operator tooling, or a `/metrics` handler
// some other binary wires up).
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink is the coordinator's view of metrics: a handful of counters
// and gauges, never an error return. coordinator.New replaces a nil
// MetricsSink with NoopSink, so the coordinator never calls a nil sink.
type MetricsSink interface {
	IntentRejected(reason string)
	OrderExecuting()
	OrderSkipped(reason string)
	OrderDeferred()
	FillSubmitted()
	FillConfirmed()
	FillFailed()
	ClaimSubmitted()
	ClaimConfirmed()
	OrderCompleted()
	MonitorTimeout(kind string)
	SetPendingOrders(n int)
}

// PrometheusSink is the default MetricsSink, backed by an internal
// registry the caller owns (it can be exposed over HTTP by whatever
// embeds this package, or left uncollected in tests).
type PrometheusSink struct {
	registry *prometheus.Registry

	intentsRejected *prometheus.CounterVec
	ordersExecuting prometheus.Counter
	ordersSkipped   *prometheus.CounterVec
	ordersDeferred  prometheus.Counter
	fillsSubmitted  prometheus.Counter
	fillsConfirmed  prometheus.Counter
	fillsFailed     prometheus.Counter
	claimsSubmitted prometheus.Counter
	claimsConfirmed prometheus.Counter
	ordersCompleted prometheus.Counter
	monitorTimeouts *prometheus.CounterVec
	pendingOrders   prometheus.Gauge
}

// NewPrometheusSink registers every collector on a fresh registry and
// returns the sink. Registry() exposes the registry for a caller that
// wants to serve it.
func NewPrometheusSink() *PrometheusSink {
	reg := prometheus.NewRegistry()
	s := &PrometheusSink{
		registry: reg,
		intentsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solver",
			Name:      "intents_rejected_total",
			Help:      "Intents rejected by an order standard, by reason.",
		}, []string{"reason"}),
		ordersExecuting: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solver", Name: "orders_executing_total",
			Help: "Orders the execution strategy decided to execute.",
		}),
		ordersSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solver", Name: "orders_skipped_total",
			Help: "Orders the execution strategy decided to skip, by reason.",
		}, []string{"reason"}),
		ordersDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solver", Name: "orders_deferred_total",
			Help: "Orders the execution strategy deferred for re-evaluation.",
		}),
		fillsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solver", Name: "fills_submitted_total",
			Help: "Fill transactions submitted to a destination chain.",
		}),
		fillsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solver", Name: "fills_confirmed_total",
			Help: "Fill transactions confirmed successful on-chain.",
		}),
		fillsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solver", Name: "fills_failed_total",
			Help: "Fill transactions that reverted on-chain.",
		}),
		claimsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solver", Name: "claims_submitted_total",
			Help: "Claim transactions submitted to an origin chain.",
		}),
		claimsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solver", Name: "claims_confirmed_total",
			Help: "Claim transactions confirmed successful on-chain.",
		}),
		ordersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solver", Name: "orders_completed_total",
			Help: "Orders that reached Completed.",
		}),
		monitorTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solver", Name: "monitor_timeouts_total",
			Help: "Per-submission monitors that hit their deadline, by kind.",
		}, []string{"kind"}),
		pendingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "solver", Name: "orders_pending",
			Help: "Orders currently in flight (fill or claim pending).",
		}),
	}
	reg.MustRegister(
		s.intentsRejected, s.ordersExecuting, s.ordersSkipped, s.ordersDeferred,
		s.fillsSubmitted, s.fillsConfirmed, s.fillsFailed,
		s.claimsSubmitted, s.claimsConfirmed, s.ordersCompleted,
		s.monitorTimeouts, s.pendingOrders,
	)
	return s
}

// Registry returns the underlying prometheus.Registry for an embedder
// that wants to serve /metrics itself.
func (s *PrometheusSink) Registry() *prometheus.Registry { return s.registry }

func (s *PrometheusSink) IntentRejected(reason string) { s.intentsRejected.WithLabelValues(reason).Inc() }
func (s *PrometheusSink) OrderExecuting()               { s.ordersExecuting.Inc() }
func (s *PrometheusSink) OrderSkipped(reason string)    { s.ordersSkipped.WithLabelValues(reason).Inc() }
func (s *PrometheusSink) OrderDeferred()                { s.ordersDeferred.Inc() }
func (s *PrometheusSink) FillSubmitted()                { s.fillsSubmitted.Inc() }
func (s *PrometheusSink) FillConfirmed()                { s.fillsConfirmed.Inc() }
func (s *PrometheusSink) FillFailed()                   { s.fillsFailed.Inc() }
func (s *PrometheusSink) ClaimSubmitted()                { s.claimsSubmitted.Inc() }
func (s *PrometheusSink) ClaimConfirmed()                { s.claimsConfirmed.Inc() }
func (s *PrometheusSink) OrderCompleted()                { s.ordersCompleted.Inc() }
func (s *PrometheusSink) MonitorTimeout(kind string)     { s.monitorTimeouts.WithLabelValues(kind).Inc() }
func (s *PrometheusSink) SetPendingOrders(n int)         { s.pendingOrders.Set(float64(n)) }

// NoopSink discards every observation; it is the default when no sink is
// configured.
type NoopSink struct{}

func (NoopSink) IntentRejected(string)     {}
func (NoopSink) OrderExecuting()           {}
func (NoopSink) OrderSkipped(string)       {}
func (NoopSink) OrderDeferred()            {}
func (NoopSink) FillSubmitted()            {}
func (NoopSink) FillConfirmed()            {}
func (NoopSink) FillFailed()               {}
func (NoopSink) ClaimSubmitted()           {}
func (NoopSink) ClaimConfirmed()           {}
func (NoopSink) OrderCompleted()           {}
func (NoopSink) MonitorTimeout(string)     {}
func (NoopSink) SetPendingOrders(int)      {}
