// Package metrics exposes the engine's prometheus instruments. A nil
// *Metrics is valid and records nothing, so tests can skip wiring it.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kerdos/logging"
)

const namespace = "kerdos"

type Metrics struct {
	reg *prometheus.Registry

	commands     *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	orders       *prometheus.CounterVec
	fills        *prometheus.CounterVec
	settled      *prometheus.CounterVec
	engineTime   *prometheus.HistogramVec
	queueDepth   *prometheus.GaugeVec
	liveOrders   *prometheus.GaugeVec
	outbox       *prometheus.GaugeVec
	broadcasts   *prometheus.CounterVec
	snapshotTime prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_total",
			Help: "Commands accepted, by market and command",
		}, []string{"market", "command"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejected_total",
			Help: "Commands rejected, by market, command and reason",
		}, []string{"market", "command", "reason"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_total",
			Help: "Orders placed, by market and side",
		}, []string{"market", "side"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fills_total",
			Help: "Fill events produced by matching",
		}, []string{"market"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "settled_events_total",
			Help: "Fill events drained by settlement",
		}, []string{"market"}),
		engineTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "command_seconds",
			Help:    "Time spent applying a command, journal and ledger included",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		}, []string{"market", "command"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "event_queue_depth",
			Help: "Unsettled fill events",
		}, []string{"market"}),
		liveOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "book_live_orders",
			Help: "Resting orders per book side",
		}, []string{"market", "side"}),
		outbox: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "outbox_entries",
			Help: "Outbox entries by state",
		}, []string{"state"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcasts_total",
			Help: "Fill publish attempts by result",
		}, []string{"result"}),
		snapshotTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_snapshot_timestamp_seconds",
			Help: "Unix time of the last snapshot written",
		}),
	}
	m.reg.MustRegister(
		m.commands, m.rejected, m.orders, m.fills, m.settled, m.engineTime,
		m.queueDepth, m.liveOrders, m.outbox, m.broadcasts, m.snapshotTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// CommandTimer times a command. Call the returned func when it finishes:
//
//	defer m.CommandTimer(market, "place")()
func (m *Metrics) CommandTimer(market, command string) func() {
	start := time.Now()
	return func() {
		if m == nil {
			return
		}
		m.engineTime.WithLabelValues(market, command).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) CommandOK(market, command string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(market, command).Inc()
}

func (m *Metrics) Rejected(market, command, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(market, command, reason).Inc()
}

func (m *Metrics) OrderPlaced(market, side string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(market, side).Inc()
}

func (m *Metrics) Fills(market string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.fills.WithLabelValues(market).Add(float64(n))
}

func (m *Metrics) Settled(market string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.settled.WithLabelValues(market).Add(float64(n))
}

func (m *Metrics) SetQueueDepth(market string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(market).Set(float64(n))
}

func (m *Metrics) SetLiveOrders(market, side string, n int) {
	if m == nil {
		return
	}
	m.liveOrders.WithLabelValues(market, side).Set(float64(n))
}

func (m *Metrics) SetOutbox(state string, n int) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(state).Set(float64(n))
}

func (m *Metrics) Broadcast(result string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(result).Inc()
}

func (m *Metrics) SnapshotWritten(at time.Time) {
	if m == nil {
		return
	}
	m.snapshotTime.Set(float64(at.Unix()))
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	log.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
