// Package metrics exposes backtest and optimization progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fibors/internal/ports"
	"fibors/internal/strategy/backtesting"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors updated after every backtest.
type Metrics struct {
	BacktestsTotal   *prometheus.CounterVec // labels: outcome=ok|error
	BarsTotal        prometheus.Counter
	OrdersTotal      *prometheus.CounterVec // labels: action
	TradesTotal      *prometheus.CounterVec // labels: side, result=win|loss
	ProfitTotal      prometheus.Counter
	LossTotal        prometheus.Counter
	BacktestDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BacktestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fibors_backtests_total",
			Help: "Backtests run, by outcome",
		}, []string{"outcome"}),
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fibors_bars_total",
			Help: "Bars replayed through the strategy",
		}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fibors_orders_total",
			Help: "Orders accepted by the paper book, by action",
		}, []string{"action"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fibors_trades_total",
			Help: "Closed round trips, by side and result",
		}, []string{"side", "result"}),
		ProfitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fibors_gross_profit_total",
			Help: "Sum of winning trade PnL",
		}),
		LossTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fibors_gross_loss_total",
			Help: "Sum of losing trade PnL, as a positive number",
		}),
		BacktestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fibors_backtest_duration_seconds",
			Help:    "Wall time of one backtest",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	reg.MustRegister(
		m.BacktestsTotal,
		m.BarsTotal,
		m.OrdersTotal,
		m.TradesTotal,
		m.ProfitTotal,
		m.LossTotal,
		m.BacktestDuration,
	)
	return m
}

// ObserveBacktest implements backtesting.Observer.
func (m *Metrics) ObserveBacktest(result *backtesting.BacktestResult, err error) {
	if err != nil || result == nil {
		m.BacktestsTotal.WithLabelValues("error").Inc()
		return
	}
	m.BacktestsTotal.WithLabelValues("ok").Inc()
	m.BarsTotal.Add(float64(result.Bars))
	m.BacktestDuration.Observe(result.ExecutionTime.Seconds())

	for _, o := range result.Orders {
		m.OrdersTotal.WithLabelValues(string(o.Action)).Inc()
	}
	for _, t := range result.Trades {
		if t.PNL > 0 {
			m.TradesTotal.WithLabelValues(string(t.Side), "win").Inc()
			m.ProfitTotal.Add(t.PNL)
			continue
		}
		m.TradesTotal.WithLabelValues(string(t.Side), "loss").Inc()
		m.LossTotal.Add(-t.PNL)
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger ports.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "Serving metrics", map[string]interface{}{"addr": addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var _ backtesting.Observer = (*Metrics)(nil)
