package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"fibors/internal/domain"
	"fibors/internal/strategy/backtesting"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveBacktest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBacktest(&backtesting.BacktestResult{
		Bars: 10,
		Orders: []domain.Order{
			{Action: domain.ActionBuy},
			{Action: domain.ActionExitLong},
			{Action: domain.ActionSell},
			{Action: domain.ActionExitShort},
		},
		Trades: []*domain.Trade{
			{Side: domain.SideLong, PNL: 2},
			{Side: domain.SideShort, PNL: -0.5},
		},
		ExecutionTime: 3 * time.Millisecond,
	}, nil)
	m.ObserveBacktest(nil, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BacktestsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BacktestsTotal.WithLabelValues("error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.BarsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("EXIT_SHORT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues("LONG", "win")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues("SHORT", "loss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProfitTotal))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.LossTotal))
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.BarsTotal.Add(7)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "fibors_bars_total 7")
}
