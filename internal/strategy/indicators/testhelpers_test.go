package indicators

import (
	"testing"
	"time"

	"fibors/internal/domain"
	"fibors/internal/series"

	"github.com/stretchr/testify/require"
)

// newCloseSeries builds a series whose bars all have High=Low=Close.
func newCloseSeries(t *testing.T, closes ...float64) *series.Series {
	t.Helper()
	bars := make([][3]float64, len(closes))
	for i, c := range closes {
		bars[i] = [3]float64{c, c, c}
	}
	return newBarSeries(t, bars...)
}

// newBarSeries builds a series from {high, low, close} triples.
func newBarSeries(t *testing.T, bars ...[3]float64) *series.Series {
	t.Helper()
	start := time.Date(2025, 2, 7, 0, 0, 0, 0, time.UTC)
	klines := make([]*domain.Kline, len(bars))
	for i, b := range bars {
		klines[i] = &domain.Kline{
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     b[2],
			High:     b[0],
			Low:      b[1],
			Close:    b[2],
			IsFinal:  true,
		}
	}
	s, err := series.New(klines)
	require.NoError(t, err)
	return s
}
