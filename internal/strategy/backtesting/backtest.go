// Package backtesting replays a historical series through the strategy
// against a paper order book.
package backtesting

import (
	"context"
	"fmt"
	"time"

	"fibors/internal/domain"
	"fibors/internal/ports"
	"fibors/internal/series"
	"fibors/internal/strategy"
	"fibors/internal/strategy/analytics"
)

// BacktestConfig holds configuration for backtesting
type BacktestConfig struct {
	Strategy     strategy.Config
	StartTime    time.Time // Zero means from the first kline
	EndTime      time.Time // Zero means through the last kline
	InitialFunds float64
	CloseAtEnd   bool // Close a position still open after the last bar
	Observer     Observer
}

// Observer is notified once per backtest. result is nil when err is set.
type Observer interface {
	ObserveBacktest(result *BacktestResult, err error)
}

// BacktestResult holds the results of a backtest
type BacktestResult struct {
	Config        BacktestConfig
	Bars          int
	Orders        []domain.Order
	Trades        []*domain.Trade
	OpenSide      domain.PositionSide // Side left open when CloseAtEnd is false
	Metrics       *analytics.PerformanceMetrics
	ExecutionTime time.Duration
}

// Run backtests cfg.Strategy over klines, which must be in ascending time order.
func Run(ctx context.Context, logger ports.Logger, klines []*domain.Kline, cfg BacktestConfig, opts ...strategy.Option) (*BacktestResult, error) {
	result, err := run(ctx, logger, klines, cfg, opts...)
	if cfg.Observer != nil {
		cfg.Observer.ObserveBacktest(result, err)
	}
	return result, err
}

func run(ctx context.Context, logger ports.Logger, klines []*domain.Kline, cfg BacktestConfig, opts ...strategy.Option) (*BacktestResult, error) {
	started := time.Now()
	window := filterKlines(klines, cfg.StartTime, cfg.EndTime)
	if len(window) == 0 {
		return nil, fmt.Errorf("no klines in backtest window: %w", ports.ErrInvalidRequest)
	}

	s, err := series.New(window)
	if err != nil {
		return nil, fmt.Errorf("building series: %w", err)
	}
	book := NewPaperBook(s, cfg.Strategy.Symbol)
	strat, err := strategy.New(cfg.Strategy, s, book, logger, opts...)
	if err != nil {
		return nil, err
	}
	if s.Len() < strat.RequiredDataPoints() {
		return nil, fmt.Errorf("not enough data points for strategy: have %d, need %d: %w",
			s.Len(), strat.RequiredDataPoints(), ports.ErrInvalidRequest)
	}

	if err := strat.Run(ctx, s.FirstBar(), s.LastBar()); err != nil {
		return nil, fmt.Errorf("strategy run: %w", err)
	}
	if last, ok := strat.LastProcessedBar(); ok && cfg.CloseAtEnd {
		if _, err := book.Finish(last); err != nil {
			return nil, err
		}
	}

	result := &BacktestResult{
		Config:   cfg,
		Bars:     s.Len(),
		Orders:   book.Orders(),
		Trades:   book.Trades(),
		OpenSide: book.OpenSide(),
	}
	result.Metrics = analytics.AnalyzePerformance(result.Trades, cfg.InitialFunds)
	result.ExecutionTime = time.Since(started)

	logger.Info(ctx, "Backtest completed", map[string]interface{}{
		"symbol":      cfg.Strategy.Symbol,
		"bars":        result.Bars,
		"orders":      len(result.Orders),
		"trades":      len(result.Trades),
		"totalProfit": result.Metrics.TotalProfit,
		"winRate":     result.Metrics.WinRate,
		"duration":    result.ExecutionTime.String(),
	})
	return result, nil
}

func filterKlines(klines []*domain.Kline, start, end time.Time) []*domain.Kline {
	if start.IsZero() && end.IsZero() {
		return klines
	}
	out := make([]*domain.Kline, 0, len(klines))
	for _, k := range klines {
		if !start.IsZero() && k.OpenTime.Before(start) {
			continue
		}
		if !end.IsZero() && k.OpenTime.After(end) {
			continue
		}
		out = append(out, k)
	}
	return out
}
