// Package optimization sweeps strategy parameters over a grid and ranks
// the backtest of every valid combination.
package optimization

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"fibors/internal/domain"
	"fibors/internal/ports"
	"fibors/internal/strategy"
	"fibors/internal/strategy/analytics"
	"fibors/internal/strategy/backtesting"
)

// ParameterGrid lists candidate values per parameter. An empty list keeps
// the base configuration's value.
type ParameterGrid struct {
	LevelIndex          []int     `yaml:"level_index"`
	RangeMultiplier     []float64 `yaml:"fibo_multiplier"`
	RangeLookbackLength []int     `yaml:"fibo_length"`
	OscillatorLength    []int     `yaml:"rsi_length"`
	OversoldThreshold   []int     `yaml:"rsi_oversold"`
	OverboughtThreshold []int     `yaml:"rsi_overbought"`
}

// DefaultGrid sweeps every Fibonacci level with a few multipliers and RSI settings.
func DefaultGrid() ParameterGrid {
	return ParameterGrid{
		LevelIndex:          []int{1, 2, 3, 4},
		RangeMultiplier:     []float64{1, 2, 3},
		OscillatorLength:    []int{7, 14, 21},
		OversoldThreshold:   []int{25, 30},
		OverboughtThreshold: []int{70, 75},
	}
}

// Combinations expands the grid around base, dropping combinations that
// fail strategy.Config.Validate.
func (g ParameterGrid) Combinations(base strategy.Config) []strategy.Config {
	combos := []strategy.Config{base}
	combos = expand(combos, g.LevelIndex, func(c *strategy.Config, v int) { c.LevelIndex = v })
	combos = expand(combos, g.RangeMultiplier, func(c *strategy.Config, v float64) { c.RangeMultiplier = v })
	combos = expand(combos, g.RangeLookbackLength, func(c *strategy.Config, v int) { c.RangeLookbackLength = v })
	combos = expand(combos, g.OscillatorLength, func(c *strategy.Config, v int) { c.OscillatorLength = v })
	combos = expand(combos, g.OversoldThreshold, func(c *strategy.Config, v int) { c.OversoldThreshold = v })
	combos = expand(combos, g.OverboughtThreshold, func(c *strategy.Config, v int) { c.OverboughtThreshold = v })

	valid := combos[:0]
	for _, c := range combos {
		if c.Validate() == nil {
			valid = append(valid, c)
		}
	}
	return valid
}

// expand multiplies in by values, one copy per value.
func expand[T any](in []strategy.Config, values []T, set func(*strategy.Config, T)) []strategy.Config {
	if len(values) == 0 {
		return in
	}
	out := make([]strategy.Config, 0, len(in)*len(values))
	for _, c := range in {
		for _, v := range values {
			next := c
			set(&next, v)
			out = append(out, next)
		}
	}
	return out
}

// OptimizationResult holds the backtest outcome of one parameter combination.
type OptimizationResult struct {
	Params  strategy.Config
	Metrics *analytics.PerformanceMetrics
	Score   float64
}

// Label renders the swept parameters.
func (r OptimizationResult) Label() string {
	return Label(r.Params)
}

// Label renders the parameters a grid can sweep.
func Label(c strategy.Config) string {
	return fmt.Sprintf("level=%d mult=%g lookback=%d rsi=%d os=%d ob=%d",
		c.LevelIndex, c.RangeMultiplier, c.RangeLookbackLength, c.OscillatorLength, c.OversoldThreshold, c.OverboughtThreshold)
}

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	Base          strategy.Config
	Grid          ParameterGrid
	InitialFunds  float64
	Workers       int // Concurrent backtests, defaults to runtime.NumCPU()
	ScoreFunction func(*analytics.PerformanceMetrics) float64
	Observer      backtesting.Observer // Optional, shared by every backtest; must be safe for concurrent use
}

// Optimizer runs one independent backtest per parameter combination.
type Optimizer struct {
	config OptimizerConfig
	logger ports.Logger
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig, logger ports.Logger) *Optimizer {
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	return &Optimizer{config: config, logger: logger}
}

type job struct {
	index  int
	params strategy.Config
}

type scored struct {
	index int
	OptimizationResult
}

// Optimize backtests every combination over klines and returns the results
// by descending score, ties in grid order. Combinations whose backtest
// fails are logged and skipped.
func (o *Optimizer) Optimize(ctx context.Context, klines []*domain.Kline) ([]OptimizationResult, error) {
	combos := o.config.Grid.Combinations(o.config.Base)
	if len(combos) == 0 {
		return nil, fmt.Errorf("parameter grid has no valid combination: %w", ports.ErrConfigurationError)
	}
	o.logger.Info(ctx, "Starting optimization", map[string]interface{}{
		"combinations": len(combos),
		"workers":      o.config.Workers,
	})

	jobs := make(chan job)
	results := make(chan scored, len(combos))
	var wg sync.WaitGroup

	for w := 0; w < min(o.config.Workers, len(combos)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res, err := backtesting.Run(ctx, o.logger, klines, backtesting.BacktestConfig{
					Strategy:     j.params,
					InitialFunds: o.config.InitialFunds,
					Observer:     o.config.Observer,
				})
				if err != nil {
					o.logger.Warn(ctx, "Skipping parameter set", map[string]interface{}{
						"params": Label(j.params),
						"error":  err.Error(),
					})
					continue
				}
				results <- scored{index: j.index, OptimizationResult: OptimizationResult{
					Params:  j.params,
					Metrics: res.Metrics,
					Score:   o.config.ScoreFunction(res.Metrics),
				}}
			}
		}()
	}

feed:
	for i, c := range combos {
		select {
		case jobs <- job{index: i, params: c}:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("optimization interrupted: %w", ports.ErrContextCanceled)
	}

	collected := make([]scored, 0, len(combos))
	for r := range results {
		collected = append(collected, r)
	}
	out := sortResultsByScore(collected)

	if len(out) > 0 {
		o.logger.Info(ctx, "Optimization completed", map[string]interface{}{
			"evaluated": len(out),
			"best":      out[0].Label(),
			"bestScore": out[0].Score,
		})
	}
	return out, nil
}

// sortResultsByScore orders by descending score, breaking ties by grid position.
func sortResultsByScore(in []scored) []OptimizationResult {
	sort.Slice(in, func(i, j int) bool {
		if in[i].Score != in[j].Score {
			return in[i].Score > in[j].Score
		}
		return in[i].index < in[j].index
	})
	out := make([]OptimizationResult, len(in))
	for i, r := range in {
		out[i] = r.OptimizationResult
	}
	return out
}

// DefaultScoreFunction ranks by total profit.
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	return metrics.TotalProfit
}

// WeightedScoreFunction blends win rate, profit factor, drawdown and return.
func WeightedScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	score := 0.0
	score += metrics.WinRate * 0.3
	score += metrics.ProfitFactor * 0.2
	score += (1 - metrics.MaxDrawdown) * 0.2
	score += metrics.ReturnOnInvestment * 0.2
	score += metrics.RiskRewardRatio * 0.1
	return score
}
