// Package strategy implements the Fibonacci-band + RSI signal engine: a
// session owning its indicators and single position, advanced bar by bar.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"fibors/internal/domain"
	"fibors/internal/ports"
	"fibors/internal/strategy/indicators"
)

// Config holds parameters for the trading strategy.
type Config struct {
	Symbol              string
	Quantity            float64 // Fixed order size, e.g. 1
	StopLossPercent     float64 // 0..100, e.g. 2 for 2%
	OscillatorLength    int     // RSI length, e.g. 14
	OversoldThreshold   int     // e.g. 30
	OverboughtThreshold int     // e.g. 70
	RangeLookbackLength int     // Bars in the high/low window, e.g. 200
	RangeMultiplier     float64 // Outer band extension, 0.001..50
	LevelIndex          int     // 1..4 -> 382, 500, 618, 764
}

// DefaultConfig returns the unoptimized defaults, tuned for 1 minute bars.
func DefaultConfig() Config {
	return Config{
		Quantity:            1,
		StopLossPercent:     2,
		OscillatorLength:    14,
		OversoldThreshold:   30,
		OverboughtThreshold: 70,
		RangeLookbackLength: 200,
		RangeMultiplier:     3,
		LevelIndex:          4,
	}
}

// Validate checks every parameter and reports all problems at once.
func (c Config) Validate() error {
	var errs []string

	if c.Quantity <= 0 {
		errs = append(errs, "quantity must be positive")
	}
	if c.StopLossPercent < 0 || c.StopLossPercent > 100 {
		errs = append(errs, fmt.Sprintf("stop loss %g%% not in 0..100", c.StopLossPercent))
	}
	if c.OscillatorLength < 1 || c.OscillatorLength > 100 {
		errs = append(errs, fmt.Sprintf("oscillator length %d not in 1..100", c.OscillatorLength))
	}
	if c.OversoldThreshold < 0 || c.OversoldThreshold > 100 || c.OverboughtThreshold < 0 || c.OverboughtThreshold > 100 {
		errs = append(errs, "oscillator thresholds must be between 0 and 100")
	} else if c.OversoldThreshold >= c.OverboughtThreshold {
		errs = append(errs, fmt.Sprintf("oversold threshold %d must be below overbought threshold %d", c.OversoldThreshold, c.OverboughtThreshold))
	}
	if c.RangeLookbackLength < 1 {
		errs = append(errs, "range lookback length must be at least 1")
	}
	if c.RangeMultiplier < indicators.MinMultiplier || c.RangeMultiplier > indicators.MaxMultiplier {
		errs = append(errs, fmt.Sprintf("range multiplier %g not in 0.001..50", c.RangeMultiplier))
	}
	if _, err := indicators.LevelThousandths(c.LevelIndex); err != nil {
		errs = append(errs, fmt.Sprintf("level index %d is not mapped", c.LevelIndex))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}
	return nil
}

// Oscillator is the momentum series read at offsets from the current bar.
type Oscillator interface {
	Value(offset int) indicators.Reading
}

// BandSource is the range-projection band set read at offsets from the current bar.
type BandSource interface {
	Value(offset, band int) indicators.Reading
}

// Option customizes a Strategy at construction.
type Option func(*Strategy)

// WithTerminator installs an external early-termination flag, polled before each bar.
func WithTerminator(shouldTerminate func() bool) Option {
	return func(s *Strategy) { s.terminator = shouldTerminate }
}

// withIndicators swaps the indicators, used by tests to script readings.
func withIndicators(osc Oscillator, bands BandSource) Option {
	return func(s *Strategy) {
		s.osc = osc
		s.bands = bands
	}
}

// Strategy is one strategy run: its indicators, its position and its
// progress through the series. Run calls on one instance are serialized.
type Strategy struct {
	cfg      Config
	logger   ports.Logger
	market   ports.MarketData
	sink     ports.OrderSink
	osc      Oscillator
	bands    BandSource
	required int

	terminator func() bool
	terminated atomic.Bool

	mu       sync.Mutex
	position Position
	lastBar  int
	started  bool
}

// New validates cfg and builds a strategy reading market and emitting to sink.
func New(cfg Config, market ports.MarketData, sink ports.OrderSink, logger ports.Logger, opts ...Option) (*Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if market == nil || sink == nil {
		return nil, fmt.Errorf("market data and order sink are required: %w", ports.ErrConfigurationError)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rsi, err := indicators.NewRSI(market, cfg.OscillatorLength)
	if err != nil {
		return nil, err
	}
	bands, err := indicators.NewFibonacciBands(market, cfg.RangeLookbackLength, cfg.RangeMultiplier, cfg.LevelIndex)
	if err != nil {
		return nil, err
	}

	s := &Strategy{
		cfg:      cfg,
		logger:   logger,
		market:   market,
		sink:     sink,
		osc:      rsi,
		bands:    bands,
		required: max(rsi.RequiredDataPoints(), bands.RequiredDataPoints()),
		position: flatPosition(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the validated configuration.
func (s *Strategy) Config() Config {
	return s.cfg
}

// RequiredDataPoints returns the bars needed before both indicators are defined.
func (s *Strategy) RequiredDataPoints() int {
	return s.required
}

// Position returns a copy of the current position.
func (s *Strategy) Position() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// LastProcessedBar returns the last evaluated bar and whether any bar was evaluated.
func (s *Strategy) LastProcessedBar() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBar, s.started
}

// barSignals is everything the decision rules read for one bar.
type barSignals struct {
	bar             int
	kline           *domain.Kline
	rsi, prevRSI    indicators.Reading
	oversoldCross   indicators.CrossResult
	overboughtCross indicators.CrossResult
	lowerOuter      indicators.Reading
	lowerTarget     indicators.Reading
	upperTarget     indicators.Reading
	upperOuter      indicators.Reading
}

func (s *Strategy) readSignals(bar int, k *domain.Kline) barSignals {
	rsi, prevRSI := s.osc.Value(0), s.osc.Value(1)
	oversold := indicators.Threshold(float64(s.cfg.OversoldThreshold))
	overbought := indicators.Threshold(float64(s.cfg.OverboughtThreshold))

	return barSignals{
		bar:             bar,
		kline:           k,
		rsi:             rsi,
		prevRSI:         prevRSI,
		oversoldCross:   indicators.Classify(prevRSI, oversold, rsi, oversold),
		overboughtCross: indicators.Classify(prevRSI, overbought, rsi, overbought),
		lowerOuter:      s.bands.Value(0, indicators.BandLowerOuter),
		lowerTarget:     s.bands.Value(0, indicators.BandLowerTarget),
		upperTarget:     s.bands.Value(0, indicators.BandUpperTarget),
		upperOuter:      s.bands.Value(0, indicators.BandUpperOuter),
	}
}

// onBar evaluates the current bar. Callers hold s.mu.
func (s *Strategy) onBar(ctx context.Context) error {
	bar := s.market.CurrentBar()
	k, ok := s.market.Bar(0)
	if !ok {
		return fmt.Errorf("bar %d: %w", bar, ports.ErrMissingBar)
	}

	sig := s.readSignals(bar, k)
	s.logger.Debug(ctx, "Bar evaluated", map[string]interface{}{
		"bar":             bar,
		"high":            k.High,
		"low":             k.Low,
		"rsi":             sig.rsi.String(),
		"oversoldCross":   sig.oversoldCross.String(),
		"overboughtCross": sig.overboughtCross.String(),
		"targetUp":        sig.upperTarget.String(),
		"targetDown":      sig.lowerTarget.String(),
		"side":            s.position.Side,
	})

	order := s.decide(sig)
	if order == nil {
		return nil
	}

	next, err := s.position.apply(*order, k)
	if err != nil {
		return err
	}
	if err := s.sink.Submit(ctx, *order); err != nil {
		s.logger.Error(ctx, err, "Order submission failed", map[string]interface{}{"bar": bar, "action": order.Action})
		return fmt.Errorf("submit %s at bar %d: %w", order.Action, bar, err)
	}

	s.logger.Info(ctx, "Position transition", map[string]interface{}{
		"bar":    bar,
		"action": order.Action,
		"from":   s.position.Side,
		"to":     next.Side,
		"reason": order.Reason,
	})
	s.position = next
	return nil
}

// decide applies the entry rules when flat, otherwise the exit rule of the
// open side, against the position as it stood at the start of the bar.
func (s *Strategy) decide(sig barSignals) *domain.Order {
	k := sig.kline
	switch s.position.Side {
	case domain.SideFlat:
		if !sig.upperOuter.Valid || !sig.upperTarget.Valid || !sig.lowerOuter.Valid || !sig.lowerTarget.Valid {
			return nil
		}
		if k.Low < sig.upperOuter.Value && sig.oversoldCross == indicators.UpCross && k.High < sig.upperTarget.Value {
			return s.entryOrder(sig, domain.ActionBuy, domain.SideLong, "RSI crossed above oversold inside bands")
		}
		if k.High > sig.lowerOuter.Value && sig.overboughtCross == indicators.DownCross && k.Low > sig.lowerTarget.Value {
			return s.entryOrder(sig, domain.ActionSell, domain.SideShort, "RSI crossed below overbought inside bands")
		}
	case domain.SideLong:
		if sig.upperTarget.Valid && k.High > sig.upperTarget.Value {
			return s.exitOrder(sig, domain.ActionExitLong, "high above upper target band")
		}
	case domain.SideShort:
		if sig.lowerTarget.Valid && k.Low > sig.lowerTarget.Value {
			return s.exitOrder(sig, domain.ActionExitShort, "low above lower target band")
		}
	}
	return nil
}

func (s *Strategy) entryOrder(sig barSignals, action domain.OrderAction, side domain.PositionSide, reason string) *domain.Order {
	return &domain.Order{
		Bar:      sig.bar,
		Time:     sig.kline.OpenTime,
		Symbol:   s.cfg.Symbol,
		Action:   action,
		Size:     s.cfg.Quantity,
		StopLoss: &domain.StopLoss{Percent: s.cfg.StopLossPercent, Side: side},
		Reason:   reason,
	}
}

func (s *Strategy) exitOrder(sig barSignals, action domain.OrderAction, reason string) *domain.Order {
	return &domain.Order{
		Bar:    sig.bar,
		Time:   sig.kline.OpenTime,
		Symbol: s.cfg.Symbol,
		Action: action,
		Size:   s.position.Size,
		Reason: reason,
	}
}
