package indicators

import (
	"fmt"
	"math"

	"fibors/internal/ports"
)

// Band indices understood by FibonacciBands.Value, lowest price first.
const (
	BandLowerOuter  = 1
	BandLowerTarget = 2
	BandMid         = 3
	BandUpperTarget = 4
	BandUpperOuter  = 5
)

const (
	MinMultiplier = 0.001
	MaxMultiplier = 50
)

// fiboLevels maps a level index (1..4) to its proportion in thousandths.
var fiboLevels = [...]int{382, 500, 618, 764}

// LevelThousandths returns the table entry for a level index.
func LevelThousandths(index int) (int, error) {
	if index < 1 || index > len(fiboLevels) {
		return 0, fmt.Errorf("fibonacci level index %d not in 1..%d: %w", index, len(fiboLevels), ports.ErrConfigurationError)
	}
	return fiboLevels[index-1], nil
}

// FibonacciBands projects five price bands off the rolling high/low of the
// lookback bars before the current one, so the current bar can break them.
//
// With H/L the window extremes, R = H-L, p the level proportion and m the multiplier:
//
//	1 lower outer   L - p*R*m
//	2 lower target  L + min(p, 1-p)*R
//	3 midpoint      L + R/2
//	4 upper target  L + max(p, 1-p)*R
//	5 upper outer   H + p*R*m
type FibonacciBands struct {
	BaseIndicator
	series     ports.MarketData
	multiplier float64
	level      int
	proportion float64
}

// NewFibonacciBands validates the parameters and creates the indicator.
func NewFibonacciBands(series ports.MarketData, lookback int, multiplier float64, levelIndex int) (*FibonacciBands, error) {
	if series == nil {
		return nil, fmt.Errorf("fibonacci bands require a price series: %w", ports.ErrConfigurationError)
	}
	if lookback < 1 {
		return nil, fmt.Errorf("fibonacci lookback must be at least 1, got %d: %w", lookback, ports.ErrConfigurationError)
	}
	if math.IsNaN(multiplier) || multiplier < MinMultiplier || multiplier > MaxMultiplier {
		return nil, fmt.Errorf("fibonacci multiplier %g not in [%g, %g]: %w", multiplier, MinMultiplier, float64(MaxMultiplier), ports.ErrConfigurationError)
	}
	level, err := LevelThousandths(levelIndex)
	if err != nil {
		return nil, err
	}
	return &FibonacciBands{
		BaseIndicator: BaseIndicator{Config: IndicatorConfig{Period: lookback}},
		series:        series,
		multiplier:    multiplier,
		level:         level,
		proportion:    float64(level) / 1000,
	}, nil
}

// Name returns the name of the indicator
func (f *FibonacciBands) Name() string {
	return fmt.Sprintf("FIBO%d", f.level)
}

// RequiredDataPoints returns lookback+1: the window plus the bar tested against it.
func (f *FibonacciBands) RequiredDataPoints() int {
	return f.Config.Period + 1
}

// Level returns the configured level in thousandths.
func (f *FibonacciBands) Level() int {
	return f.level
}

// Range returns the raw high and low of the window for the bar offset bars
// before the current one.
func (f *FibonacciBands) Range(offset int) (high, low Reading) {
	if offset < 0 {
		return Undefined, Undefined
	}
	h, l, ok := f.window(f.series.CurrentBar() - offset)
	if !ok {
		return Undefined, Undefined
	}
	return Defined(h), Defined(l)
}

// Value returns band (1..5) offset bars before the current bar.
func (f *FibonacciBands) Value(offset, band int) Reading {
	if offset < 0 {
		return Undefined
	}
	return f.At(f.series.CurrentBar()-offset, band)
}

// At returns band (1..5) for an absolute bar index no later than the current bar.
func (f *FibonacciBands) At(index, band int) Reading {
	if band < BandLowerOuter || band > BandUpperOuter || index > f.series.CurrentBar() {
		return Undefined
	}
	high, low, ok := f.window(index)
	if !ok {
		return Undefined
	}

	r := high - low
	p := f.proportion
	lo, hi := math.Min(p, 1-p), math.Max(p, 1-p)

	switch band {
	case BandLowerOuter:
		return Defined(low - p*r*f.multiplier)
	case BandLowerTarget:
		return Defined(low + lo*r)
	case BandMid:
		return Defined(low + 0.5*r)
	case BandUpperTarget:
		return Defined(low + hi*r)
	default:
		return Defined(high + p*r*f.multiplier)
	}
}

// window scans the lookback bars ending just before index.
func (f *FibonacciBands) window(index int) (high, low float64, ok bool) {
	start := index - f.Config.Period
	if start < f.series.FirstBar() {
		return 0, 0, false
	}
	high, low = math.Inf(-1), math.Inf(1)
	for i := start; i < index; i++ {
		k, found := f.series.At(i)
		if !found {
			return 0, 0, false
		}
		high = math.Max(high, k.High)
		low = math.Min(low, k.Low)
	}
	return high, low, true
}
