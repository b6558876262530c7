package indicators

import (
	"fmt"
	"sync"

	"fibors/internal/ports"
)

// RSI implements the Relative Strength Index with Wilder's smoothing,
// evaluated against a price series relative to its current bar.
//
// Smoothed averages are memoized by bar index. The series is append-only, so
// a bar's reading never changes once computed.
type RSI struct {
	BaseIndicator
	series ports.MarketData

	mu     sync.Mutex
	states []wilderState // states[k] belongs to relative bar Period+k
}

type wilderState struct {
	avgGain float64
	avgLoss float64
}

// NewRSI creates an RSI over the closes of series.
func NewRSI(series ports.MarketData, period int) (*RSI, error) {
	if series == nil {
		return nil, fmt.Errorf("RSI requires a price series: %w", ports.ErrConfigurationError)
	}
	if period < 1 {
		return nil, fmt.Errorf("RSI period must be positive, got %d: %w", period, ports.ErrConfigurationError)
	}
	return &RSI{
		BaseIndicator: BaseIndicator{Config: IndicatorConfig{Period: period}},
		series:        series,
	}, nil
}

// Name returns the name of the indicator
func (r *RSI) Name() string {
	return "RSI"
}

// RequiredDataPoints returns Period+1: Period changes need one extra close.
func (r *RSI) RequiredDataPoints() int {
	return r.Config.Period + 1
}

// Value returns the RSI offset bars before the current bar.
func (r *RSI) Value(offset int) Reading {
	if offset < 0 {
		return Undefined
	}
	return r.At(r.series.CurrentBar() - offset)
}

// At returns the RSI of an absolute bar index no later than the current bar.
func (r *RSI) At(index int) Reading {
	rel := index - r.series.FirstBar()
	if rel < r.Config.Period || index > r.series.CurrentBar() {
		return Undefined
	}
	if _, ok := r.series.At(index); !ok {
		return Undefined
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for k := len(r.states); r.Config.Period+k <= rel; k++ {
		st, ok := r.next(k)
		if !ok {
			return Undefined
		}
		r.states = append(r.states, st)
	}
	st := r.states[rel-r.Config.Period]
	return Defined(rsiFromAverages(st.avgGain, st.avgLoss))
}

// next computes the smoothing state for relative bar Period+k.
func (r *RSI) next(k int) (wilderState, bool) {
	period := r.Config.Period
	if k == 0 {
		// Seed: simple mean of the first Period changes.
		var st wilderState
		for j := 1; j <= period; j++ {
			change, ok := r.change(j)
			if !ok {
				return wilderState{}, false
			}
			if change > 0 {
				st.avgGain += change
			} else {
				st.avgLoss -= change
			}
		}
		st.avgGain /= float64(period)
		st.avgLoss /= float64(period)
		return st, true
	}

	change, ok := r.change(period + k)
	if !ok {
		return wilderState{}, false
	}
	prev := r.states[k-1]
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}
	p := float64(period)
	return wilderState{
		avgGain: (prev.avgGain*(p-1) + gain) / p,
		avgLoss: (prev.avgLoss*(p-1) + loss) / p,
	}, true
}

// change returns close[rel] - close[rel-1] for a relative bar index.
func (r *RSI) change(rel int) (float64, bool) {
	first := r.series.FirstBar()
	cur, ok := r.series.At(first + rel)
	if !ok {
		return 0, false
	}
	prev, ok := r.series.At(first + rel - 1)
	if !ok {
		return 0, false
	}
	return cur.Close - prev.Close, true
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50 // Neutral if no change
		}
		return 100
	}
	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))
	if rsi > 100 {
		return 100
	} else if rsi < 0 {
		return 0
	}
	return rsi
}
