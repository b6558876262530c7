package indicators

import "fmt"

// Reading is an indicator value that may be undefined, e.g. during warm-up.
type Reading struct {
	Value float64
	Valid bool
}

// Undefined is the reading returned when there is not enough history.
var Undefined = Reading{}

// Defined wraps a computed value.
func Defined(v float64) Reading {
	return Reading{Value: v, Valid: true}
}

// Threshold wraps a constant level so it can be compared like a series.
func Threshold(v float64) Reading {
	return Defined(v)
}

func (r Reading) String() string {
	if !r.Valid {
		return "undefined"
	}
	return fmt.Sprintf("%.4f", r.Value)
}

// Indicator is implemented by every indicator evaluated against a price series.
type Indicator interface {
	// RequiredDataPoints returns the number of bars needed for the first defined reading.
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the lookback period.
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}
