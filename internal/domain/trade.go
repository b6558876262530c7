package domain

import "time"

// Trade is a closed round trip (entry order plus its exit order).
type Trade struct {
	ID          int64 // Unique identifier (usually from DB)
	RunID       int64 // Backtest run the trade belongs to
	Symbol      string
	Side        PositionSide
	EntryBar    int
	ExitBar     int
	EntryPrice  float64
	ExitPrice   float64
	StopPrice   float64 // Derived from the entry's stop loss, 0 if none
	Quantity    float64
	PNL         float64
	EntryTime   time.Time
	ExitTime    time.Time
	CloseReason CloseReason
}

// Duration returns how long the position was held.
func (t *Trade) Duration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// CalculatePNL returns the side-aware profit of a round trip.
func CalculatePNL(side PositionSide, entry, exit, quantity float64) float64 {
	if side == SideShort {
		return (entry - exit) * quantity
	}
	return (exit - entry) * quantity
}
