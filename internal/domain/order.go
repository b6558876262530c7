package domain

import (
	"fmt"
	"time"
)

// StopLoss is a percentage stop attached to an entry order.
// Once issued it is managed by the execution side, not re-evaluated per bar.
type StopLoss struct {
	Percent float64      // Percent offset from the entry price (2 means 2%)
	Side    PositionSide // Side of the position being protected
}

// Price returns the stop price for the given entry price.
func (s StopLoss) Price(entry float64) float64 {
	if s.Side == SideShort {
		return entry * (1 + s.Percent/100)
	}
	return entry * (1 - s.Percent/100)
}

// Order is a discrete instruction handed to the execution collaborator.
type Order struct {
	Bar      int       // Bar index the order was issued on
	Time     time.Time // Open time of that bar
	Symbol   string
	Action   OrderAction
	Size     float64
	Price    float64   // 0 means market
	StopLoss *StopLoss // Only set on entries
	Reason   string
}

// IsMarket reports whether the order carries no limit price.
func (o Order) IsMarket() bool {
	return o.Price == 0
}

func (o Order) String() string {
	s := fmt.Sprintf("%s %s x%g @bar %d", o.Action, o.Symbol, o.Size, o.Bar)
	if o.StopLoss != nil {
		s += fmt.Sprintf(" sl=%.2f%%", o.StopLoss.Percent)
	}
	return s
}
