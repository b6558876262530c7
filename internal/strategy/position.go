package strategy

import (
	"fmt"

	"fibors/internal/domain"
	"fibors/internal/ports"
)

// Position is the single position lifeline of a strategy instance.
type Position struct {
	Side       domain.PositionSide
	Size       float64
	EntryBar   int
	EntryPrice float64 // Close of the entry bar, for reporting
	StopLoss   *domain.StopLoss
}

func flatPosition() Position {
	return Position{Side: domain.SideFlat, EntryBar: -1}
}

// IsFlat reports whether no position is open.
func (p Position) IsFlat() bool {
	return p.Side == domain.SideFlat
}

// apply returns the position after order fills on bar k.
// Entries are only legal from Flat and exits only from the matching side.
func (p Position) apply(order domain.Order, k *domain.Kline) (Position, error) {
	switch {
	case p.Side == domain.SideFlat && order.Action == domain.ActionBuy:
		return p.open(domain.SideLong, order, k), nil
	case p.Side == domain.SideFlat && order.Action == domain.ActionSell:
		return p.open(domain.SideShort, order, k), nil
	case p.Side == domain.SideLong && order.Action == domain.ActionExitLong,
		p.Side == domain.SideShort && order.Action == domain.ActionExitShort:
		return flatPosition(), nil
	default:
		return p, fmt.Errorf("%s not allowed while %s: %w", order.Action, p.Side, ports.ErrInvalidRequest)
	}
}

func (p Position) open(side domain.PositionSide, order domain.Order, k *domain.Kline) Position {
	var stop *domain.StopLoss
	if order.StopLoss != nil {
		sl := *order.StopLoss
		stop = &sl
	}
	return Position{
		Side:       side,
		Size:       order.Size,
		EntryBar:   order.Bar,
		EntryPrice: k.Close,
		StopLoss:   stop,
	}
}
