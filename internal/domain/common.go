package domain

// OrderAction represents the instruction carried by an order.
type OrderAction string

const (
	ActionBuy       OrderAction = "BUY"
	ActionSell      OrderAction = "SELL"
	ActionExitLong  OrderAction = "EXIT_LONG"
	ActionExitShort OrderAction = "EXIT_SHORT"
)

// IsEntry reports whether the action opens a position.
func (a OrderAction) IsEntry() bool {
	return a == ActionBuy || a == ActionSell
}

// PositionSide represents the side of the strategy's single position.
type PositionSide string

const (
	SideFlat  PositionSide = "FLAT"
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonTarget    CloseReason = "TARGET"
	CloseReasonEndOfData CloseReason = "END_OF_DATA" // Series ended while the position was open
	CloseReasonUnknown   CloseReason = "Unknown"
)
