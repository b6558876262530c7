package backtesting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fibors/internal/domain"
	"fibors/internal/ports"
)

// PaperBook is an in-memory ports.OrderSink that fills every market order
// at the close of the bar it was issued on and pairs entries with exits.
// Stop losses are reported as prices but never triggered.
type PaperBook struct {
	mu     sync.Mutex
	market ports.MarketData
	symbol string
	orders []domain.Order
	trades []*domain.Trade
	entry  *fill
}

type fill struct {
	order domain.Order
	price float64
}

// NewPaperBook creates a book filling against market.
func NewPaperBook(market ports.MarketData, symbol string) *PaperBook {
	return &PaperBook{market: market, symbol: symbol}
}

// Submit fills order. Entries while a position is open and exits that do not
// match the open side are rejected with ports.ErrOrderRejected.
func (b *PaperBook) Submit(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit %s: %w", order.Action, ports.ErrContextCanceled)
	}
	price, err := b.fillPrice(order)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if order.Action.IsEntry() {
		if b.entry != nil {
			return fmt.Errorf("%s at bar %d with %s open: %w", order.Action, order.Bar, b.entry.order.Action, ports.ErrOrderRejected)
		}
		b.entry = &fill{order: order, price: price}
	} else {
		if b.entry == nil || entrySide(b.entry.order.Action) != exitSide(order.Action) {
			return fmt.Errorf("%s at bar %d has no matching entry: %w", order.Action, order.Bar, ports.ErrOrderRejected)
		}
		b.close(order.Bar, order.Time, price, domain.CloseReasonTarget)
	}
	b.orders = append(b.orders, order)
	return nil
}

func (b *PaperBook) fillPrice(order domain.Order) (float64, error) {
	if !order.IsMarket() {
		return order.Price, nil
	}
	k, ok := b.market.At(order.Bar)
	if !ok {
		return 0, fmt.Errorf("fill %s at bar %d: %w", order.Action, order.Bar, ports.ErrMissingBar)
	}
	return k.Close, nil
}

// close books the open entry as a trade. Callers hold b.mu.
func (b *PaperBook) close(bar int, at time.Time, price float64, reason domain.CloseReason) {
	entry := b.entry.order
	side := entrySide(entry.Action)
	t := &domain.Trade{
		Symbol:      b.symbol,
		Side:        side,
		EntryBar:    entry.Bar,
		ExitBar:     bar,
		EntryPrice:  b.entry.price,
		ExitPrice:   price,
		Quantity:    entry.Size,
		PNL:         domain.CalculatePNL(side, b.entry.price, price, entry.Size),
		EntryTime:   entry.Time,
		ExitTime:    at,
		CloseReason: reason,
	}
	if entry.StopLoss != nil {
		t.StopPrice = entry.StopLoss.Price(b.entry.price)
	}
	b.trades = append(b.trades, t)
	b.entry = nil
}

// Finish closes any open position at the close of bar, reporting
// CloseReasonEndOfData. It reports whether a position was closed.
func (b *PaperBook) Finish(bar int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entry == nil {
		return false, nil
	}
	k, ok := b.market.At(bar)
	if !ok {
		return false, fmt.Errorf("finish at bar %d: %w", bar, ports.ErrMissingBar)
	}
	b.close(bar, k.OpenTime, k.Close, domain.CloseReasonEndOfData)
	return true, nil
}

// Orders returns the accepted orders in submission order.
func (b *PaperBook) Orders() []domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Order, len(b.orders))
	copy(out, b.orders)
	return out
}

// Trades returns the closed round trips.
func (b *PaperBook) Trades() []*domain.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*domain.Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

// OpenSide returns the side of the unclosed entry, SideFlat if none.
func (b *PaperBook) OpenSide() domain.PositionSide {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entry == nil {
		return domain.SideFlat
	}
	return entrySide(b.entry.order.Action)
}

func entrySide(a domain.OrderAction) domain.PositionSide {
	switch a {
	case domain.ActionBuy:
		return domain.SideLong
	case domain.ActionSell:
		return domain.SideShort
	}
	return domain.SideFlat
}

func exitSide(a domain.OrderAction) domain.PositionSide {
	switch a {
	case domain.ActionExitLong:
		return domain.SideLong
	case domain.ActionExitShort:
		return domain.SideShort
	}
	return domain.SideFlat
}
