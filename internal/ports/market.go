package ports

import (
	"context"
	"time"

	"fibors/internal/domain"
)

// MarketData is the read-only price series the strategy core evaluates.
// Offsets are relative to the current bar: 0 is the current bar, 1 the previous one.
type MarketData interface {
	// FirstBar returns the index of the earliest bar in the series.
	FirstBar() int
	// LastBar returns the index of the latest finalized bar, or FirstBar()-1 when empty.
	LastBar() int
	// CurrentBar returns the bar the cursor points at.
	CurrentBar() int
	// Seek moves the cursor to bar. Unknown bars return ErrMissingBar.
	Seek(bar int) error
	// Bar returns the bar offset bars before the current one.
	Bar(offset int) (*domain.Kline, bool)
	// At returns the bar at an absolute index.
	At(index int) (*domain.Kline, bool)
}

// OrderSink receives the instructions emitted by the strategy.
// A returned error means the order was not accepted and no transition happens.
type OrderSink interface {
	Submit(ctx context.Context, order domain.Order) error
}

// KlineSource fetches historical klines from an exchange.
type KlineSource interface {
	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error
	// GetKlines retrieves the latest limit klines for symbol.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)
	// GetKlinesRange pages through every kline between start and end.
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)
}
