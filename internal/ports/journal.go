package ports

import (
	"context"
	"time"

	"fibors/internal/domain"
)

// Run describes one recorded backtest run.
type Run struct {
	ID        int64
	Symbol    string
	Params    string // Strategy parameters, serialized by the caller
	CreatedAt time.Time
}

// OrderJournal persists the orders and round trips produced by a run.
type OrderJournal interface {
	// CreateRun registers a new run and returns its ID.
	CreateRun(ctx context.Context, symbol, params string) (int64, error)
	// RecordOrder appends an order to a run.
	RecordOrder(ctx context.Context, runID int64, order domain.Order) (int64, error)
	// RecordTrade appends a closed round trip to a run.
	RecordTrade(ctx context.Context, runID int64, trade *domain.Trade) (int64, error)
	// FindOrdersByRun returns a run's orders in bar order.
	FindOrdersByRun(ctx context.Context, runID int64) ([]domain.Order, error)
	// FindTradesByRun returns a run's trades in entry order.
	FindTradesByRun(ctx context.Context, runID int64) ([]*domain.Trade, error)
	// FindRuns returns all runs, newest first.
	FindRuns(ctx context.Context) ([]Run, error)
}
