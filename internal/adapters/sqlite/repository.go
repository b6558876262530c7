package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fibors/internal/domain"
	"fibors/internal/ports"

	"github.com/mattn/go-sqlite3"
)

// Repository implements ports.OrderJournal using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/backtests.db"
	}
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %v: %w", dbPath, err, ports.ErrDBConnection)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %v: %w", dbPath, err, ports.ErrDBConnection)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection keeps the foreign_keys pragma and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "Backtest journal ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		params TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		bar INTEGER NOT NULL,
		bar_time TIMESTAMP NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		size REAL NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		stop_percent REAL NULL,
		stop_side TEXT NULL,
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_bar INTEGER NOT NULL,
		exit_bar INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		stop_price REAL NOT NULL DEFAULT 0,
		quantity REAL NOT NULL,
		pnl REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_run_bar ON orders (run_id, bar);
	CREATE INDEX IF NOT EXISTS idx_trades_run_entry ON trades (run_id, entry_bar);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %v: %w", err, ports.ErrQueryFailed)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// CreateRun registers a backtest run.
func (r *Repository) CreateRun(ctx context.Context, symbol, params string) (int64, error) {
	const query = `INSERT INTO runs (symbol, params, created_at) VALUES (?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query, symbol, params, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert run for symbol %s: %w", symbol, translateError(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for run %s: %w", symbol, translateError(err))
	}
	r.logger.Debug(ctx, "Run created", map[string]interface{}{"runID": id, "symbol": symbol})
	return id, nil
}

// RecordOrder appends an order to a run. An unknown run yields ports.ErrNotFound.
func (r *Repository) RecordOrder(ctx context.Context, runID int64, order domain.Order) (int64, error) {
	const query = `
	INSERT INTO orders (run_id, bar, bar_time, symbol, action, size, price, stop_percent, stop_side, reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var stopPercent sql.NullFloat64
	var stopSide sql.NullString
	if order.StopLoss != nil {
		stopPercent = sql.NullFloat64{Float64: order.StopLoss.Percent, Valid: true}
		stopSide = sql.NullString{String: string(order.StopLoss.Side), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		runID, order.Bar, order.Time, order.Symbol, order.Action, order.Size, order.Price,
		stopPercent, stopSide, order.Reason)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order %s for run %d: %w", order.Action, runID, translateError(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for order of run %d: %w", runID, translateError(err))
	}
	r.logger.Debug(ctx, "Order recorded", map[string]interface{}{"runID": runID, "orderID": id, "action": order.Action, "bar": order.Bar})
	return id, nil
}

// RecordTrade appends a round trip to a run and sets trade.ID and trade.RunID.
func (r *Repository) RecordTrade(ctx context.Context, runID int64, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (run_id, symbol, side, entry_bar, exit_bar, entry_price, exit_price, stop_price,
	                    quantity, pnl, entry_time, exit_time, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		runID, trade.Symbol, trade.Side, trade.EntryBar, trade.ExitBar, trade.EntryPrice, trade.ExitPrice,
		trade.StopPrice, trade.Quantity, trade.PNL, trade.EntryTime, trade.ExitTime, trade.CloseReason)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for run %d: %w", runID, translateError(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade of run %d: %w", runID, translateError(err))
	}
	trade.ID, trade.RunID = id, runID
	r.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"runID": runID, "tradeID": id, "pnl": trade.PNL})
	return id, nil
}

// FindOrdersByRun returns a run's orders in bar order.
func (r *Repository) FindOrdersByRun(ctx context.Context, runID int64) ([]domain.Order, error) {
	const query = `
	SELECT bar, bar_time, symbol, action, size, price, stop_percent, stop_side, reason
	FROM orders WHERE run_id = ? ORDER BY bar, id`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders for run %d: %w", runID, translateError(err))
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order of run %d: %w", runID, translateError(err))
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", translateError(err))
	}
	return orders, nil
}

// FindTradesByRun returns a run's trades in entry order.
func (r *Repository) FindTradesByRun(ctx context.Context, runID int64) ([]*domain.Trade, error) {
	const query = `
	SELECT id, run_id, symbol, side, entry_bar, exit_bar, entry_price, exit_price, stop_price,
	       quantity, pnl, entry_time, exit_time, close_reason
	FROM trades WHERE run_id = ? ORDER BY entry_bar, id`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for run %d: %w", runID, translateError(err))
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade of run %d: %w", runID, translateError(err))
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", translateError(err))
	}
	return trades, nil
}

// FindRuns returns all runs, newest first.
func (r *Repository) FindRuns(ctx context.Context) ([]ports.Run, error) {
	const query = `SELECT id, symbol, params, created_at FROM runs ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", translateError(err))
	}
	defer rows.Close()

	runs := make([]ports.Run, 0)
	for rows.Next() {
		var run ports.Run
		if err := rows.Scan(&run.ID, &run.Symbol, &run.Params, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", translateError(err))
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", translateError(err))
	}
	return runs, nil
}

// FindRun returns one run by ID.
func (r *Repository) FindRun(ctx context.Context, runID int64) (*ports.Run, error) {
	const query = `SELECT id, symbol, params, created_at FROM runs WHERE id = ?`

	var run ports.Run
	err := r.db.QueryRowContext(ctx, query, runID).Scan(&run.ID, &run.Symbol, &run.Params, &run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to query run %d: %w", runID, translateError(err))
	}
	return &run, nil
}

// translateError maps driver errors onto the port sentinels.
func translateError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ports.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			if sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
				return fmt.Errorf("%v: %w", err, ports.ErrNotFound)
			}
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%v: %w", err, ports.ErrTimeout)
		case sqlite3.ErrCantOpen:
			return fmt.Errorf("%v: %w", err, ports.ErrDBConnection)
		}
	}
	return fmt.Errorf("%v: %w", err, ports.ErrQueryFailed)
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (domain.Order, error) {
	var o domain.Order
	var action string
	var stopPercent sql.NullFloat64
	var stopSide sql.NullString
	if err := s.Scan(&o.Bar, &o.Time, &o.Symbol, &action, &o.Size, &o.Price, &stopPercent, &stopSide, &o.Reason); err != nil {
		return o, err
	}
	o.Action = domain.OrderAction(action)
	if stopPercent.Valid {
		o.StopLoss = &domain.StopLoss{Percent: stopPercent.Float64, Side: domain.PositionSide(stopSide.String)}
	}
	return o, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side string
	var closeReason sql.NullString
	err := s.Scan(
		&t.ID, &t.RunID, &t.Symbol, &side, &t.EntryBar, &t.ExitBar, &t.EntryPrice, &t.ExitPrice, &t.StopPrice,
		&t.Quantity, &t.PNL, &t.EntryTime, &t.ExitTime, &closeReason)
	if err != nil {
		return nil, err
	}
	t.Side = domain.PositionSide(side)
	if closeReason.Valid {
		t.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		t.CloseReason = domain.CloseReasonUnknown
	}
	return t, nil
}

var _ ports.OrderJournal = (*Repository)(nil)
