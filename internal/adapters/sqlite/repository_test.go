package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fibors/internal/domain"
	"fibors/internal/ports"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "fibors-test-*")
	require.NoError(t, err)

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(tmpDir, "nested", "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}
	return repo, cleanup
}

var barTime = time.Date(2025, 2, 7, 10, 0, 0, 0, time.UTC)

func TestNewRepository_RequiresLogger(t *testing.T) {
	repo, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
	assert.Nil(t, repo)
}

func TestRepository_Runs(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first, err := repo.CreateRun(ctx, "ETHUSDT", "level=4")
	require.NoError(t, err)
	second, err := repo.CreateRun(ctx, "BTCUSDT", "level=2")
	require.NoError(t, err)
	assert.Greater(t, second, first)

	runs, err := repo.FindRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID, "newest first")
	assert.Equal(t, "BTCUSDT", runs[0].Symbol)
	assert.Equal(t, "level=2", runs[0].Params)
	assert.False(t, runs[0].CreatedAt.IsZero())

	run, err := repo.FindRun(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", run.Symbol)

	_, err = repo.FindRun(ctx, 999)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestRepository_Orders(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	runID, err := repo.CreateRun(ctx, "ETHUSDT", "")
	require.NoError(t, err)

	exit := domain.Order{Bar: 13, Time: barTime.Add(2 * time.Minute), Symbol: "ETHUSDT", Action: domain.ActionExitLong, Size: 1, Reason: "target"}
	entry := domain.Order{
		Bar: 11, Time: barTime, Symbol: "ETHUSDT", Action: domain.ActionBuy, Size: 1,
		StopLoss: &domain.StopLoss{Percent: 2, Side: domain.SideLong}, Reason: "cross",
	}
	_, err = repo.RecordOrder(ctx, runID, exit)
	require.NoError(t, err)
	_, err = repo.RecordOrder(ctx, runID, entry)
	require.NoError(t, err)

	orders, err := repo.FindOrdersByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	got := orders[0]
	assert.Equal(t, 11, got.Bar, "bar order")
	assert.True(t, barTime.Equal(got.Time))
	assert.Equal(t, domain.ActionBuy, got.Action)
	assert.Equal(t, "cross", got.Reason)
	require.NotNil(t, got.StopLoss)
	assert.Equal(t, domain.StopLoss{Percent: 2, Side: domain.SideLong}, *got.StopLoss)

	assert.Equal(t, domain.ActionExitLong, orders[1].Action)
	assert.Nil(t, orders[1].StopLoss)
	assert.True(t, orders[1].IsMarket())

	empty, err := repo.FindOrdersByRun(ctx, runID+1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRepository_Trades(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	runID, err := repo.CreateRun(ctx, "ETHUSDT", "")
	require.NoError(t, err)

	trade := &domain.Trade{
		Symbol:      "ETHUSDT",
		Side:        domain.SideShort,
		EntryBar:    11,
		ExitBar:     13,
		EntryPrice:  100,
		ExitPrice:   90,
		StopPrice:   102,
		Quantity:    1,
		PNL:         10,
		EntryTime:   barTime,
		ExitTime:    barTime.Add(2 * time.Minute),
		CloseReason: domain.CloseReasonTarget,
	}
	id, err := repo.RecordTrade(ctx, runID, trade)
	require.NoError(t, err)
	assert.Equal(t, id, trade.ID)
	assert.Equal(t, runID, trade.RunID)

	trades, err := repo.FindTradesByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	got := trades[0]
	assert.Equal(t, trade.ID, got.ID)
	assert.Equal(t, domain.SideShort, got.Side)
	assert.Equal(t, 11, got.EntryBar)
	assert.Equal(t, 13, got.ExitBar)
	assert.Equal(t, 102.0, got.StopPrice)
	assert.Equal(t, 10.0, got.PNL)
	assert.Equal(t, domain.CloseReasonTarget, got.CloseReason)
	assert.Equal(t, 2*time.Minute, got.Duration())
}

func TestRepository_UnknownRun(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, err := repo.RecordOrder(ctx, 42, domain.Order{Bar: 1, Time: barTime, Action: domain.ActionBuy, Size: 1})
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = repo.RecordTrade(ctx, 42, &domain.Trade{Side: domain.SideLong, EntryTime: barTime, ExitTime: barTime})
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "busy", err: sqlite3.Error{Code: sqlite3.ErrBusy}, want: ports.ErrTimeout},
		{name: "cannot open", err: sqlite3.Error{Code: sqlite3.ErrCantOpen}, want: ports.ErrDBConnection},
		{name: "unique constraint", err: sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, want: ports.ErrQueryFailed},
		{name: "other", err: errors.New("boom"), want: ports.ErrQueryFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, translateError(tt.err), tt.want)
		})
	}
}
