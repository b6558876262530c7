package strategy

import (
	"context"
	"testing"

	"fibors/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ClampsStartToFirstBar(t *testing.T) {
	h := newHarness(t, flatBars(6), nil)

	require.NoError(t, h.strat.Run(context.Background(), -10, 3))
	last, ok := h.strat.LastProcessedBar()
	require.True(t, ok)
	assert.Equal(t, 3, last)
	assert.Len(t, h.logger.debugMsgs, 4, "bars 0..3 evaluated once each")
}

func TestRun_EmptyRange(t *testing.T) {
	h := newHarness(t, flatBars(6), nil)
	require.NoError(t, h.strat.Run(context.Background(), 4, 3))
	_, ok := h.strat.LastProcessedBar()
	assert.False(t, ok)
}

func TestRun_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("end beyond series", func(t *testing.T) {
		h := newHarness(t, flatBars(6), nil)
		err := h.strat.Run(ctx, 0, 6)
		assert.ErrorIs(t, err, ports.ErrMissingBar)
		_, ok := h.strat.LastProcessedBar()
		assert.False(t, ok, "fails before processing any bar")
	})

	t.Run("overlapping range", func(t *testing.T) {
		h := newHarness(t, flatBars(10), nil)
		require.NoError(t, h.strat.Run(ctx, 0, 5))
		assert.ErrorIs(t, h.strat.Run(ctx, 3, 8), ports.ErrOutOfOrderBar)
	})

	t.Run("gap after last bar", func(t *testing.T) {
		h := newHarness(t, flatBars(10), nil)
		require.NoError(t, h.strat.Run(ctx, 0, 5))
		assert.ErrorIs(t, h.strat.Run(ctx, 7, 8), ports.ErrOutOfOrderBar)
	})

	t.Run("contiguous continuation", func(t *testing.T) {
		h := newHarness(t, flatBars(10), nil)
		require.NoError(t, h.strat.Run(ctx, 0, 5))
		require.NoError(t, h.strat.Run(ctx, 6, 9))
		last, _ := h.strat.LastProcessedBar()
		assert.Equal(t, 9, last)
	})
}

func TestRun_EarlyTermination(t *testing.T) {
	t.Run("terminator flag", func(t *testing.T) {
		polls := 0
		h := newHarness(t, flatBars(10), nil, WithTerminator(func() bool {
			polls++
			return polls > 5
		}))

		require.NoError(t, h.strat.Run(context.Background(), 0, 9))
		last, ok := h.strat.LastProcessedBar()
		require.True(t, ok)
		assert.Equal(t, 4, last)
		assert.Equal(t, 6, polls)
	})

	t.Run("terminate", func(t *testing.T) {
		h := newHarness(t, flatBars(10), nil)
		h.strat.Terminate()
		require.NoError(t, h.strat.Run(context.Background(), 0, 9))
		_, ok := h.strat.LastProcessedBar()
		assert.False(t, ok)
	})

	t.Run("cancelled context", func(t *testing.T) {
		h := newHarness(t, flatBars(10), oversoldScript(10))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, h.strat.Run(ctx, 0, 9))
		_, ok := h.strat.LastProcessedBar()
		assert.False(t, ok)
		assert.Empty(t, h.sink.orders)
	})
}
