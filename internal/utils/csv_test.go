package utils

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fibors/internal/domain"
	"fibors/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKlinesCSVFile(t *testing.T) {
	open := time.Date(2025, 2, 7, 10, 0, 0, 0, time.UTC)
	in := []*domain.Kline{
		{OpenTime: open, CloseTime: open.Add(time.Minute - time.Millisecond), Symbol: "ETHUSDT", Interval: "1m",
			Open: 2700.5, High: 2710, Low: 2695.25, Close: 2705, Volume: 12.5, IsFinal: true},
		{OpenTime: open.Add(time.Minute), CloseTime: open.Add(2*time.Minute - time.Millisecond), Symbol: "ETHUSDT", Interval: "1m",
			Open: 2705, High: 2706, Low: 2701, Close: 2702, Volume: 3, IsFinal: true},
	}
	path := filepath.Join(t.TempDir(), "klines.csv")
	require.NoError(t, WriteKlinesToCSV(in, path))

	out, err := ReadKlinesFromCSV(path)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for i := range in {
		assert.True(t, in[i].OpenTime.Equal(out[i].OpenTime))
		assert.True(t, in[i].CloseTime.Equal(out[i].CloseTime))
		assert.Equal(t, in[i].Close, out[i].Close)
		assert.Equal(t, in[i].Low, out[i].Low)
		assert.Equal(t, in[i].Symbol, out[i].Symbol)
		assert.True(t, out[i].IsFinal)
	}
}

func TestReadKlines_MinimalColumnsAndMillis(t *testing.T) {
	data := "Open_Time,Open,High,Low,Close\n1738922400000, 100,102,98,101\n"
	out, err := ReadKlines(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, time.UnixMilli(1738922400000).Equal(out[0].OpenTime))
	assert.Equal(t, 102.0, out[0].High)
	assert.Equal(t, 0.0, out[0].Volume)
}

func TestReadKlines_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		msg  string
	}{
		{name: "empty", data: "", msg: "empty"},
		{name: "missing column", data: "open_time,open,high,close\n", msg: `"low"`},
		{name: "bad price", data: "open_time,open,high,low,close\n1,1,x,1,1\n", msg: "line 2"},
		{name: "bad time", data: "open_time,open,high,low,close\nyesterday,1,1,1,1\n", msg: "open_time"},
		{name: "high below low", data: "open_time,open,high,low,close\n1,1,1,2,1\n", msg: "below low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadKlines(strings.NewReader(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrInvalidRequest)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestWriteTrades(t *testing.T) {
	entry := time.Date(2025, 2, 7, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := WriteTrades(&buf, []*domain.Trade{{
		RunID: 3, Symbol: "ETHUSDT", Side: domain.SideLong, EntryBar: 11, ExitBar: 13,
		EntryTime: entry, ExitTime: entry.Add(2 * time.Minute),
		EntryPrice: 100, ExitPrice: 106, StopPrice: 98, Quantity: 1, PNL: 6,
		CloseReason: domain.CloseReasonTarget,
	}})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "run_id,symbol,side"))
	assert.Equal(t, "3,ETHUSDT,LONG,11,13,2025-02-07T10:00:00Z,2025-02-07T10:02:00Z,100,106,98,1,6,TARGET", lines[1])
}
