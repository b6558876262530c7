package indicators

import (
	"fmt"
	"testing"

	"fibors/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFibonacciBands_ConfigErrors(t *testing.T) {
	s := newCloseSeries(t, 1, 2, 3)
	tests := []struct {
		name       string
		lookback   int
		multiplier float64
		level      int
	}{
		{"level index 5", 3, 1, 5},
		{"level index 0", 3, 1, 0},
		{"zero lookback", 0, 1, 4},
		{"multiplier too small", 3, 0, 4},
		{"multiplier too large", 3, 50.5, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFibonacciBands(s, tt.lookback, tt.multiplier, tt.level)
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
			assert.Nil(t, f)
		})
	}
}

func TestLevelThousandths(t *testing.T) {
	want := map[int]int{1: 382, 2: 500, 3: 618, 4: 764}
	for idx, level := range want {
		got, err := LevelThousandths(idx)
		require.NoError(t, err)
		assert.Equal(t, level, got)
	}
}

func TestFibonacciBands_Values(t *testing.T) {
	s := newBarSeries(t,
		[3]float64{104, 100, 102},
		[3]float64{110, 103, 108},
		[3]float64{107, 101, 105},
		[3]float64{106, 102, 104},
		[3]float64{105, 103, 104},
	)
	f, err := NewFibonacciBands(s, 3, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, f.RequiredDataPoints())
	require.NoError(t, s.Seek(3))

	// Bar 3 reads the window of bars 0..2: H=110 L=100 R=10, p=0.764.
	want := map[int]float64{
		BandLowerOuter:  92.36,
		BandLowerTarget: 102.36,
		BandMid:         105,
		BandUpperTarget: 107.64,
		BandUpperOuter:  117.64,
	}
	for band, v := range want {
		got := f.Value(0, band)
		require.True(t, got.Valid, "band %d", band)
		assert.InDelta(t, v, got.Value, 1e-9, "band %d", band)
	}

	high, low := f.Range(0)
	assert.Equal(t, Defined(110), high)
	assert.Equal(t, Defined(100), low)

	// Bar 4 reads bars 1..3: H=110 L=101.
	require.NoError(t, s.Seek(4))
	high, low = f.Range(0)
	assert.Equal(t, 110.0, high.Value)
	assert.Equal(t, 101.0, low.Value)
	assert.InDelta(t, 92.36, f.Value(1, BandLowerOuter).Value, 1e-9, "offset 1 is the earlier window")
}

func TestFibonacciBands_CurrentBarCanBreakOuterBands(t *testing.T) {
	s := newBarSeries(t,
		[3]float64{104, 100, 102},
		[3]float64{110, 103, 108},
		[3]float64{107, 101, 105},
		[3]float64{120, 112, 118}, // gaps above the window
		[3]float64{100, 90, 95},   // falls below the window built from bars 1..3
	)
	f, err := NewFibonacciBands(s, 3, 0.001, 1)
	require.NoError(t, err)

	require.NoError(t, s.Seek(3))
	k, _ := s.Bar(0)
	upperOuter := f.Value(0, BandUpperOuter)
	require.True(t, upperOuter.Valid)
	assert.Greater(t, k.Low, upperOuter.Value, "low is above the upper outer band")

	require.NoError(t, s.Seek(4))
	k, _ = s.Bar(0)
	lowerOuter := f.Value(0, BandLowerOuter)
	require.True(t, lowerOuter.Valid)
	assert.Less(t, k.High, lowerOuter.Value, "high is below the lower outer band")
}

func TestFibonacciBands_WarmUpAndBadBand(t *testing.T) {
	s := newCloseSeries(t, 10, 11, 12, 13)
	f, err := NewFibonacciBands(s, 3, 3, 1)
	require.NoError(t, err)

	require.NoError(t, s.Seek(2))
	assert.False(t, f.Value(0, BandUpperTarget).Valid)
	assert.False(t, f.At(3, BandUpperTarget).Valid, "bar 3 is not reached yet")

	require.NoError(t, s.Seek(3))
	assert.True(t, f.Value(0, BandUpperTarget).Valid)
	assert.False(t, f.Value(0, 0).Valid)
	assert.False(t, f.Value(0, 6).Valid)
	assert.False(t, f.Value(-1, BandMid).Valid)
}

func TestFibonacciBands_Monotonic(t *testing.T) {
	s := newBarSeries(t,
		[3]float64{12, 9, 10},
		[3]float64{15, 11, 14},
		[3]float64{13, 8, 9},
		[3]float64{10, 7, 8},
	)
	require.NoError(t, s.Seek(3))

	for level := 1; level <= 4; level++ {
		for _, m := range []float64{0.001, 0.5, 1, 3, 50} {
			t.Run(fmt.Sprintf("level%d_m%g", level, m), func(t *testing.T) {
				f, err := NewFibonacciBands(s, 3, m, level)
				require.NoError(t, err)
				for band := BandLowerOuter; band < BandUpperOuter; band++ {
					assert.LessOrEqual(t, f.Value(0, band).Value, f.Value(0, band+1).Value, "band %d vs %d", band, band+1)
				}
			})
		}
	}
}

func TestFibonacciBands_Idempotent(t *testing.T) {
	s := newBarSeries(t, [3]float64{12, 9, 10}, [3]float64{15, 11, 14}, [3]float64{14, 12, 13})
	f, err := NewFibonacciBands(s, 2, 3, 3)
	require.NoError(t, err)
	require.NoError(t, s.Seek(2))

	first := f.Value(0, BandUpperOuter)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, f.Value(0, BandUpperOuter))
	}
	assert.Equal(t, "FIBO618", f.Name())
}
