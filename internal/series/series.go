// Package series holds the append-only in-memory price series the strategy
// core reads through ports.MarketData.
package series

import (
	"fmt"
	"sync"

	"fibors/internal/domain"
	"fibors/internal/ports"
)

// Series is an append-only list of finalized klines with a bar cursor.
// Bar indices start at 0.
type Series struct {
	mu      sync.RWMutex
	bars    []*domain.Kline
	current int
}

// New creates a series from klines, validating their order.
func New(klines []*domain.Kline) (*Series, error) {
	s := &Series{bars: make([]*domain.Kline, 0, len(klines)), current: -1}
	for i, k := range klines {
		if err := s.Append(k); err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
	}
	return s, nil
}

// Append adds a finalized kline. OpenTime must be strictly after the last bar's.
func (s *Series) Append(k *domain.Kline) error {
	if k == nil {
		return fmt.Errorf("nil kline: %w", ports.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.bars); n > 0 {
		last := s.bars[n-1]
		if !k.OpenTime.After(last.OpenTime) {
			return fmt.Errorf("open time %s not after %s: %w",
				k.OpenTime.Format("2006-01-02T15:04:05"), last.OpenTime.Format("2006-01-02T15:04:05"), ports.ErrOutOfOrderBar)
		}
	}
	// Copy so callers cannot mutate a finalized bar.
	bar := *k
	s.bars = append(s.bars, &bar)
	return nil
}

// Len returns the number of bars.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}

// FirstBar returns the index of the earliest bar.
func (s *Series) FirstBar() int { return 0 }

// LastBar returns the index of the latest bar, -1 when empty.
func (s *Series) LastBar() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars) - 1
}

// CurrentBar returns the cursor position, -1 before the first Seek.
func (s *Series) CurrentBar() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Seek moves the cursor.
func (s *Series) Seek(bar int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bar < 0 || bar >= len(s.bars) {
		return fmt.Errorf("seek to bar %d of %d: %w", bar, len(s.bars), ports.ErrMissingBar)
	}
	s.current = bar
	return nil
}

// Bar returns the bar offset bars before the cursor.
func (s *Series) Bar(offset int) (*domain.Kline, bool) {
	if offset < 0 {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.at(s.current - offset)
}

// At returns the bar at an absolute index.
func (s *Series) At(index int) (*domain.Kline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.at(index)
}

func (s *Series) at(index int) (*domain.Kline, bool) {
	if index < 0 || index >= len(s.bars) {
		return nil, false
	}
	return s.bars[index], true
}

// Klines returns a copy of the bar slice.
func (s *Series) Klines() []*domain.Kline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Kline, len(s.bars))
	copy(out, s.bars)
	return out
}
