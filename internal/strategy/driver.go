package strategy

import (
	"context"
	"fmt"

	"fibors/internal/ports"
)

// Run evaluates bars max(FirstBar, startBar)..endBar in order, once each.
//
// Termination (a cancelled ctx, Terminate or the WithTerminator flag) is
// polled before every bar and ends the run without error. Ranges must
// continue exactly where the previous Run on this instance stopped.
func (s *Strategy) Run(ctx context.Context, startBar, endBar int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := max(s.market.FirstBar(), startBar)
	if i > endBar {
		return nil
	}
	if last := s.market.LastBar(); endBar > last {
		return fmt.Errorf("end bar %d beyond last bar %d: %w", endBar, last, ports.ErrMissingBar)
	}
	if s.started {
		if i <= s.lastBar {
			return fmt.Errorf("start bar %d already processed (last %d): %w", i, s.lastBar, ports.ErrOutOfOrderBar)
		}
		if i > s.lastBar+1 {
			return fmt.Errorf("start bar %d skips bars after %d: %w", i, s.lastBar, ports.ErrOutOfOrderBar)
		}
	}

	for ; i <= endBar; i++ {
		if s.shouldTerminate(ctx) {
			s.logger.Info(ctx, "Bar range terminated early", map[string]interface{}{"nextBar": i, "endBar": endBar})
			return nil
		}
		if err := s.market.Seek(i); err != nil {
			return err
		}
		if err := s.onBar(ctx); err != nil {
			return err
		}
		s.lastBar = i
		s.started = true
	}
	return nil
}

// Terminate asks a running or future Run to stop before its next bar.
func (s *Strategy) Terminate() {
	s.terminated.Store(true)
}

func (s *Strategy) shouldTerminate(ctx context.Context) bool {
	if s.terminated.Load() || ctx.Err() != nil {
		return true
	}
	return s.terminator != nil && s.terminator()
}
