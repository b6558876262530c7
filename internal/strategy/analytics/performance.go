// Package analytics derives performance figures from closed round trips.
package analytics

import (
	"math"
	"sort"
	"time"

	"fibors/internal/domain"
)

// PerformanceMetrics holds the performance of one strategy run.
type PerformanceMetrics struct {
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int // PNL <= 0
	WinRate            float64
	TotalProfit        float64
	GrossProfit        float64
	GrossLoss          float64 // Positive sum of losing PNL
	MaxDrawdown        float64 // Fraction of the running peak balance
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64 // Negative or zero
	SharpeRatio        float64 // Per-trade, risk-free rate 0
	FinalBalance       float64
	ReturnOnInvestment float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	RecoveryFactor       float64
	Expectancy           float64
	RiskRewardRatio      float64

	Long  SideStats
	Short SideStats

	MonthlyReturns map[string]float64
	Drawdowns      []Drawdown
	EquityCurve    []EquityPoint
}

// SideStats splits results by position side.
type SideStats struct {
	Trades  int
	Winning int
	Profit  float64
}

// WinRate returns the fraction of winning trades on this side.
func (s SideStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Winning) / float64(s.Trades)
}

// Drawdown is one peak-to-recovery period of the equity curve.
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64
	Duration   time.Duration
	Recovered  bool
}

// EquityPoint is the balance after a trade closed.
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance computes metrics from trades starting at initialBalance.
// trades is not modified; it is evaluated in exit order.
func AnalyzePerformance(trades []*domain.Trade, initialBalance float64) *PerformanceMetrics {
	m := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		MonthlyReturns: make(map[string]float64),
		Drawdowns:      make([]Drawdown, 0),
		EquityCurve:    make([]EquityPoint, 0, len(trades)),
	}
	if len(trades) == 0 {
		return m
	}

	ordered := make([]*domain.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})

	balance, peak := initialBalance, initialBalance
	var open *Drawdown
	var wins, losses int
	var totalDuration time.Duration
	returns := make([]float64, 0, len(ordered))

	for _, t := range ordered {
		m.TotalTrades++
		totalDuration += t.Duration()
		side := &m.Long
		if t.Side == domain.SideShort {
			side = &m.Short
		}
		side.Trades++
		side.Profit += t.PNL

		if t.PNL > 0 {
			m.WinningTrades++
			side.Winning++
			m.GrossProfit += t.PNL
			wins++
			losses = 0
		} else {
			m.LosingTrades++
			m.GrossLoss -= t.PNL
			losses++
			wins = 0
		}
		m.MaxConsecutiveWins = max(m.MaxConsecutiveWins, wins)
		m.MaxConsecutiveLosses = max(m.MaxConsecutiveLosses, losses)

		if balance != 0 {
			returns = append(returns, t.PNL/balance)
		}
		balance += t.PNL
		m.TotalProfit += t.PNL
		m.MonthlyReturns[t.ExitTime.Format("2006-01")] += t.PNL

		if balance >= peak {
			peak = balance
			if open != nil {
				open.EndTime, open.EndValue, open.Recovered = t.ExitTime, balance, true
				open.Duration = open.EndTime.Sub(open.StartTime)
				m.Drawdowns = append(m.Drawdowns, *open)
				open = nil
			}
		} else {
			depth := (peak - balance) / peak
			if open == nil {
				open = &Drawdown{StartTime: t.ExitTime, StartValue: peak}
			}
			open.Depth = math.Max(open.Depth, depth)
			m.MaxDrawdown = math.Max(m.MaxDrawdown, depth)
		}

		point := EquityPoint{Time: t.ExitTime, Value: balance}
		if peak > 0 {
			point.Drawdown = (peak - balance) / peak
		}
		m.EquityCurve = append(m.EquityCurve, point)
	}

	if open != nil {
		open.EndTime, open.EndValue = ordered[len(ordered)-1].ExitTime, balance
		open.Duration = open.EndTime.Sub(open.StartTime)
		m.Drawdowns = append(m.Drawdowns, *open)
	}

	m.FinalBalance = balance
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	m.AverageTradeDuration = totalDuration / time.Duration(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AverageWin = m.GrossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = -m.GrossLoss / float64(m.LosingTrades)
	}
	if m.GrossLoss > 0 {
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	}
	if m.AverageLoss != 0 {
		m.RiskRewardRatio = m.AverageWin / -m.AverageLoss
	}
	if initialBalance != 0 {
		m.ReturnOnInvestment = (balance - initialBalance) / initialBalance
		if m.MaxDrawdown > 0 {
			m.RecoveryFactor = m.TotalProfit / (initialBalance * m.MaxDrawdown)
		}
	}
	m.Expectancy = m.WinRate*m.AverageWin + (1-m.WinRate)*m.AverageLoss
	m.SharpeRatio = SharpeRatio(returns)

	return m
}

// SharpeRatio returns mean/stddev of returns using the sample deviation.
// Fewer than two returns or zero deviation yields 0.
func SharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}

// MonthlyReturn is the profit booked in one calendar month.
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}

// GetMonthlyReturns returns MonthlyReturns in chronological order.
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	out := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, err := time.Parse("2006-01", month)
		if err != nil {
			continue
		}
		out = append(out, MonthlyReturn{Month: date, Return: profit})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Month.Before(out[j].Month)
	})
	return out
}
