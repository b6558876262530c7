package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"fibors/config"
	"fibors/internal/adapters/logger"
	"fibors/internal/adapters/sqlite"
	"fibors/internal/domain"
	"fibors/internal/ports"
	"fibors/internal/strategy/analytics"
	"fibors/internal/utils"
)

func main() {
	runID := flag.Int64("run", 0, "show details for one run (default: summarize all runs)")
	export := flag.String("export", "", "with -run, write its trades to this CSV")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to open backtest journal: %v", err)
	}
	defer repo.Close()

	if *runID != 0 {
		if err := reportRun(ctx, os.Stdout, repo, *runID, cfg.InitialFunds, *export); err != nil {
			log.Fatalf("Error analyzing run %d: %v", *runID, err)
		}
		return
	}
	if err := reportRuns(ctx, os.Stdout, repo, cfg.InitialFunds); err != nil {
		log.Fatalf("Error analyzing runs: %v", err)
	}
}

// reportRuns prints one summary row per journaled run.
func reportRuns(ctx context.Context, out io.Writer, journal ports.OrderJournal, initialFunds float64) error {
	runs, err := journal.FindRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No backtest runs found. Run the backtest runner first.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Run\tSymbol\tParameters\tTrades\tLong\tShort\tWinRate\tTotalPnL\tPF\tMaxDD\t")
	for _, run := range runs {
		trades, err := journal.FindTradesByRun(ctx, run.ID)
		if err != nil {
			return err
		}
		m := analytics.AnalyzePerformance(trades, initialFunds)
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%.2f\t%.4f\t%.2f\t%.2f\t\n",
			run.ID, run.Symbol, run.Params, m.TotalTrades, m.Long.Trades, m.Short.Trades,
			m.WinRate*100, m.TotalProfit, m.ProfitFactor, m.MaxDrawdown*100)
	}
	return w.Flush()
}

// reportRun prints the orders, close reasons and monthly returns of one run.
func reportRun(ctx context.Context, out io.Writer, journal ports.OrderJournal, runID int64, initialFunds float64, export string) error {
	orders, err := journal.FindOrdersByRun(ctx, runID)
	if err != nil {
		return err
	}
	trades, err := journal.FindTradesByRun(ctx, runID)
	if err != nil {
		return err
	}
	if len(orders) == 0 && len(trades) == 0 {
		return fmt.Errorf("run %d has no orders: %w", runID, ports.ErrNotFound)
	}
	m := analytics.AnalyzePerformance(trades, initialFunds)

	fmt.Fprintf(out, "## Run %d: %d orders, %d trades\n\n", runID, len(orders), len(trades))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, o := range orders {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", o.Bar, o.Time.Format("2006-01-02 15:04"), o.Action, o.Reason)
	}
	w.Flush()

	fmt.Fprintln(out, "\n## Close Reasons")
	counts := make(map[domain.CloseReason]int)
	pnl := make(map[domain.CloseReason]float64)
	for _, t := range trades {
		counts[t.CloseReason]++
		pnl[t.CloseReason] += t.PNL
	}
	reasons := make([]domain.CloseReason, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Reason\tCount\tTotal PnL\tAvg PnL")
	for _, r := range reasons {
		fmt.Fprintf(w, "%s\t%d\t%.4f\t%.4f\n", r, counts[r], pnl[r], pnl[r]/float64(counts[r]))
	}
	w.Flush()

	fmt.Fprintln(out, "\n## Sides")
	fmt.Fprintf(out, "Long: %d trades, win rate %.2f%%, PnL %.4f\n", m.Long.Trades, m.Long.WinRate()*100, m.Long.Profit)
	fmt.Fprintf(out, "Short: %d trades, win rate %.2f%%, PnL %.4f\n", m.Short.Trades, m.Short.WinRate()*100, m.Short.Profit)

	if monthly := m.GetMonthlyReturns(); len(monthly) > 0 {
		fmt.Fprintln(out, "\n## Monthly Returns")
		for _, mr := range monthly {
			fmt.Fprintf(out, "%s\t%.4f\n", mr.Month.Format("2006-01"), mr.Return)
		}
	}

	if export != "" {
		if err := utils.WriteTradesToCSV(trades, export); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nTrades saved to %s\n", export)
	}
	return nil
}
