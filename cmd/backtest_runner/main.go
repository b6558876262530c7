package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"text/tabwriter"

	"fibors/config"
	"fibors/internal/adapters/logger"
	"fibors/internal/adapters/metrics"
	"fibors/internal/adapters/sqlite"
	"fibors/internal/domain"
	"fibors/internal/ports"
	"fibors/internal/strategy/backtesting"
	"fibors/internal/strategy/optimization"
	"fibors/internal/utils"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	csvPath := flag.String("csv", "", "klines CSV to replay (default KLINES_CSV)")
	optimize := flag.Bool("optimize", false, "sweep the parameter grid instead of a single backtest")
	top := flag.Int("top", 10, "optimization results to print")
	workers := flag.Int("workers", 0, "concurrent backtests when optimizing (default NumCPU)")
	export := flag.String("export", "", "write the backtest's trades to this CSV")
	closeAtEnd := flag.Bool("close-at-end", false, "close a position still open after the last bar")
	noJournal := flag.Bool("no-journal", false, "do not record the run in DB_PATH")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address while running, e.g. :9090")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// 2. Load klines
	path := cfg.KlinesCSV
	if *csvPath != "" {
		path = *csvPath
	}
	klines, err := utils.ReadKlinesFromCSV(path)
	if err != nil {
		appLogger.Error(ctx, err, "Error loading klines", map[string]interface{}{"file": path})
		log.Fatalf("Error loading klines: %v", err)
	}
	klines = finalOnly(klines)
	appLogger.Info(ctx, "Loaded klines", map[string]interface{}{"file": path, "count": len(klines)})

	var observer backtesting.Observer
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		observer = metrics.New(reg)
		go func() {
			if err := metrics.Serve(ctx, *metricsAddr, reg, appLogger); err != nil {
				appLogger.Error(ctx, err, "Metrics server stopped")
			}
		}()
	}

	// 3. Optimize or backtest
	if *optimize {
		runOptimization(ctx, cfg, appLogger, klines, observer, *workers, *top)
		return
	}

	result, err := backtesting.Run(ctx, appLogger, klines, backtesting.BacktestConfig{
		Strategy:     cfg.StrategyConfig(),
		InitialFunds: cfg.InitialFunds,
		CloseAtEnd:   *closeAtEnd,
		Observer:     observer,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Backtest error")
		log.Fatalf("Backtest error: %v", err)
	}
	printSummary(result)

	if *export != "" {
		if err := utils.WriteTradesToCSV(result.Trades, *export); err != nil {
			appLogger.Error(ctx, err, "Error writing trades CSV")
		} else {
			appLogger.Info(ctx, "Trades saved", map[string]interface{}{"filename": *export})
		}
	}

	// 4. Journal the run
	if *noJournal {
		return
	}
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize backtest journal: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing backtest journal")
		}
	}()

	runID, err := saveRun(ctx, repo, result)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to journal backtest run")
		return
	}
	appLogger.Info(ctx, "Backtest run journaled", map[string]interface{}{"runID": runID, "db": cfg.DBPath})
}

func finalOnly(klines []*domain.Kline) []*domain.Kline {
	out := klines[:0]
	for _, k := range klines {
		if k.IsFinal {
			out = append(out, k)
		}
	}
	return out
}

func saveRun(ctx context.Context, journal ports.OrderJournal, result *backtesting.BacktestResult) (int64, error) {
	params := result.Config.Strategy
	runID, err := journal.CreateRun(ctx, params.Symbol, optimization.Label(params))
	if err != nil {
		return 0, err
	}
	for _, o := range result.Orders {
		if _, err := journal.RecordOrder(ctx, runID, o); err != nil {
			return runID, err
		}
	}
	for _, t := range result.Trades {
		if _, err := journal.RecordTrade(ctx, runID, t); err != nil {
			return runID, err
		}
	}
	return runID, nil
}

func printSummary(result *backtesting.BacktestResult) {
	m := result.Metrics
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Parameters\t%s\n", optimization.Label(result.Config.Strategy))
	fmt.Fprintf(w, "Bars\t%d\n", result.Bars)
	fmt.Fprintf(w, "Orders\t%d\n", len(result.Orders))
	fmt.Fprintf(w, "Trades\t%d (long %d, short %d)\n", m.TotalTrades, m.Long.Trades, m.Short.Trades)
	fmt.Fprintf(w, "Win rate\t%.2f%%\n", m.WinRate*100)
	fmt.Fprintf(w, "Total PnL\t%.4f\n", m.TotalProfit)
	fmt.Fprintf(w, "Profit factor\t%.2f\n", m.ProfitFactor)
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(w, "Expectancy\t%.4f\n", m.Expectancy)
	fmt.Fprintf(w, "Sharpe\t%.3f\n", m.SharpeRatio)
	fmt.Fprintf(w, "Avg duration\t%s\n", m.AverageTradeDuration)
	fmt.Fprintf(w, "Final balance\t%.2f\n", m.FinalBalance)
	if result.OpenSide != domain.SideFlat {
		fmt.Fprintf(w, "Open position\t%s\n", result.OpenSide)
	}
	w.Flush()
}

func runOptimization(ctx context.Context, cfg *config.Config, appLogger *logger.StdLogger, klines []*domain.Kline, observer backtesting.Observer, workers, top int) {
	grid := optimization.DefaultGrid()
	if cfg.HasOptimizationGrid {
		grid = cfg.OptimizationGrid
	}
	opt := optimization.NewOptimizer(optimization.OptimizerConfig{
		Base:         cfg.StrategyConfig(),
		Grid:         grid,
		InitialFunds: cfg.InitialFunds,
		Workers:      workers,
		Observer:     observer,
	}, appLogger)

	results, err := opt.Optimize(ctx, klines)
	if err != nil {
		appLogger.Error(ctx, err, "Optimization failed")
		log.Fatalf("Optimization failed: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Rank\tParameters\tTrades\tWinRate\tPnL\tPF\tMaxDD\t")
	for i, r := range results {
		if i >= top {
			break
		}
		m := r.Metrics
		fmt.Fprintf(w, "%d\t%s\t%d\t%.2f\t%.4f\t%.2f\t%.2f\t\n",
			i+1, r.Label(), m.TotalTrades, m.WinRate*100, m.TotalProfit, m.ProfitFactor, m.MaxDrawdown*100)
	}
	w.Flush()
}
