package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"fibors/config"
	"fibors/internal/adapters/binanceclient"
	"fibors/internal/adapters/logger"
	"fibors/internal/domain"
	"fibors/internal/ports"
	"fibors/internal/utils"

	"github.com/robfig/cron/v3"
)

// fetchJob downloads a trailing window of klines into a CSV file.
type fetchJob struct {
	source   ports.KlineSource
	logger   ports.Logger
	symbol   string
	interval string
	days     int
	filename string
	now      func() time.Time
}

func main() {
	days := flag.Int("days", 90, "days of history to fetch")
	out := flag.String("out", "", "output CSV (default KLINES_CSV)")
	schedule := flag.String("schedule", "", "cron spec with seconds to refresh the CSV periodically, e.g. \"0 5 * * * *\"")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// 3. Initialize Exchange Client (Binance Adapter)
	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
		RetryDelay: cfg.ReconnectDelay,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	if err := client.Ping(ctx); err != nil {
		log.Fatalf("FATAL: Binance unreachable: %v", err)
	}

	job := &fetchJob{
		source:   client,
		logger:   appLogger,
		symbol:   cfg.Symbol,
		interval: cfg.Interval,
		days:     *days,
		filename: *out,
		now:      time.Now,
	}
	if job.filename == "" {
		job.filename = cfg.KlinesCSV
	}

	// 4. Fetch once, or keep refreshing on a schedule
	if _, err := job.run(ctx); err != nil {
		log.Fatalf("Error fetching klines: %v", err)
	}
	if *schedule == "" {
		return
	}

	c, err := newScheduler(ctx, *schedule, job)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	c.Start()
	appLogger.Info(ctx, "Scheduler started", map[string]interface{}{"schedule": *schedule})
	<-ctx.Done()
	<-c.Stop().Done()
	appLogger.Info(context.Background(), "Scheduler stopped")
}

// newScheduler registers job under spec. Failed runs are logged and retried on the next tick.
func newScheduler(ctx context.Context, spec string, job *fetchJob) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(spec, func() {
		if _, err := job.run(ctx); err != nil {
			job.logger.Error(ctx, err, "Scheduled fetch failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("register fetch schedule %q: %w", spec, err)
	}
	return c, nil
}

// run fetches the window ending now and rewrites the CSV with its final klines.
func (j *fetchJob) run(ctx context.Context) (int, error) {
	end := j.now().UTC()
	start := end.AddDate(0, 0, -j.days)
	j.logger.Info(ctx, "Fetching klines", map[string]interface{}{
		"symbol":   j.symbol,
		"interval": j.interval,
		"start":    start.Format(time.RFC3339),
		"end":      end.Format(time.RFC3339),
	})

	klines, err := j.source.GetKlinesRange(ctx, j.symbol, j.interval, start, end)
	if err != nil {
		return 0, err
	}
	final := make([]*domain.Kline, 0, len(klines))
	for _, k := range klines {
		if k.IsFinal {
			final = append(final, k)
		}
	}

	if err := os.MkdirAll(filepath.Dir(j.filename), 0755); err != nil {
		return 0, fmt.Errorf("creating output directory: %w", err)
	}
	if err := utils.WriteKlinesToCSV(final, j.filename); err != nil {
		return 0, err
	}
	j.logger.Info(ctx, "Saved klines", map[string]interface{}{"filename": j.filename, "count": len(final), "dropped": len(klines) - len(final)})
	return len(final), nil
}
