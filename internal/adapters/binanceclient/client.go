package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fibors/internal/domain"
	"fibors/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// maxPageLimit is the largest page the futures klines endpoint serves.
	maxPageLimit = 1500
)

// Client implements ports.KlineSource using the go-binance futures client.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	retryDelay    time.Duration
	maxRetries    int
	now           func() time.Time
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
	RetryDelay time.Duration // Wait before retrying a rate-limited page, e.g. 1 * time.Second
	MaxRetries int           // Rate-limit retries per page
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	ctx := context.Background()
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Debug(ctx, "Binance credentials not set, using public endpoints only")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(ctx, "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		retryDelay:    retryDelay,
		maxRetries:    maxRetries,
		now:           time.Now,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"operation": operation}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1007, -1021: // Backend timeout, timestamp outside recvWindow
			mappedErr = ports.ErrTimeout
		case -1001, -1016: // Disconnected, service shutting down
			mappedErr = ports.ErrExchangeUnavailable
		case -1022, -2014, -2015: // Bad signature, malformed or unauthorized API key
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1120, -1121, -1127, -1130: // Parameter errors
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, operation+" failed with API error", fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "no such host"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}
	c.logger.Error(ctx, err, operation+" failed", fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetKlines retrieves the latest limit klines for symbol.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	if limit <= 0 || limit > maxPageLimit {
		return nil, fmt.Errorf("%s: limit %d not in 1..%d: %w", op, limit, maxPageLimit, ports.ErrInvalidRequest)
	}
	page, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return c.translatePage(ctx, page, symbol, interval, op)
}

// GetKlinesRange pages through every kline opening between start and end.
// Rate-limited pages are retried after RetryDelay, up to MaxRetries times.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	if !end.After(start) {
		return nil, fmt.Errorf("%s: end %s not after start %s: %w", op, end, start, ports.ErrInvalidRequest)
	}

	var all []*domain.Kline
	from := start
	for {
		page, err := c.fetchPage(ctx, symbol, interval, from, end)
		if err != nil {
			return nil, err
		}
		klines, err := c.translatePage(ctx, page, symbol, interval, op)
		if err != nil {
			return nil, err
		}
		for _, k := range klines {
			if n := len(all); n > 0 && !k.OpenTime.After(all[n-1].OpenTime) {
				continue
			}
			all = append(all, k)
		}
		if len(page) < maxPageLimit {
			break
		}
		from = time.UnixMilli(page[len(page)-1].CloseTime + 1)
		if from.After(end) {
			break
		}
	}

	c.logger.Info(ctx, "Historical klines fetched", map[string]interface{}{
		"symbol": symbol, "interval": interval, "count": len(all),
	})
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, symbol, interval string, from, end time.Time) ([]*futures.Kline, error) {
	op := "GetKlinesRange"
	for attempt := 0; ; attempt++ {
		page, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxPageLimit).
			Do(ctx)
		if err == nil {
			return page, nil
		}
		mapped := c.handleError(ctx, err, op)
		if !errors.Is(mapped, ports.ErrRateLimited) || attempt >= c.maxRetries {
			return nil, mapped
		}

		c.logger.Warn(ctx, "Rate limited, retrying page", map[string]interface{}{"attempt": attempt + 1, "delay": c.retryDelay.String()})
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%s operation canceled: %w", op, ports.ErrContextCanceled)
		}
	}
}

func (c *Client) translatePage(ctx context.Context, page []*futures.Kline, symbol, interval, op string) ([]*domain.Kline, error) {
	now := c.now()
	out := make([]*domain.Kline, 0, len(page))
	for _, bk := range page {
		dk, err := translateBinanceKline(bk, symbol, interval, now)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		out = append(out, dk)
	}
	return out, nil
}

// translateBinanceKline converts a REST kline. Bars still open at now are
// returned with IsFinal false.
func translateBinanceKline(bk *futures.Kline, symbol, interval string, now time.Time) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	names := [...]string{"open price", "high price", "low price", "close price", "volume"}
	raw := [...]string{bk.Open, bk.High, bk.Low, bk.Close, bk.Volume}
	var v [len(raw)]float64
	for i, r := range raw {
		f, err := strconv.ParseFloat(r, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s '%s': %w", names[i], r, err)
		}
		v[i] = f
	}

	closeTime := time.UnixMilli(bk.CloseTime).UTC()
	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime).UTC(),
		CloseTime: closeTime,
		Symbol:    symbol,
		Interval:  interval,
		Open:      v[0],
		High:      v[1],
		Low:       v[2],
		Close:     v[3],
		Volume:    v[4],
		IsFinal:   closeTime.Before(now),
	}, nil
}

var _ ports.KlineSource = (*Client)(nil)
