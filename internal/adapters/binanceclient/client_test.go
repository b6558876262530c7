package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fibors/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	errorCount int
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorCount++
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	c, err := New(Config{Logger: &mockLogger{}, UseTestnet: true, MaxRetries: -3})
	require.NoError(t, err)
	assert.Equal(t, baseURLTestnet, c.futuresClient.BaseURL)
	assert.Equal(t, time.Second, c.retryDelay)
	assert.Equal(t, 0, c.maxRetries)

	c, err = New(Config{Logger: &mockLogger{}})
	require.NoError(t, err)
	assert.Equal(t, baseURLProduction, c.futuresClient.BaseURL)
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "rate limited", err: &common.APIError{Code: -1003, Message: "Too many requests"}, want: ports.ErrRateLimited},
		{name: "recv window", err: &common.APIError{Code: -1021}, want: ports.ErrTimeout},
		{name: "bad signature", err: &common.APIError{Code: -1022}, want: ports.ErrAuthenticationFailed},
		{name: "bad api key", err: &common.APIError{Code: -2015}, want: ports.ErrAuthenticationFailed},
		{name: "bad interval", err: &common.APIError{Code: -1120}, want: ports.ErrInvalidRequest},
		{name: "disconnected", err: &common.APIError{Code: -1001}, want: ports.ErrExchangeUnavailable},
		{name: "unmapped code", err: &common.APIError{Code: -9999}, want: ports.ErrUnknown},
		{name: "wrapped api error", err: fmt.Errorf("page: %w", &common.APIError{Code: -1003}), want: ports.ErrRateLimited},
		{name: "deadline", err: context.DeadlineExceeded, want: ports.ErrTimeout},
		{name: "canceled", err: context.Canceled, want: ports.ErrContextCanceled},
		{name: "refused", err: errors.New("dial tcp: connection refused"), want: ports.ErrConnectionFailed},
		{name: "other", err: errors.New("boom"), want: ports.ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &mockLogger{}
			c := &Client{logger: logger}
			got := c.handleError(context.Background(), tt.err, "GetKlines")
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err, "original error kept in chain")
			assert.Contains(t, got.Error(), "GetKlines")
			assert.Equal(t, 1, logger.errorCount)
		})
	}

	assert.NoError(t, (&Client{logger: &mockLogger{}}).handleError(context.Background(), nil, "noop"))
}

func TestTranslateBinanceKline(t *testing.T) {
	open := time.Date(2025, 2, 7, 10, 0, 0, 0, time.UTC)
	bk := &futures.Kline{
		OpenTime:  open.UnixMilli(),
		Open:      "2700.5",
		High:      "2710",
		Low:       "2695.25",
		Close:     "2705",
		Volume:    "1234.5",
		CloseTime: open.Add(time.Minute - time.Millisecond).UnixMilli(),
	}

	k, err := translateBinanceKline(bk, "ETHUSDT", "1m", open.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, open.Equal(k.OpenTime))
	assert.Equal(t, "ETHUSDT", k.Symbol)
	assert.Equal(t, "1m", k.Interval)
	assert.Equal(t, 2700.5, k.Open)
	assert.Equal(t, 2710.0, k.High)
	assert.Equal(t, 2695.25, k.Low)
	assert.Equal(t, 2705.0, k.Close)
	assert.Equal(t, 1234.5, k.Volume)
	assert.True(t, k.IsFinal)

	k, err = translateBinanceKline(bk, "ETHUSDT", "1m", open.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, k.IsFinal, "bar still open")

	bad := *bk
	bad.Low = "n/a"
	_, err = translateBinanceKline(&bad, "ETHUSDT", "1m", open)
	assert.ErrorContains(t, err, "low price")

	_, err = translateBinanceKline(nil, "ETHUSDT", "1m", open)
	assert.Error(t, err)
}

func TestGetKlinesRange_Validation(t *testing.T) {
	c, err := New(Config{Logger: &mockLogger{}})
	require.NoError(t, err)
	now := time.Now()

	_, err = c.GetKlinesRange(context.Background(), "ETHUSDT", "1m", now, now.Add(-time.Hour))
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, err = c.GetKlines(context.Background(), "ETHUSDT", "1m", 0)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}
