// Package utils holds CSV import and export of klines and trades.
package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"fibors/internal/domain"
	"fibors/internal/ports"
)

var klineHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

// requiredKlineColumns must be present in an imported header.
var requiredKlineColumns = []string{"open_time", "open", "high", "low", "close"}

// WriteKlinesToCSV writes klines to filename, replacing it.
func WriteKlinesToCSV(klines []*domain.Kline, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteKlines(file, klines); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteKlines writes klines with a header row.
func WriteKlines(w io.Writer, klines []*domain.Kline) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(klineHeader); err != nil {
		return err
	}
	for _, k := range klines {
		err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339),
			k.CloseTime.UTC().Format(time.RFC3339Nano),
			k.Symbol,
			k.Interval,
			formatFloat(k.Open),
			formatFloat(k.High),
			formatFloat(k.Low),
			formatFloat(k.Close),
			formatFloat(k.Volume),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadKlinesFromCSV reads klines written by WriteKlinesToCSV.
func ReadKlinesFromCSV(filename string) ([]*domain.Kline, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	klines, err := ReadKlines(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return klines, nil
}

// ReadKlines parses klines by header name. Times are RFC 3339 or Unix
// milliseconds; missing optional columns are left zero. Imported bars are final.
func ReadKlines(r io.Reader) ([]*domain.Kline, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty kline file: %w", ports.ErrInvalidRequest)
		}
		return nil, err
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredKlineColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q: %w", name, ports.ErrInvalidRequest)
		}
	}

	var klines []*domain.Kline
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		k, err := parseKline(record, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v: %w", line, err, ports.ErrInvalidRequest)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKline(record []string, cols map[string]int) (*domain.Kline, error) {
	field := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[i]), true
	}

	k := &domain.Kline{IsFinal: true}
	var err error
	raw, _ := field("open_time")
	if k.OpenTime, err = parseTime(raw); err != nil {
		return nil, fmt.Errorf("open_time: %v", err)
	}
	if raw, ok := field("close_time"); ok && raw != "" {
		if k.CloseTime, err = parseTime(raw); err != nil {
			return nil, fmt.Errorf("close_time: %v", err)
		}
	}
	k.Symbol, _ = field("symbol")
	k.Interval, _ = field("interval")

	prices := []struct {
		name     string
		dst      *float64
		optional bool
	}{
		{"open", &k.Open, false},
		{"high", &k.High, false},
		{"low", &k.Low, false},
		{"close", &k.Close, false},
		{"volume", &k.Volume, true},
	}
	for _, p := range prices {
		raw, ok := field(p.name)
		if (!ok || raw == "") && p.optional {
			continue
		}
		if *p.dst, err = strconv.ParseFloat(raw, 64); err != nil {
			return nil, fmt.Errorf("%s: %v", p.name, err)
		}
	}
	if k.High < k.Low {
		return nil, fmt.Errorf("high %g below low %g", k.High, k.Low)
	}
	return k, nil
}

func parseTime(raw string) (time.Time, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

var tradeHeader = []string{
	"run_id", "symbol", "side", "entry_bar", "exit_bar", "entry_time", "exit_time",
	"entry_price", "exit_price", "stop_price", "quantity", "pnl", "close_reason",
}

// WriteTradesToCSV writes round trips to filename, replacing it.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteTrades(file, trades); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteTrades writes round trips with a header row.
func WriteTrades(w io.Writer, trades []*domain.Trade) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		err := writer.Write([]string{
			strconv.FormatInt(t.RunID, 10),
			t.Symbol,
			string(t.Side),
			strconv.Itoa(t.EntryBar),
			strconv.Itoa(t.ExitBar),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.StopPrice),
			formatFloat(t.Quantity),
			formatFloat(t.PNL),
			string(t.CloseReason),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
