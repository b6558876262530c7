// Package config loads runtime configuration from the environment, an
// optional .env file and an optional YAML parameters file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fibors/internal/adapters/logger"
	"fibors/internal/ports"
	"fibors/internal/strategy"
	"fibors/internal/strategy/optimization"
)

// Config holds all application configuration.
type Config struct {
	// Binance API, only needed for fetching klines
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Market
	Symbol   string
	Interval string

	// Strategy Parameters
	Quantity            float64
	StopLossPercent     float64 // e.g. 2 for 2%
	RSILength           int
	RSIOversold         int
	RSIOverbought       int
	FiboLength          int
	FiboMultiplier      float64
	FiboLevel           int // 1..4 -> 382, 500, 618, 764
	InitialFunds        float64
	OptimizationGrid    optimization.ParameterGrid
	HasOptimizationGrid bool

	// Storage
	DBPath     string
	KlinesCSV  string
	ParamsFile string

	// Logging
	LogLevel logger.LogLevel

	// Connection Settings
	ReconnectDelay time.Duration
	MaxRetries     int
}

// LoadConfig loads configuration from environment variables, after loading
// envFiles (default ".env") if present. PARAMS_FILE values override the
// environment. All problems are reported together.
func LoadConfig(envFiles ...string) (*Config, error) {
	// Missing .env files are fine, plain env vars suffice.
	_ = godotenv.Load(envFiles...)

	cfg := &Config{}
	var err error
	var errs []string

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)

	cfg.Symbol = getEnv("SYMBOL", "ETHUSDT")
	cfg.Interval = getEnv("INTERVAL", "1m")

	defaults := strategy.DefaultConfig()
	if cfg.Quantity, err = getEnvAsFloatRequired("QUANTITY", defaults.Quantity); err != nil {
		errs = append(errs, fmt.Sprintf("invalid QUANTITY: %v", err))
	}
	if cfg.StopLossPercent, err = getEnvAsFloatRequired("STOP_LOSS_PERCENT", defaults.StopLossPercent); err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PERCENT: %v", err))
	}
	if cfg.RSILength, err = getEnvAsIntRequired("RSI_LENGTH", defaults.OscillatorLength); err != nil {
		errs = append(errs, fmt.Sprintf("invalid RSI_LENGTH: %v", err))
	}
	if cfg.RSIOversold, err = getEnvAsIntRequired("RSI_OVERSOLD", defaults.OversoldThreshold); err != nil {
		errs = append(errs, fmt.Sprintf("invalid RSI_OVERSOLD: %v", err))
	}
	if cfg.RSIOverbought, err = getEnvAsIntRequired("RSI_OVERBOUGHT", defaults.OverboughtThreshold); err != nil {
		errs = append(errs, fmt.Sprintf("invalid RSI_OVERBOUGHT: %v", err))
	}
	if cfg.FiboLength, err = getEnvAsIntRequired("FIBO_LENGTH", defaults.RangeLookbackLength); err != nil {
		errs = append(errs, fmt.Sprintf("invalid FIBO_LENGTH: %v", err))
	}
	if cfg.FiboMultiplier, err = getEnvAsFloatRequired("FIBO_MULTIPLIER", defaults.RangeMultiplier); err != nil {
		errs = append(errs, fmt.Sprintf("invalid FIBO_MULTIPLIER: %v", err))
	}
	if cfg.FiboLevel, err = getEnvAsIntRequired("FIBO_LEVEL", defaults.LevelIndex); err != nil {
		errs = append(errs, fmt.Sprintf("invalid FIBO_LEVEL: %v", err))
	}
	if cfg.InitialFunds, err = getEnvAsFloatRequired("INITIAL_FUNDS", 10000); err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_FUNDS: %v", err))
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/backtests.db")
	cfg.KlinesCSV = getEnv("KLINES_CSV", "./data/klines.csv")
	cfg.ParamsFile = getEnv("PARAMS_FILE", "")
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	reconnectDelaySeconds, err := getEnvAsIntRequired("RECONNECT_DELAY_SECONDS", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RECONNECT_DELAY_SECONDS: %v", err))
	} else if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second
	if cfg.MaxRetries, err = getEnvAsIntRequired("MAX_RETRIES", 3); err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_RETRIES: %v", err))
	} else if cfg.MaxRetries < 0 {
		errs = append(errs, "MAX_RETRIES cannot be negative")
	}

	if cfg.ParamsFile != "" {
		params, err := LoadParamsFile(cfg.ParamsFile)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			params.apply(cfg)
		}
	}

	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}
	if cfg.InitialFunds <= 0 {
		errs = append(errs, "INITIAL_FUNDS must be positive")
	}
	if err := cfg.StrategyConfig().Validate(); err != nil {
		errs = append(errs, strings.TrimPrefix(err.Error(), ports.ErrConfigurationError.Error()+": "))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s: %w", strings.Join(errs, "; "), ports.ErrConfigurationError)
	}
	return cfg, nil
}

// StrategyConfig maps the loaded parameters onto the strategy.
func (c *Config) StrategyConfig() strategy.Config {
	return strategy.Config{
		Symbol:              c.Symbol,
		Quantity:            c.Quantity,
		StopLossPercent:     c.StopLossPercent,
		OscillatorLength:    c.RSILength,
		OversoldThreshold:   c.RSIOversold,
		OverboughtThreshold: c.RSIOverbought,
		RangeLookbackLength: c.FiboLength,
		RangeMultiplier:     c.FiboMultiplier,
		LevelIndex:          c.FiboLevel,
	}
}

// Params is the YAML parameters file. Unset fields keep the environment value.
type Params struct {
	Symbol       *string                     `yaml:"symbol"`
	Interval     *string                     `yaml:"interval"`
	InitialFunds *float64                    `yaml:"initial_funds"`
	Strategy     StrategyParams              `yaml:"strategy"`
	Optimize     *optimization.ParameterGrid `yaml:"optimize"`
}

// StrategyParams overrides individual strategy parameters.
type StrategyParams struct {
	Quantity        *float64 `yaml:"quantity"`
	StopLossPercent *float64 `yaml:"stop_loss_percent"`
	RSILength       *int     `yaml:"rsi_length"`
	RSIOversold     *int     `yaml:"rsi_oversold"`
	RSIOverbought   *int     `yaml:"rsi_overbought"`
	FiboLength      *int     `yaml:"fibo_length"`
	FiboMultiplier  *float64 `yaml:"fibo_multiplier"`
	FiboLevel       *int     `yaml:"fibo_level"`
}

// LoadParamsFile decodes a parameters file, rejecting unknown keys.
func LoadParamsFile(path string) (*Params, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening params file '%s': %w", path, err)
	}
	defer file.Close()

	var p Params
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing params file '%s': %w", path, err)
	}
	return &p, nil
}

func (p *Params) apply(cfg *Config) {
	setIf(&cfg.Symbol, p.Symbol)
	setIf(&cfg.Interval, p.Interval)
	setIf(&cfg.InitialFunds, p.InitialFunds)

	s := p.Strategy
	setIf(&cfg.Quantity, s.Quantity)
	setIf(&cfg.StopLossPercent, s.StopLossPercent)
	setIf(&cfg.RSILength, s.RSILength)
	setIf(&cfg.RSIOversold, s.RSIOversold)
	setIf(&cfg.RSIOverbought, s.RSIOverbought)
	setIf(&cfg.FiboLength, s.FiboLength)
	setIf(&cfg.FiboMultiplier, s.FiboMultiplier)
	setIf(&cfg.FiboLevel, s.FiboLevel)

	if p.Optimize != nil {
		cfg.OptimizationGrid = *p.Optimize
		cfg.HasOptimizationGrid = true
	}
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
