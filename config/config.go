package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	defaultSymbols  = []string{"BTCUSDT", "ETHUSDT"}
	defaultTPATR    = [LadderSize]float64{1.5, 2.5, 4, 5.5, 7, 9, 11, 13.5, 16, 19}
	validTimeframes = map[string]bool{
		"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
		"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true, "1d": true,
	}
)

// Load reads an optional .env file and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	tpMults, err := getEnvAsLadder("TP_ATR_MULTS", defaultTPATR)
	if err != nil {
		return nil, err
	}
	splits, err := getEnvAsLadder("TP_SPLITS", equalSplits())
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Exchange: ExchangeConfig{
			APIKey:          os.Getenv("BINANCE_API_KEY"),
			SecretKey:       os.Getenv("BINANCE_SECRET_KEY"),
			BaseURL:         os.Getenv("BINANCE_BASE_URL"),
			MinCallInterval: getEnvAsDuration("MIN_CALL_INTERVAL", 150*time.Millisecond),
			HTTPTimeout:     getEnvAsDuration("HTTP_TIMEOUT", 10*time.Second),
			FetchRetries:    getEnvAsInt("FETCH_RETRIES", 3),
			FetchBackoff:    getEnvAsDuration("FETCH_BACKOFF", 200*time.Millisecond),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", DriverPostgres),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvAsInt("DB_PORT", 5432),
			User:       os.Getenv("DB_USER"),
			Password:   os.Getenv("DB_PASSWORD"),
			DBName:     getEnv("DB_NAME", "fliptradebot"),
			SQLitePath: getEnv("SQLITE_PATH", "fliptradebot.db"),
		},
		Trading: TradingConfig{
			Mode:              getEnv("MODE", ModePaper),
			Symbols:           getSymbols(),
			TopSymbols:        getEnvAsInt("TOP_SYMBOLS", 0),
			TrendTimeframe:    getEnv("TREND_TIMEFRAME", "4h"),
			ATRTimeframe:      getEnv("ATR_TIMEFRAME", "15m"),
			ATRPeriod:         getEnvAsInt("ATR_PERIOD", 14),
			TradeSizeUSD:      getEnvAsFloat("TRADE_SIZE_USD", 10),
			Leverage:          getEnvAsInt("LEVERAGE", 8),
			MaxOpenPositions:  getEnvAsInt("MAX_OPEN_POSITIONS", 8),
			SLATRMultiple:     getEnvAsFloat("SL_ATR_MULT", 2.0),
			SLPercentFallback: getEnvAsFloat("SL_PERCENT_FALLBACK", 0.025),
			TPATRMultiples:    tpMults,
			TPSplits:          splits,
			TrailOffsetPct:    getEnvAsFloat("TRAIL_OFFSET_PCT", 0.01),
			Cooldown:          getEnvAsDuration("COOLDOWN", 60*time.Minute),
			Strategy:          getEnv("STRATEGY", StrategyBase),
			Compounding:       getEnvAsBool("COMPOUNDING", false),
			StartingCapital:   getEnvAsFloat("STARTING_CAPITAL", 1000),
		},
		Scheduler: SchedulerConfig{
			Interval:        getEnvAsDuration("SCAN_INTERVAL", 5*time.Minute),
			Grace:           getEnvAsDuration("SCAN_GRACE", 30*time.Second),
			Parallelism:     getEnvAsInt("SCAN_PARALLELISM", 4),
			SymbolTimeout:   getEnvAsDuration("SYMBOL_TIMEOUT", 60*time.Second),
			HealthMultiple:  getEnvAsInt("HEALTH_MULTIPLE", 3),
			CandleHistory:   getEnvAsInt("CANDLE_HISTORY", 200),
			CandleRetention: getEnvAsInt("CANDLE_RETENTION", 1000),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE", 50),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE", 14),
			Compress:   getEnvAsBool("LOG_COMPRESS", true),
		},
		Status: StatusConfig{
			Addr: getEnv("STATUS_ADDR", ":8080"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration produced by an empty environment.
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			MinCallInterval: 150 * time.Millisecond,
			HTTPTimeout:     10 * time.Second,
			FetchRetries:    3,
			FetchBackoff:    200 * time.Millisecond,
		},
		Database: DatabaseConfig{Driver: DriverSQLite, SQLitePath: "file::memory:"},
		Trading: TradingConfig{
			Mode:              ModePaper,
			Symbols:           append([]string(nil), defaultSymbols...),
			TrendTimeframe:    "4h",
			ATRTimeframe:      "15m",
			ATRPeriod:         14,
			TradeSizeUSD:      10,
			Leverage:          8,
			MaxOpenPositions:  8,
			SLATRMultiple:     2.0,
			SLPercentFallback: 0.025,
			TPATRMultiples:    defaultTPATR,
			TPSplits:          equalSplits(),
			TrailOffsetPct:    0.01,
			Cooldown:          60 * time.Minute,
			Strategy:          StrategyBase,
			StartingCapital:   1000,
		},
		Scheduler: SchedulerConfig{
			Interval:        5 * time.Minute,
			Grace:           30 * time.Second,
			Parallelism:     4,
			SymbolTimeout:   60 * time.Second,
			HealthMultiple:  3,
			CandleHistory:   200,
			CandleRetention: 1000,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	t := c.Trading
	switch t.Mode {
	case ModePaper, ModeLive:
	default:
		return fmt.Errorf("config: unknown MODE %q", t.Mode)
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.Database.Driver)
	}
	switch t.Strategy {
	case StrategyBase, StrategyRSIEMA:
	default:
		return fmt.Errorf("config: unknown STRATEGY %q", t.Strategy)
	}
	if !validTimeframes[t.TrendTimeframe] {
		return fmt.Errorf("config: unsupported TREND_TIMEFRAME %q", t.TrendTimeframe)
	}
	if !validTimeframes[t.ATRTimeframe] {
		return fmt.Errorf("config: unsupported ATR_TIMEFRAME %q", t.ATRTimeframe)
	}
	if len(t.Symbols) == 0 && t.TopSymbols <= 0 {
		return errors.New("config: no symbols configured")
	}
	if t.Leverage < 1 {
		return fmt.Errorf("config: LEVERAGE must be >= 1, got %d", t.Leverage)
	}
	if t.TradeSizeUSD <= 0 {
		return errors.New("config: TRADE_SIZE_USD must be positive")
	}
	if t.ATRPeriod < 1 {
		return errors.New("config: ATR_PERIOD must be >= 1")
	}
	if t.SLATRMultiple <= 0 {
		return errors.New("config: SL_ATR_MULT must be positive")
	}
	if t.TrailOffsetPct < 0 || t.TrailOffsetPct >= 1 {
		return errors.New("config: TRAIL_OFFSET_PCT must be in [0, 1)")
	}
	prev := 0.0
	for i, m := range t.TPATRMultiples {
		if m <= prev {
			return fmt.Errorf("config: TP_ATR_MULTS must be strictly ascending (level %d)", i+1)
		}
		prev = m
	}
	sum := 0.0
	for _, s := range t.TPSplits {
		if s < 0 {
			return errors.New("config: TP_SPLITS must be non-negative")
		}
		sum += s
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("config: TP_SPLITS must sum to 1, got %.4f", sum)
	}
	if c.Scheduler.Interval <= 0 {
		return errors.New("config: SCAN_INTERVAL must be positive")
	}
	if c.Scheduler.Parallelism < 1 {
		return errors.New("config: SCAN_PARALLELISM must be >= 1")
	}
	if c.Scheduler.HealthMultiple < 1 {
		return errors.New("config: HEALTH_MULTIPLE must be >= 1")
	}
	if c.Scheduler.CandleRetention < c.Scheduler.CandleHistory {
		return errors.New("config: CANDLE_RETENTION must be >= CANDLE_HISTORY")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// EnvtoInt converts an env string to int, returning 0 when unparsable.
func EnvtoInt(s string) int {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return i
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if _, err := strconv.Atoi(strings.TrimSpace(v)); err != nil {
		return fallback
	}
	return EnvtoInt(v)
}

func getEnvAsFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvAsBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvAsLadder(key string, fallback [LadderSize]float64) ([LadderSize]float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parts := strings.Split(v, ",")
	if len(parts) != LadderSize {
		return fallback, fmt.Errorf("config: %s needs %d values, got %d", key, LadderSize, len(parts))
	}
	var out [LadderSize]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fallback, fmt.Errorf("config: %s[%d]: %w", key, i, err)
		}
		out[i] = f
	}
	return out, nil
}

func equalSplits() [LadderSize]float64 {
	var out [LadderSize]float64
	for i := range out {
		out[i] = 1.0 / LadderSize
	}
	return out
}

// helper to get symbols
func getSymbols() []string {
	symbols := os.Getenv("TRADING_SYMBOLS")
	if symbols == "" {
		return append([]string(nil), defaultSymbols...)
	}
	var out []string
	for _, s := range strings.Split(symbols, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
