package config

import "time"

const LadderSize = 10

type Config struct {
	Exchange  ExchangeConfig
	Database  DatabaseConfig
	Trading   TradingConfig
	Scheduler SchedulerConfig
	Logging   LoggingConfig
	Status    StatusConfig
}

type ExchangeConfig struct {
	APIKey          string
	SecretKey       string
	BaseURL         string
	MinCallInterval time.Duration // process-wide spacing between exchange calls
	HTTPTimeout     time.Duration
	FetchRetries    int
	FetchBackoff    time.Duration
}

type DatabaseConfig struct {
	Driver     string // postgres or sqlite
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SQLitePath string
}

type TradingConfig struct {
	Mode              string
	Symbols           []string
	TopSymbols        int
	TrendTimeframe    string
	ATRTimeframe      string
	ATRPeriod         int
	TradeSizeUSD      float64
	Leverage          int
	MaxOpenPositions  int
	SLATRMultiple     float64
	SLPercentFallback float64
	TPATRMultiples    [LadderSize]float64
	TPSplits          [LadderSize]float64
	TrailOffsetPct    float64
	Cooldown          time.Duration
	Strategy          string
	Compounding       bool
	StartingCapital   float64
}

type SchedulerConfig struct {
	Interval        time.Duration
	Grace           time.Duration
	Parallelism     int
	SymbolTimeout   time.Duration
	HealthMultiple  int
	CandleHistory   int
	CandleRetention int
}

type LoggingConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type StatusConfig struct {
	Addr string
}

const (
	ModePaper = "paper"
	ModeLive  = "live"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	StrategyBase   = "base"
	StrategyRSIEMA = "rsi_ema"
)

// IsLive reports whether orders go to the exchange.
func (c TradingConfig) IsLive() bool {
	return c.Mode == ModeLive
}
