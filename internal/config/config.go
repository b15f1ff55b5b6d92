// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for databases and checkpoints, always absolute
	LogLevel  string
	LogPretty bool
	Port      int // Status server port

	// Watchlist
	Symbols         []string // Symbols polled every cycle
	BenchmarkSymbol string   // Reference series for pairs trading and regime detection

	// Quote sources
	AlpacaAPIKey        string
	AlpacaAPISecret     string
	AlpacaBaseURL       string
	AlpacaStreamURL     string
	AlpacaStreamEnabled bool
	FinnhubAPIKey       string
	FinnhubBaseURL      string

	// Quote service
	QuoteMaxAgeSeconds  int  // Freshness window for cached quotes
	QuoteTimeoutSeconds int  // Per-source fetch timeout
	UseStaleCache       bool // Serve stale cached quotes when all sources fail

	// Circuit breakers
	CircuitBreakerThreshold          int // Consecutive failures before opening
	CircuitBreakerCooldownSeconds    int // Initial open-state cooldown
	CircuitBreakerMaxCooldownSeconds int // Cooldown doubling bound

	// Position sizing
	KellyFractionMultiplier float64 // Fraction of full Kelly actually deployed
	KellyCap                float64 // Upper clamp on the raw Kelly fraction
	MaxPositionPct          float64 // Hard cap on position notional as fraction of equity
	MinTradesForKelly       int     // Below this, fall back to the fixed fraction
	FixedFractionPct        float64 // Conservative sizing with insufficient history

	// Allocation
	MinAllocationPct        float64 // Per-strategy clamp floor (Black-Litterman)
	MaxAllocationPct        float64 // Per-strategy clamp ceiling (Black-Litterman)
	AllocationRefreshCycles int     // Re-run the allocator chain every N cycles

	// Execution loop
	CycleIntervalSeconds int
	InitialEquity        float64

	// RL trainer
	TrainerSchedule string // Cron expression for training runs
	RLLearningRate  float64
	RLGamma         float64 // Discount factor for episode returns
	RLEntropyCoeff  float64 // Entropy bonus weight

	// Cloud backup (optional, disabled without credentials)
	BackupEnabled       bool
	BackupSchedule      string // Cron expression for backup runs
	BackupRetentionDays int
	S3Endpoint          string
	S3Bucket            string
	S3AccessKeyID       string
	S3SecretAccessKey   string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRADER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		Port:      getEnvAsInt("STATUS_PORT", 8090),

		Symbols:         getEnvAsList("TRADER_SYMBOLS", []string{"SPY", "QQQ", "AAPL", "MSFT"}),
		BenchmarkSymbol: getEnv("BENCHMARK_SYMBOL", "SPY"),

		AlpacaAPIKey:        getEnv("ALPACA_API_KEY", ""),
		AlpacaAPISecret:     getEnv("ALPACA_API_SECRET", ""),
		AlpacaBaseURL:       getEnv("ALPACA_BASE_URL", "https://data.alpaca.markets"),
		AlpacaStreamURL:     getEnv("ALPACA_STREAM_URL", "wss://stream.data.alpaca.markets/v2/iex"),
		AlpacaStreamEnabled: getEnvAsBool("ALPACA_STREAM_ENABLED", false),
		FinnhubAPIKey:       getEnv("FINNHUB_API_KEY", ""),
		FinnhubBaseURL:      getEnv("FINNHUB_BASE_URL", "https://finnhub.io/api/v1"),

		QuoteMaxAgeSeconds:  getEnvAsInt("QUOTE_MAX_AGE_SECONDS", 300),
		QuoteTimeoutSeconds: getEnvAsInt("QUOTE_TIMEOUT_SECONDS", 5),
		UseStaleCache:       getEnvAsBool("USE_STALE_CACHE", true),

		CircuitBreakerThreshold:          getEnvAsInt("CIRCUIT_BREAKER_THRESHOLD", 5),
		CircuitBreakerCooldownSeconds:    getEnvAsInt("CIRCUIT_BREAKER_COOLDOWN_SECONDS", 300),
		CircuitBreakerMaxCooldownSeconds: getEnvAsInt("CIRCUIT_BREAKER_MAX_COOLDOWN_SECONDS", 3600),

		KellyFractionMultiplier: getEnvAsFloat("KELLY_FRACTION_MULTIPLIER", 0.5),
		KellyCap:                getEnvAsFloat("KELLY_CAP", 0.25),
		MaxPositionPct:          getEnvAsFloat("MAX_POSITION_PCT", 0.20),
		MinTradesForKelly:       getEnvAsInt("MIN_TRADES_FOR_KELLY", 10),
		FixedFractionPct:        getEnvAsFloat("FIXED_FRACTION_PCT", 0.01),

		MinAllocationPct:        getEnvAsFloat("MIN_ALLOCATION_PCT", 0.05),
		MaxAllocationPct:        getEnvAsFloat("MAX_ALLOCATION_PCT", 0.40),
		AllocationRefreshCycles: getEnvAsInt("ALLOCATION_REFRESH_CYCLES", 10),

		CycleIntervalSeconds: getEnvAsInt("CYCLE_INTERVAL_SECONDS", 60),
		InitialEquity:        getEnvAsFloat("INITIAL_EQUITY", 100000),

		TrainerSchedule: getEnv("TRAINER_SCHEDULE", "0 2 * * *"),
		RLLearningRate:  getEnvAsFloat("RL_LEARNING_RATE", 0.01),
		RLGamma:         getEnvAsFloat("RL_GAMMA", 0.99),
		RLEntropyCoeff:  getEnvAsFloat("RL_ENTROPY_COEFF", 0.01),

		BackupEnabled:       getEnvAsBool("BACKUP_ENABLED", false),
		BackupSchedule:      getEnv("BACKUP_SCHEDULE", "0 3 * * *"),
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Bucket:            getEnv("S3_BUCKET", ""),
		S3AccessKeyID:       getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey:   getEnv("S3_SECRET_ACCESS_KEY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol required")
	}
	if c.KellyCap < 0 || c.KellyCap > 1 {
		return fmt.Errorf("kelly cap must be in [0, 1], got %f", c.KellyCap)
	}
	if c.KellyFractionMultiplier < 0 || c.KellyFractionMultiplier > 1 {
		return fmt.Errorf("kelly fraction multiplier must be in [0, 1], got %f", c.KellyFractionMultiplier)
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		return fmt.Errorf("max position pct must be in (0, 1], got %f", c.MaxPositionPct)
	}
	if c.MinAllocationPct < 0 || c.MaxAllocationPct > 1 || c.MinAllocationPct >= c.MaxAllocationPct {
		return fmt.Errorf("allocation clamp [%f, %f] is invalid", c.MinAllocationPct, c.MaxAllocationPct)
	}
	if c.CircuitBreakerThreshold < 1 {
		return fmt.Errorf("circuit breaker threshold must be >= 1, got %d", c.CircuitBreakerThreshold)
	}
	if c.CircuitBreakerMaxCooldownSeconds < c.CircuitBreakerCooldownSeconds {
		return fmt.Errorf("circuit breaker max cooldown must be >= initial cooldown")
	}
	if c.CycleIntervalSeconds < 1 {
		return fmt.Errorf("cycle interval must be >= 1 second, got %d", c.CycleIntervalSeconds)
	}
	if c.InitialEquity <= 0 {
		return fmt.Errorf("initial equity must be positive, got %f", c.InitialEquity)
	}
	if c.BackupEnabled && (c.S3Endpoint == "" || c.S3Bucket == "" || c.S3AccessKeyID == "" || c.S3SecretAccessKey == "") {
		return fmt.Errorf("backup enabled but S3 credentials incomplete")
	}
	return nil
}

// LedgerDBPath returns the path of the append-only trade ledger database.
func (c *Config) LedgerDBPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// PortfolioDBPath returns the path of the strategy state database.
func (c *Config) PortfolioDBPath() string {
	return filepath.Join(c.DataDir, "portfolio.db")
}

// CheckpointDir returns the directory holding RL policy checkpoints.
func (c *Config) CheckpointDir() string {
	return filepath.Join(c.DataDir, "rl")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
