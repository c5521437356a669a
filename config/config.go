package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"quadbot/internal/adapters/logger"
)

// Config holds all application configuration. It is constructed once at
// startup and treated as immutable; components receive it by reference.
type Config struct {
	// Exchange API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading universe
	Symbols  []string
	Interval string // Candle interval (e.g., "1h")
	Leverage int

	// Exit rules (all percentages are in percent units, e.g. 2.0 == 2%)
	StopLossPct         float64
	TakeProfitPct       float64
	EnableTrailingStop  bool
	TrailingActivatePct float64
	TrailingCallbackPct float64
	TimeExitHours       int

	// Entry quality
	MinEntryConfidence int

	// Position sizing (equity based)
	PositionSizePct         float64
	HighConfidenceSizePct   float64
	HighConfidenceThreshold int
	MaxPositionSizePct      float64
	MaxTotalExposurePct     float64

	// Risk limits
	MaxDailyLossPct       float64
	MaxDailyTrades        int
	CooldownAfterSLStreak int
	CooldownHours         int
	RecentSLLookbackHours int
	MinVolumeRatio        float64
	MaxSpreadMultiplier   float64

	// Pyramiding
	PyramidMaxAdds      int
	PyramidAddSizeMult  float64
	PyramidMinProfitPct float64

	// Fees
	TakerFeeRate float64 // e.g., 0.00055 for 0.055%

	// Scheduling
	TickInterval time.Duration
	CandleLimit  int

	// Indicator / signal parameters
	PullbackDistPct float64 // Price-to-EMA distance counted as a pullback

	// Telegram
	TelegramBotToken string
	TelegramChatID   string

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel
	LogFile  string // Optional rotating log file; empty logs to stderr only

	// Connection settings
	MaxRetryAttempts int
	RetryBaseDelay   time.Duration
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.APIKey = getEnv("EXCHANGE_API_KEY", "")
	cfg.SecretKey = getEnv("EXCHANGE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	if cfg.APIKey == "" {
		errs = append(errs, "EXCHANGE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "EXCHANGE_API_SECRET must be set")
	}

	for _, s := range strings.Split(getEnv("SYMBOLS", getEnv("SYMBOL", "XRPUSDT")), ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Symbols = append(cfg.Symbols, s)
		}
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must name at least one symbol")
	}

	cfg.Interval = getEnv("INTERVAL", "1h")

	cfg.Leverage = getEnvAsInt("LEVERAGE", 1)
	if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.StopLossPct = getEnvAsFloat("STOP_LOSS_PCT", 2.0)
	cfg.TakeProfitPct = getEnvAsFloat("TAKE_PROFIT_PCT", 4.0)
	if cfg.StopLossPct <= 0 {
		errs = append(errs, "STOP_LOSS_PCT must be positive")
	}
	if cfg.TakeProfitPct <= 0 {
		errs = append(errs, "TAKE_PROFIT_PCT must be positive")
	}

	cfg.EnableTrailingStop = getEnvAsBool("ENABLE_TRAILING_STOP", true)
	cfg.TrailingActivatePct = getEnvAsFloat("TRAILING_STOP_ACTIVATE_PCT", 3.5)
	cfg.TrailingCallbackPct = getEnvAsFloat("TRAILING_STOP_CALLBACK_PCT", 2.0)
	if cfg.EnableTrailingStop && (cfg.TrailingActivatePct <= 0 || cfg.TrailingCallbackPct <= 0) {
		errs = append(errs, "trailing stop percentages must be positive when trailing is enabled")
	}

	cfg.TimeExitHours = getEnvAsInt("TIME_EXIT_HOURS", 48)
	cfg.MinEntryConfidence = getEnvAsInt("MIN_ENTRY_CONFIDENCE", 3)
	if cfg.MinEntryConfidence < 2 || cfg.MinEntryConfidence > 4 {
		errs = append(errs, "MIN_ENTRY_CONFIDENCE must be between 2 and 4")
	}

	cfg.PositionSizePct = getEnvAsFloat("POSITION_SIZE_PCT", 5.0)
	cfg.HighConfidenceSizePct = getEnvAsFloat("HIGH_CONFIDENCE_SIZE_PCT", 8.0)
	cfg.HighConfidenceThreshold = getEnvAsInt("HIGH_CONFIDENCE_THRESHOLD", 3)
	cfg.MaxPositionSizePct = getEnvAsFloat("MAX_POSITION_SIZE_PCT", 10.0)
	cfg.MaxTotalExposurePct = getEnvAsFloat("MAX_TOTAL_EXPOSURE_PCT", 30.0)
	if cfg.PositionSizePct > cfg.MaxPositionSizePct {
		errs = append(errs, fmt.Sprintf("POSITION_SIZE_PCT (%.1f) exceeds MAX_POSITION_SIZE_PCT (%.1f)",
			cfg.PositionSizePct, cfg.MaxPositionSizePct))
	}

	cfg.MaxDailyLossPct = getEnvAsFloat("MAX_DAILY_LOSS_PCT", 3.0)
	cfg.MaxDailyTrades = getEnvAsInt("MAX_DAILY_TRADES", 5)
	cfg.CooldownAfterSLStreak = getEnvAsInt("COOLDOWN_AFTER_SL_STREAK", 3)
	cfg.CooldownHours = getEnvAsInt("COOLDOWN_HOURS", 2)
	cfg.RecentSLLookbackHours = getEnvAsInt("RECENT_SL_LOOKBACK_HOURS", 3)
	cfg.MinVolumeRatio = getEnvAsFloat("MIN_VOLUME_RATIO", 0.3)
	cfg.MaxSpreadMultiplier = getEnvAsFloat("MAX_SPREAD_MULTIPLIER", 3.0)

	cfg.PyramidMaxAdds = getEnvAsInt("PYRAMID_MAX_ADDS", 2)
	cfg.PyramidAddSizeMult = getEnvAsFloat("PYRAMID_ADD_SIZE_MULT", 0.5)
	cfg.PyramidMinProfitPct = getEnvAsFloat("PYRAMID_MIN_PROFIT_PCT", 0.3)

	cfg.TakerFeeRate = getEnvAsFloat("TAKER_FEE_RATE", 0.00055)

	tickSeconds := getEnvAsInt("TICK_INTERVAL_SECONDS", 10)
	if tickSeconds <= 0 {
		errs = append(errs, "TICK_INTERVAL_SECONDS must be positive")
	}
	cfg.TickInterval = time.Duration(tickSeconds) * time.Second

	cfg.CandleLimit = getEnvAsInt("CANDLE_LIMIT", 300)
	if cfg.CandleLimit < 200 {
		errs = append(errs, "CANDLE_LIMIT must be at least 200 for the signal engine")
	}

	cfg.PullbackDistPct = getEnvAsFloat("PULLBACK_DIST_PCT", 0.5)

	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")

	cfg.DBPath = getEnv("DB_PATH", "./data/quadbot.db")

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFile = getEnv("LOG_FILE", "")

	cfg.MaxRetryAttempts = getEnvAsInt("MAX_RETRY_ATTEMPTS", 3)
	retryDelayMs := getEnvAsInt("RETRY_BASE_DELAY_MS", 500)
	cfg.RetryBaseDelay = time.Duration(retryDelayMs) * time.Millisecond

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
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
