// Package config loads this engine's named options (spec §6) from a
// JSON file with environment-variable overrides, following the
// teacher's Load/applyEnvOverrides/GenerateSampleConfig pattern. A
// .env file is loaded first via godotenv, matching the teacher's
// cmd/analyze_trades convention, so local development doesn't need
// exported shell variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"hybrid-regime-engine/internal/notification"
)

// Config is the root configuration tree.
type Config struct {
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	ExchangeConfig     ExchangeConfig     `json:"exchange"`
	SchedulerConfig    SchedulerConfig    `json:"scheduler"`
	IndicatorConfig    IndicatorConfig    `json:"indicators"`
	RegimeConfig       RegimeConfig       `json:"regime"`
	SignalConfig       SignalConfigSpec   `json:"signal"`
	SizingConfig       SizingConfig       `json:"sizing"`
	PositionConfig     PositionConfig     `json:"position"`
	RiskGuardConfig    RiskGuardConfig    `json:"risk_guard"`
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	VaultConfig        VaultConfig        `json:"vault"`
	NotificationConfig NotificationConfig `json:"notification"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	MetricsConfig      MetricsConfig      `json:"metrics"`
	ChatConfig         ChatConfig         `json:"chat"`
}

// DatabaseConfig configures the Postgres ledger (spec §4.7).
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig configures the regime-state cache's fast path (spec
// §4.7's "cache ... for fast reads").
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// ExchangeConfig configures the exchange client and the owner's
// trading credentials.
type ExchangeConfig struct {
	BaseURL   string `json:"base_url"`
	TestNet   bool   `json:"testnet"`
	MockMode  bool   `json:"mock_mode"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// SchedulerConfig configures the symbol dispatch loop of spec §4.8.
type SchedulerConfig struct {
	Interval             string  `json:"interval"`
	ScanIntervalSeconds  int     `json:"scan_interval_seconds"`
	MaxConcurrentFetches int     `json:"max_concurrent_fetches"`
	CandleLookback       int     `json:"candle_lookback"`
	NDayLowDays          int     `json:"n_day_low_days"`
	MinTradeNotional     float64 `json:"min_trade_notional"`
	LiveTrading          bool    `json:"live_trading"`
	// InitialBalanceUSD seeds portfolio_state.balance_cash the first
	// time the ledger is opened, and is what the chat `reset` command
	// restores the cash balance to.
	InitialBalanceUSD float64 `json:"initial_balance_usd"`
}

// IndicatorConfig configures the ADX-based dwell thresholds the
// regime selector consumes alongside fixed window lengths (spec
// §4.1's windows are not user-configurable, but the N-day-low lookback
// and ADX thresholds are spec §6 named options).
type IndicatorConfig struct {
	NDayLowDays int `json:"n_day_low_days"`
}

// RegimeConfig configures the hysteresis state machine of spec §4.3.
type RegimeConfig struct {
	ADXLow            float64 `json:"adx_low"`
	ADXHigh           float64 `json:"adx_high"`
	MinDwellMinutes   int     `json:"min_dwell_minutes"`
}

// SignalConfigSpec configures the signal generator and its filters
// (spec §4.4). Named *Spec to avoid colliding with signal.Config.
type SignalConfigSpec struct {
	MinVotesForBuy           int     `json:"min_votes_for_buy"`
	MinVotesForSell          int     `json:"min_votes_for_sell"`
	TransitionMinVotesForBuy int     `json:"transition_min_votes_for_buy"`
	NoBuyBelowPct            float64 `json:"no_buy_below_pct"`
	VolumeSpikeMult          float64 `json:"volume_spike_mult"`
	EMA200NegSlopeThreshold  float64 `json:"ema200_neg_slope_threshold"`
	MaxPositions             int     `json:"max_positions"`

	MRRSIOversold float64 `json:"mr_rsi_oversold"`
	MRZScoreBuy   float64 `json:"mr_zscore_buy"`
	MRADXMax      float64 `json:"mr_adx_max"`

	MRStopLossPct   float64 `json:"mr_stop_loss_pct"`
	MRATRSLMult     float64 `json:"mr_atr_sl_mult"`
	MRATRTPMult     float64 `json:"mr_atr_tp_mult"`
	MRTakeProfitPct float64 `json:"mr_take_profit_pct"`

	TFStopLossPct        float64 `json:"tf_stop_loss_pct"`
	TFTakeProfitPct      float64 `json:"tf_take_profit_pct"`
	PartialTPTriggerPct  float64 `json:"partial_tp_trigger_pct"`
	PartialTPRemainingTP float64 `json:"partial_tp_remaining_tp"`

	ADXHigh float64 `json:"adx_high"`
}

// SizingConfig configures the adaptive position sizer of spec §4.5.
type SizingConfig struct {
	SizeMin  float64 `json:"size_min"`
	SizeMax  float64 `json:"size_max"`
	UseKelly bool    `json:"use_kelly"`
}

// PositionConfig configures the exit-priority protocol and averaging
// rules of spec §4.6.
type PositionConfig struct {
	TrailDistancePct       float64       `json:"trail_distance_pct"`
	PartialTPTriggerPct    float64       `json:"partial_tp_trigger_pct"`
	PartialClosePct        float64       `json:"partial_close_pct"`
	PartialTPRemainingTP   float64       `json:"partial_tp_remaining_tp"`
	TrailActivationPctMR   float64       `json:"trail_activation_pct_mr"`
	TrailActivationPctTF   float64       `json:"trail_activation_pct_tf"`
	AveragingPriceDropPct  float64       `json:"averaging_price_drop_pct"`
	AveragingTimeThreshold time.Duration `json:"averaging_time_threshold"`
	MaxAveragingAttempts   int           `json:"max_averaging_attempts"`
	AveragingSizePct       float64       `json:"averaging_size_pct"`
	MRTakeProfitPct        float64       `json:"mr_take_profit_pct"`
	PyramidADXThreshold    float64       `json:"pyramid_adx_threshold"`
	PyramidUpGainPct       float64       `json:"pyramid_up_gain_pct"`
	MaxTotalRiskMultiplier float64       `json:"max_total_risk_multiplier"`
	CommissionRate         float64       `json:"commission_rate"`
	LotSize                float64       `json:"lot_size"`
}

// RiskGuardConfig configures the ambient drawdown/loss-streak pause
// (SPEC_FULL §12, grounded on original_source/safety_limits.py).
type RiskGuardConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxDailyDrawdownPct  float64 `json:"max_daily_drawdown_pct"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
}

// ServerConfig configures the read-only analytics HTTP API (spec §6).
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`
	WriteTimeout    int    `json:"write_timeout"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// AuthConfig configures the single-owner JWT issuer.
type AuthConfig struct {
	Enabled              bool          `json:"enabled"`
	JWTSecret            string        `json:"jwt_secret"`
	OwnerID              string        `json:"owner_id"`
	OwnerPasswordHash    string        `json:"owner_password_hash"`
	AccessTokenDuration  time.Duration `json:"access_token_duration"`
	RefreshTokenDuration time.Duration `json:"refresh_token_duration"`
}

// VaultConfig holds HashiCorp Vault configuration for the owner's
// exchange credential.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// NotificationConfig configures the Telegram/Discord fan-out.
type NotificationConfig struct {
	Enabled  bool                 `json:"enabled"`
	Telegram notification.TelegramConfig `json:"telegram"`
	Discord  notification.DiscordConfig  `json:"discord"`
}

// LoggingConfig mirrors the teacher's logging options.
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ChatConfig configures the chat command interface (spec §6).
type ChatConfig struct {
	Enabled      bool   `json:"enabled"`
	SharedSecret string `json:"shared_secret"`
}

// Load reads config.json if present, then applies environment
// overrides, mirroring the teacher's Load/applyEnvOverrides split. A
// .env file (if present) is loaded first so overrides can come from a
// local, untracked file instead of the real shell environment.
func Load() (*Config, error) {
	godotenv.Load()
	godotenv.Load(".env")

	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", orDefault(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", orDefaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", orDefault(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", orDefault(cfg.DatabaseConfig.Database, "hybrid_regime_engine"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", orDefault(cfg.DatabaseConfig.SSLMode, "disable"))

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "true") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", orDefault(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.ExchangeConfig.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", orDefault(cfg.ExchangeConfig.BaseURL, "https://api.binance.com"))
	cfg.ExchangeConfig.TestNet = getEnvOrDefault("BINANCE_TESTNET", "false") == "true"
	cfg.ExchangeConfig.MockMode = getEnvOrDefault("MOCK_MODE", "false") == "true"
	cfg.ExchangeConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.ExchangeConfig.APIKey)
	cfg.ExchangeConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.ExchangeConfig.SecretKey)

	cfg.SchedulerConfig.Interval = getEnvOrDefault("SCHEDULER_INTERVAL", orDefault(cfg.SchedulerConfig.Interval, "1h"))
	cfg.SchedulerConfig.ScanIntervalSeconds = getEnvIntOrDefault("SCHEDULER_SCAN_INTERVAL_SECONDS", orDefaultInt(cfg.SchedulerConfig.ScanIntervalSeconds, 60))
	cfg.SchedulerConfig.MaxConcurrentFetches = getEnvIntOrDefault("SCHEDULER_MAX_CONCURRENT_FETCHES", orDefaultInt(cfg.SchedulerConfig.MaxConcurrentFetches, 5))
	cfg.SchedulerConfig.CandleLookback = getEnvIntOrDefault("SCHEDULER_CANDLE_LOOKBACK", orDefaultInt(cfg.SchedulerConfig.CandleLookback, 300))
	cfg.SchedulerConfig.NDayLowDays = getEnvIntOrDefault("SCHEDULER_N_DAY_LOW_DAYS", orDefaultInt(cfg.SchedulerConfig.NDayLowDays, 1))
	cfg.SchedulerConfig.MinTradeNotional = getEnvFloatOrDefault("SCHEDULER_MIN_TRADE_NOTIONAL", orDefaultFloat(cfg.SchedulerConfig.MinTradeNotional, 10.0))
	cfg.SchedulerConfig.LiveTrading = getEnvOrDefault("SCHEDULER_LIVE_TRADING", "false") == "true"
	cfg.SchedulerConfig.InitialBalanceUSD = getEnvFloatOrDefault("INITIAL_BALANCE_USD", orDefaultFloat(cfg.SchedulerConfig.InitialBalanceUSD, 1000.0))

	cfg.IndicatorConfig.NDayLowDays = getEnvIntOrDefault("INDICATOR_N_DAY_LOW_DAYS", orDefaultInt(cfg.IndicatorConfig.NDayLowDays, cfg.SchedulerConfig.NDayLowDays))

	cfg.RegimeConfig.ADXLow = getEnvFloatOrDefault("REGIME_ADX_LOW", orDefaultFloat(cfg.RegimeConfig.ADXLow, 20))
	cfg.RegimeConfig.ADXHigh = getEnvFloatOrDefault("REGIME_ADX_HIGH", orDefaultFloat(cfg.RegimeConfig.ADXHigh, 24))
	cfg.RegimeConfig.MinDwellMinutes = getEnvIntOrDefault("REGIME_MIN_DWELL_MINUTES", orDefaultInt(cfg.RegimeConfig.MinDwellMinutes, 30))

	cfg.SignalConfig.MinVotesForBuy = getEnvIntOrDefault("SIGNAL_MIN_VOTES_FOR_BUY", orDefaultInt(cfg.SignalConfig.MinVotesForBuy, 5))
	cfg.SignalConfig.MinVotesForSell = getEnvIntOrDefault("SIGNAL_MIN_VOTES_FOR_SELL", orDefaultInt(cfg.SignalConfig.MinVotesForSell, 5))
	cfg.SignalConfig.TransitionMinVotesForBuy = getEnvIntOrDefault("SIGNAL_TRANSITION_MIN_VOTES_FOR_BUY", orDefaultInt(cfg.SignalConfig.TransitionMinVotesForBuy, 5))
	cfg.SignalConfig.NoBuyBelowPct = getEnvFloatOrDefault("SIGNAL_NO_BUY_BELOW_PCT", orDefaultFloat(cfg.SignalConfig.NoBuyBelowPct, 0.10))
	cfg.SignalConfig.VolumeSpikeMult = getEnvFloatOrDefault("SIGNAL_VOLUME_SPIKE_MULT", orDefaultFloat(cfg.SignalConfig.VolumeSpikeMult, 3.0))
	cfg.SignalConfig.EMA200NegSlopeThreshold = getEnvFloatOrDefault("SIGNAL_EMA200_NEG_SLOPE_THRESHOLD", orDefaultFloat(cfg.SignalConfig.EMA200NegSlopeThreshold, -0.003))
	cfg.SignalConfig.MaxPositions = getEnvIntOrDefault("SIGNAL_MAX_POSITIONS", orDefaultInt(cfg.SignalConfig.MaxPositions, 3))
	cfg.SignalConfig.MRRSIOversold = getEnvFloatOrDefault("SIGNAL_MR_RSI_OVERSOLD", orDefaultFloat(cfg.SignalConfig.MRRSIOversold, 40))
	cfg.SignalConfig.MRZScoreBuy = getEnvFloatOrDefault("SIGNAL_MR_ZSCORE_BUY", orDefaultFloat(cfg.SignalConfig.MRZScoreBuy, -1.8))
	cfg.SignalConfig.MRADXMax = getEnvFloatOrDefault("SIGNAL_MR_ADX_MAX", orDefaultFloat(cfg.SignalConfig.MRADXMax, 35))
	cfg.SignalConfig.MRStopLossPct = getEnvFloatOrDefault("SIGNAL_MR_STOP_LOSS_PCT", orDefaultFloat(cfg.SignalConfig.MRStopLossPct, 0.03))
	cfg.SignalConfig.MRATRSLMult = getEnvFloatOrDefault("SIGNAL_MR_ATR_SL_MULT", orDefaultFloat(cfg.SignalConfig.MRATRSLMult, 1.5))
	cfg.SignalConfig.MRATRTPMult = getEnvFloatOrDefault("SIGNAL_MR_ATR_TP_MULT", orDefaultFloat(cfg.SignalConfig.MRATRTPMult, 2.0))
	cfg.SignalConfig.MRTakeProfitPct = getEnvFloatOrDefault("SIGNAL_MR_TAKE_PROFIT_PCT", orDefaultFloat(cfg.SignalConfig.MRTakeProfitPct, 0.05))
	cfg.SignalConfig.TFStopLossPct = getEnvFloatOrDefault("SIGNAL_TF_STOP_LOSS_PCT", orDefaultFloat(cfg.SignalConfig.TFStopLossPct, 0.05))
	cfg.SignalConfig.TFTakeProfitPct = getEnvFloatOrDefault("SIGNAL_TF_TAKE_PROFIT_PCT", orDefaultFloat(cfg.SignalConfig.TFTakeProfitPct, 0.10))
	cfg.SignalConfig.PartialTPTriggerPct = getEnvFloatOrDefault("SIGNAL_PARTIAL_TP_TRIGGER_PCT", orDefaultFloat(cfg.SignalConfig.PartialTPTriggerPct, 0.015))
	cfg.SignalConfig.PartialTPRemainingTP = getEnvFloatOrDefault("SIGNAL_PARTIAL_TP_REMAINING_TP", orDefaultFloat(cfg.SignalConfig.PartialTPRemainingTP, 0.03))
	cfg.SignalConfig.ADXHigh = getEnvFloatOrDefault("SIGNAL_ADX_HIGH", orDefaultFloat(cfg.SignalConfig.ADXHigh, 24))

	cfg.SizingConfig.SizeMin = getEnvFloatOrDefault("SIZING_SIZE_MIN", orDefaultFloat(cfg.SizingConfig.SizeMin, 0.20))
	cfg.SizingConfig.SizeMax = getEnvFloatOrDefault("SIZING_SIZE_MAX", orDefaultFloat(cfg.SizingConfig.SizeMax, 0.70))
	cfg.SizingConfig.UseKelly = getEnvOrDefault("SIZING_USE_KELLY", "true") == "true"

	cfg.PositionConfig.TrailDistancePct = getEnvFloatOrDefault("POSITION_TRAIL_DISTANCE_PCT", orDefaultFloat(cfg.PositionConfig.TrailDistancePct, 0.01))
	cfg.PositionConfig.PartialTPTriggerPct = getEnvFloatOrDefault("POSITION_PARTIAL_TP_TRIGGER_PCT", orDefaultFloat(cfg.PositionConfig.PartialTPTriggerPct, 0.015))
	cfg.PositionConfig.PartialClosePct = getEnvFloatOrDefault("POSITION_PARTIAL_CLOSE_PCT", orDefaultFloat(cfg.PositionConfig.PartialClosePct, 0.5))
	cfg.PositionConfig.PartialTPRemainingTP = getEnvFloatOrDefault("POSITION_PARTIAL_TP_REMAINING_TP", orDefaultFloat(cfg.PositionConfig.PartialTPRemainingTP, 0.03))
	cfg.PositionConfig.TrailActivationPctMR = getEnvFloatOrDefault("POSITION_TRAIL_ACTIVATION_PCT_MR", orDefaultFloat(cfg.PositionConfig.TrailActivationPctMR, 0.008))
	cfg.PositionConfig.TrailActivationPctTF = getEnvFloatOrDefault("POSITION_TRAIL_ACTIVATION_PCT_TF", orDefaultFloat(cfg.PositionConfig.TrailActivationPctTF, 0.015))
	cfg.PositionConfig.AveragingPriceDropPct = getEnvFloatOrDefault("POSITION_AVERAGING_PRICE_DROP_PCT", orDefaultFloat(cfg.PositionConfig.AveragingPriceDropPct, 0.05))
	cfg.PositionConfig.AveragingTimeThreshold = getEnvDurationOrDefault("POSITION_AVERAGING_TIME_THRESHOLD", orDefaultDuration(cfg.PositionConfig.AveragingTimeThreshold, 24*time.Hour))
	cfg.PositionConfig.MaxAveragingAttempts = getEnvIntOrDefault("POSITION_MAX_AVERAGING_ATTEMPTS", orDefaultInt(cfg.PositionConfig.MaxAveragingAttempts, 3))
	cfg.PositionConfig.AveragingSizePct = getEnvFloatOrDefault("POSITION_AVERAGING_SIZE_PCT", orDefaultFloat(cfg.PositionConfig.AveragingSizePct, 0.5))
	cfg.PositionConfig.MRTakeProfitPct = getEnvFloatOrDefault("POSITION_MR_TAKE_PROFIT_PCT", orDefaultFloat(cfg.PositionConfig.MRTakeProfitPct, 0.05))
	cfg.PositionConfig.PyramidADXThreshold = getEnvFloatOrDefault("POSITION_PYRAMID_ADX_THRESHOLD", orDefaultFloat(cfg.PositionConfig.PyramidADXThreshold, 25))
	cfg.PositionConfig.PyramidUpGainPct = getEnvFloatOrDefault("POSITION_PYRAMID_UP_GAIN_PCT", orDefaultFloat(cfg.PositionConfig.PyramidUpGainPct, 0.02))
	cfg.PositionConfig.MaxTotalRiskMultiplier = getEnvFloatOrDefault("POSITION_MAX_TOTAL_RISK_MULTIPLIER", orDefaultFloat(cfg.PositionConfig.MaxTotalRiskMultiplier, 1.5))
	cfg.PositionConfig.CommissionRate = getEnvFloatOrDefault("POSITION_COMMISSION_RATE", orDefaultFloat(cfg.PositionConfig.CommissionRate, 0.0009))
	cfg.PositionConfig.LotSize = getEnvFloatOrDefault("POSITION_LOT_SIZE", orDefaultFloat(cfg.PositionConfig.LotSize, 1e-8))

	cfg.RiskGuardConfig.Enabled = getEnvOrDefault("RISK_GUARD_ENABLED", "true") == "true"
	cfg.RiskGuardConfig.MaxDailyDrawdownPct = getEnvFloatOrDefault("RISK_GUARD_MAX_DAILY_DRAWDOWN_PCT", orDefaultFloat(cfg.RiskGuardConfig.MaxDailyDrawdownPct, 0.05))
	cfg.RiskGuardConfig.MaxConsecutiveLosses = getEnvIntOrDefault("RISK_GUARD_MAX_CONSECUTIVE_LOSSES", orDefaultInt(cfg.RiskGuardConfig.MaxConsecutiveLosses, 5))

	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", orDefaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", orDefault(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", orDefault(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", orDefaultInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", orDefaultInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", orDefaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", "true") == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.OwnerID = getEnvOrDefault("AUTH_OWNER_ID", orDefault(cfg.AuthConfig.OwnerID, "owner"))
	cfg.AuthConfig.OwnerPasswordHash = getEnvOrDefault("AUTH_OWNER_PASSWORD_HASH", cfg.AuthConfig.OwnerPasswordHash)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", orDefaultDuration(cfg.AuthConfig.AccessTokenDuration, 15*time.Minute))
	cfg.AuthConfig.RefreshTokenDuration = getEnvDurationOrDefault("AUTH_REFRESH_TOKEN_DURATION", orDefaultDuration(cfg.AuthConfig.RefreshTokenDuration, 7*24*time.Hour))

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", orDefault(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", orDefault(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", orDefault(cfg.VaultConfig.SecretPath, "hybrid-regime-engine/api-keys"))
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", "false") == "true"
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orDefault(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", orDefault(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	cfg.MetricsConfig.Enabled = getEnvOrDefault("METRICS_ENABLED", "true") == "true"
	cfg.MetricsConfig.Path = getEnvOrDefault("METRICS_PATH", orDefault(cfg.MetricsConfig.Path, "/metrics"))

	cfg.ChatConfig.Enabled = getEnvOrDefault("CHAT_ENABLED", "true") == "true"
	cfg.ChatConfig.SharedSecret = getEnvOrDefault("CHAT_SHARED_SECRET", cfg.ChatConfig.SharedSecret)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func orDefault(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func orDefaultInt(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

func orDefaultFloat(v, d float64) float64 {
	if v == 0 {
		return d
	}
	return v
}

func orDefaultDuration(v, d time.Duration) time.Duration {
	if v == 0 {
		return d
	}
	return v
}

// GenerateSampleConfig writes a sample config.json an operator can
// edit before first run.
func GenerateSampleConfig(filename string) error {
	cfg := Config{
		DatabaseConfig: DatabaseConfig{
			Host: "localhost", Port: 5432, User: "postgres", Database: "hybrid_regime_engine", SSLMode: "disable",
		},
		RedisConfig: RedisConfig{Enabled: true, Address: "localhost:6379"},
		ExchangeConfig: ExchangeConfig{
			BaseURL: "https://api.binance.com", TestNet: true, MockMode: false,
			APIKey: "your_api_key_here", SecretKey: "your_secret_key_here",
		},
		SchedulerConfig: SchedulerConfig{
			Interval: "1h", ScanIntervalSeconds: 60, MaxConcurrentFetches: 5,
			CandleLookback: 300, NDayLowDays: 1, MinTradeNotional: 10.0, LiveTrading: false,
			InitialBalanceUSD: 1000.0,
		},
		IndicatorConfig: IndicatorConfig{NDayLowDays: 1},
		RegimeConfig:    RegimeConfig{ADXLow: 20, ADXHigh: 24, MinDwellMinutes: 30},
		SignalConfig: SignalConfigSpec{
			MinVotesForBuy: 5, MinVotesForSell: 5, TransitionMinVotesForBuy: 5,
			NoBuyBelowPct: 0.10, VolumeSpikeMult: 3.0, EMA200NegSlopeThreshold: -0.003, MaxPositions: 3,
			MRRSIOversold: 40, MRZScoreBuy: -1.8, MRADXMax: 35,
			MRStopLossPct: 0.03, MRATRSLMult: 1.5, MRATRTPMult: 2.0, MRTakeProfitPct: 0.05,
			TFStopLossPct: 0.05, TFTakeProfitPct: 0.10, PartialTPTriggerPct: 0.015, PartialTPRemainingTP: 0.03,
			ADXHigh: 24,
		},
		SizingConfig: SizingConfig{SizeMin: 0.20, SizeMax: 0.70, UseKelly: true},
		PositionConfig: PositionConfig{
			TrailDistancePct: 0.01, PartialTPTriggerPct: 0.015, PartialClosePct: 0.5, PartialTPRemainingTP: 0.03,
			TrailActivationPctMR: 0.008, TrailActivationPctTF: 0.015,
			AveragingPriceDropPct: 0.05, AveragingTimeThreshold: 24 * time.Hour, MaxAveragingAttempts: 3, AveragingSizePct: 0.5,
			MRTakeProfitPct: 0.05, PyramidADXThreshold: 25, PyramidUpGainPct: 0.02,
			MaxTotalRiskMultiplier: 1.5, CommissionRate: 0.0009, LotSize: 1e-8,
		},
		RiskGuardConfig: RiskGuardConfig{Enabled: true, MaxDailyDrawdownPct: 0.05, MaxConsecutiveLosses: 5},
		ServerConfig:    ServerConfig{Port: 8080, Host: "0.0.0.0", AllowedOrigins: "*", ReadTimeout: 30, WriteTimeout: 30, ShutdownTimeout: 10},
		AuthConfig:      AuthConfig{Enabled: true, OwnerID: "owner", AccessTokenDuration: 15 * time.Minute, RefreshTokenDuration: 7 * 24 * time.Hour},
		LoggingConfig:   LoggingConfig{Level: "INFO", Output: "stdout", JSONFormat: true, IncludeFile: false},
		MetricsConfig:   MetricsConfig{Enabled: true, Path: "/metrics"},
		ChatConfig:      ChatConfig{Enabled: true},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
