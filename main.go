package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"hybrid-regime-engine/config"
	"hybrid-regime-engine/internal/api"
	"hybrid-regime-engine/internal/auth"
	"hybrid-regime-engine/internal/chat"
	"hybrid-regime-engine/internal/events"
	binance "hybrid-regime-engine/internal/exchange"
	"hybrid-regime-engine/internal/ledger"
	"hybrid-regime-engine/internal/logging"
	"hybrid-regime-engine/internal/notification"
	"hybrid-regime-engine/internal/position"
	"hybrid-regime-engine/internal/regime"
	"hybrid-regime-engine/internal/riskguard"
	"hybrid-regime-engine/internal/scheduler"
	tradesignal "hybrid-regime-engine/internal/signal"
	"hybrid-regime-engine/internal/sizing"
	"hybrid-regime-engine/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("structured logging initialized")

	notifyManager := notification.NewManager()
	if cfg.NotificationConfig.Enabled {
		if cfg.NotificationConfig.Telegram.Enabled {
			notifyManager.AddNotifier(notification.NewTelegramNotifier(cfg.NotificationConfig.Telegram))
		}
		if cfg.NotificationConfig.Discord.Enabled {
			notifyManager.AddNotifier(notification.NewDiscordNotifier(cfg.NotificationConfig.Discord))
		}
	}

	ctx := context.Background()

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		log.Fatalf("failed to init vault client: %v", err)
	}

	client := buildExchangeClient(ctx, cfg, vaultClient, logger)

	db, err := ledger.Open(ctx, ledger.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("failed to open ledger database: %v", err)
	}
	defer db.Pool.Close()
	repo := ledger.NewRepository(db)
	logger.Info("ledger database connected")

	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
	}
	regimeCache := ledger.NewRegimeCache(redisClient, repo)

	portfolio, err := repo.GetPortfolioState(ctx)
	if err != nil {
		log.Fatalf("failed to read portfolio state: %v", err)
	}
	if portfolio.BalanceCash == 0 && portfolio.RealizedPnLCumulative == 0 && portfolio.WinCount == 0 && portfolio.LossCount == 0 {
		if err := repo.SetBalanceCash(ctx, cfg.SchedulerConfig.InitialBalanceUSD); err != nil {
			log.Fatalf("failed to seed starting balance: %v", err)
		}
		portfolio.BalanceCash = cfg.SchedulerConfig.InitialBalanceUSD
		logger.Info("seeded starting balance")
	}

	guard := riskguard.New(riskguard.Config{
		Enabled:              cfg.RiskGuardConfig.Enabled,
		MaxDailyDrawdownPct:  cfg.RiskGuardConfig.MaxDailyDrawdownPct,
		MaxConsecutiveLosses: cfg.RiskGuardConfig.MaxConsecutiveLosses,
	}, portfolio.BalanceCash)
	guard.OnTrip(func(reason string) {
		logger.Warn("risk guard tripped", "reason", reason)
		_ = notifyManager.SendError("risk guard tripped", reason)
	})
	guard.OnClear(func() {
		logger.Info("risk guard cleared")
	})

	posMgr := position.New(position.Config{
		TrailDistancePct:       cfg.PositionConfig.TrailDistancePct,
		PartialTPTriggerPct:    cfg.PositionConfig.PartialTPTriggerPct,
		PartialClosePct:        cfg.PositionConfig.PartialClosePct,
		PartialTPRemainingTP:   cfg.PositionConfig.PartialTPRemainingTP,
		TrailActivationPctMR:   cfg.PositionConfig.TrailActivationPctMR,
		TrailActivationPctTF:   cfg.PositionConfig.TrailActivationPctTF,
		AveragingPriceDropPct:  cfg.PositionConfig.AveragingPriceDropPct,
		AveragingTimeThreshold: cfg.PositionConfig.AveragingTimeThreshold,
		MaxAveragingAttempts:   cfg.PositionConfig.MaxAveragingAttempts,
		AveragingSizePct:       cfg.PositionConfig.AveragingSizePct,
		MRTakeProfitPct:        cfg.PositionConfig.MRTakeProfitPct,
		PyramidADXThreshold:    cfg.PositionConfig.PyramidADXThreshold,
		PyramidUpGainPct:       cfg.PositionConfig.PyramidUpGainPct,
		MaxTotalRiskMultiplier: cfg.PositionConfig.MaxTotalRiskMultiplier,
		CommissionRate:         cfg.PositionConfig.CommissionRate,
		LotSize:                cfg.PositionConfig.LotSize,
	})

	bus := events.NewEventBus()
	setupEventPersistence(bus, logger)

	sched := scheduler.New(
		client,
		repo,
		regimeCache,
		posMgr,
		guard,
		notifyManager,
		bus,
		scheduler.Config{
			Interval:             cfg.SchedulerConfig.Interval,
			IntervalDuration:     intervalDuration(cfg.SchedulerConfig.Interval),
			ScanInterval:         time.Duration(cfg.SchedulerConfig.ScanIntervalSeconds) * time.Second,
			MaxConcurrentFetches: cfg.SchedulerConfig.MaxConcurrentFetches,
			CandleLookback:       cfg.SchedulerConfig.CandleLookback,
			NDayLowDays:          cfg.SchedulerConfig.NDayLowDays,
			MinTradeNotional:     cfg.SchedulerConfig.MinTradeNotional,
			LiveTrading:          cfg.SchedulerConfig.LiveTrading,
			RegimeThresholds: regime.Thresholds{
				ADXLow:   cfg.RegimeConfig.ADXLow,
				ADXHigh:  cfg.RegimeConfig.ADXHigh,
				MinDwell: time.Duration(cfg.RegimeConfig.MinDwellMinutes) * time.Minute,
			},
		},
		sizing.Config{
			SizeMin:  cfg.SizingConfig.SizeMin,
			SizeMax:  cfg.SizingConfig.SizeMax,
			UseKelly: cfg.SizingConfig.UseKelly,
		},
		tradesignal.Config{
			MinVotesForBuy:           cfg.SignalConfig.MinVotesForBuy,
			MinVotesForSell:          cfg.SignalConfig.MinVotesForSell,
			TransitionMinVotesForBuy: cfg.SignalConfig.TransitionMinVotesForBuy,
			NoBuyBelowPct:            cfg.SignalConfig.NoBuyBelowPct,
			VolumeSpikeMult:          cfg.SignalConfig.VolumeSpikeMult,
			EMA200NegSlopeThreshold:  cfg.SignalConfig.EMA200NegSlopeThreshold,
			MaxPositions:             cfg.SignalConfig.MaxPositions,
			MRRSIOversold:            cfg.SignalConfig.MRRSIOversold,
			MRZScoreBuy:              cfg.SignalConfig.MRZScoreBuy,
			MRADXMax:                 cfg.SignalConfig.MRADXMax,
			MRStopLossPct:            cfg.SignalConfig.MRStopLossPct,
			MRATRSLMult:              cfg.SignalConfig.MRATRSLMult,
			MRATRTPMult:              cfg.SignalConfig.MRATRTPMult,
			MRTakeProfitPct:          cfg.SignalConfig.MRTakeProfitPct,
			TFStopLossPct:            cfg.SignalConfig.TFStopLossPct,
			TFTakeProfitPct:          cfg.SignalConfig.TFTakeProfitPct,
			PartialTPTriggerPct:      cfg.SignalConfig.PartialTPTriggerPct,
			PartialTPRemainingTP:     cfg.SignalConfig.PartialTPRemainingTP,
			ADXHigh:                  cfg.SignalConfig.ADXHigh,
		},
	)

	chatDispatcher := chat.New(repo, sched, guard, cfg.ChatConfig, cfg.SchedulerConfig.InitialBalanceUSD)

	var jwtManager *auth.JWTManager
	var passwords *auth.PasswordManager
	if cfg.AuthConfig.Enabled {
		jwtManager = auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.AccessTokenDuration, cfg.AuthConfig.RefreshTokenDuration)
		passwords = auth.NewPasswordManager(auth.DefaultBcryptCost, auth.MinPasswordLength)
	}

	server := api.NewServer(cfg.ServerConfig, cfg.AuthConfig, cfg.MetricsConfig, repo, guard, chatDispatcher, jwtManager, passwords, bus)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server stopped", err)
		}
	}()

	sched.Start()
	logger.Info("scheduler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", err)
	}
	sched.Stop()
	logger.Info("shutdown complete")
}

// setupEventPersistence mirrors the teacher's main.go wiring of a
// dedicated subscriber that logs every bus event, rather than letting
// each publisher log independently; the scheduler's own zerolog calls
// already cover the structured audit trail, so this subscriber is
// deliberately thin.
func setupEventPersistence(bus *events.EventBus, logger *logging.Logger) {
	bus.SubscribeAll(func(e events.Event) {
		logger.Debug("event", "type", string(e.Type))
	})
}

func buildExchangeClient(ctx context.Context, cfg *config.Config, vaultClient *vault.Client, logger *logging.Logger) binance.BinanceClient {
	if cfg.ExchangeConfig.MockMode {
		logger.Info("exchange client: mock mode")
		return binance.NewMockClient()
	}

	apiKey := cfg.ExchangeConfig.APIKey
	secretKey := cfg.ExchangeConfig.SecretKey
	if vaultClient.IsEnabled() {
		creds, err := vaultClient.GetAPIKey(ctx, "binance", cfg.ExchangeConfig.TestNet)
		if err != nil {
			log.Fatalf("failed to read exchange credentials from vault: %v", err)
		}
		apiKey, secretKey = creds.APIKey, creds.SecretKey
	}
	return binance.NewClient(apiKey, secretKey, cfg.ExchangeConfig.BaseURL)
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}
