package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"

	"github.com/spf13/cobra"

	"quadbot/config"
	"quadbot/internal/adapters/binanceclient"
	"quadbot/internal/adapters/logger"
	"quadbot/internal/adapters/sqlite"
	"quadbot/internal/adapters/telegram"
	"quadbot/internal/app"
	"quadbot/internal/backtest"
	"quadbot/internal/ports"
	"quadbot/internal/signal"
)

// maxCandleFetch is the exchange's per-request kline limit.
const maxCandleFetch = 1500

func main() {
	root := &cobra.Command{
		Use:           "quadbot",
		Short:         "Multi-voter futures trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newBacktestCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the live trading loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			runBot()
			return nil
		},
	}
}

func runBot() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := buildLogger(cfg)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Journal (Database Adapter)
	repo, err := sqlite.New(cfg.DBPath, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trade journal")
		log.Fatalf("FATAL: Failed to initialize trade journal: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing trade journal")
		}
	}()
	appLogger.Info(context.Background(), "Trade journal initialized", map[string]interface{}{"path": cfg.DBPath})

	// 4. Initialize Exchange Client (Binance Adapter)
	exchange, err := binanceclient.New(binanceclient.Config{
		APIKey:           cfg.APIKey,
		SecretKey:        cfg.SecretKey,
		UseTestnet:       cfg.IsTestnet,
		Logger:           appLogger,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
		RetryBaseDelay:   cfg.RetryBaseDelay,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Notifier
	notifier := telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID, appLogger)

	// 6. Initialize Application Service
	service, err := app.NewService(cfg, appLogger, exchange, repo, repo, notifier)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}
	appLogger.Info(context.Background(), "Trading service initialized")

	// 7. Start the Service
	if err := service.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}

func newBacktestCmd() *cobra.Command {
	var paramsPath string

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay historical candles through the live signal engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd.Context(), paramsPath)
		},
	}
	cmd.Flags().StringVarP(&paramsPath, "params", "p", "backtest.yaml", "Backtest parameter file (YAML)")
	return cmd
}

func runBacktest(ctx context.Context, paramsPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// 1. Load backtest parameters
	params, err := backtest.LoadParams(paramsPath)
	if err != nil {
		return err
	}

	// 2. Load app configuration for API keys and logging
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	appLogger := buildLogger(cfg)

	// 3. Fetch candle history from the exchange
	exchange, err := binanceclient.New(binanceclient.Config{
		APIKey:           cfg.APIKey,
		SecretKey:        cfg.SecretKey,
		UseTestnet:       cfg.IsTestnet,
		Logger:           appLogger,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
		RetryBaseDelay:   cfg.RetryBaseDelay,
	})
	if err != nil {
		return fmt.Errorf("initializing Binance client: %w", err)
	}

	limit := candleLimitForDays(params.Days, params.Interval)
	candles, err := exchange.GetCandles(ctx, params.Symbol, params.Interval, limit)
	if err != nil {
		return fmt.Errorf("fetching candles for %s %s: %w", params.Symbol, params.Interval, err)
	}
	if n := len(candles); n > 0 && !candles[n-1].IsFinal {
		candles = candles[:n-1]
	}
	appLogger.Info(ctx, "Fetched candle history", map[string]interface{}{
		"symbol": params.Symbol, "interval": params.Interval, "candles": len(candles)})

	// 4. Run the backtest with the live signal engine as the strategy
	strategy := signal.NewEngine(params.SignalThresholds())
	engine := backtest.New(params.EngineConfig(), strategy, params.IndicatorParams())
	result, err := engine.Run(ctx, candles)
	if err != nil {
		return err
	}

	fmt.Printf("Backtest %s %s (%d candles)\n", params.Symbol, params.Interval, len(candles))
	fmt.Print(result.Report.String())
	return nil
}

// candleLimitForDays converts a day span into a candle count, clamped to
// the exchange's single-request limit.
func candleLimitForDays(days int, interval string) int {
	perDay := 24
	switch interval {
	case "5m":
		perDay = 288
	case "15m":
		perDay = 96
	case "30m":
		perDay = 48
	case "1h":
		perDay = 24
	case "4h":
		perDay = 6
	case "1d":
		perDay = 1
	}
	limit := days * perDay
	if limit > maxCandleFetch {
		limit = maxCandleFetch
	}
	if limit < maxCandleFetch/2 {
		// Leave warm-up room for the indicator lookback.
		limit += 200
	}
	return limit
}

func buildLogger(cfg *config.Config) ports.Logger {
	if cfg.LogFile != "" {
		return logger.NewFileLogger(cfg.LogLevel, cfg.LogFile)
	}
	return logger.NewStdLogger(cfg.LogLevel)
}
