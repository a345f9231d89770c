package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/tradecore/internal/config"
	"github.com/tradecore/internal/engine"
	"github.com/tradecore/internal/exchange"
	"github.com/tradecore/internal/exchange/binance"
	"github.com/tradecore/internal/handler"
	"github.com/tradecore/internal/middleware"
	"github.com/tradecore/internal/models"
	"github.com/tradecore/internal/pricefeed"
	"github.com/tradecore/internal/risk"
	"github.com/tradecore/internal/scheduler"
	"github.com/tradecore/internal/store"
	"github.com/tradecore/internal/strategy"
	"github.com/tradecore/internal/strategy/builtins"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Build info (injected at build time via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	backtest := flag.Bool("backtest", false, "run a backtest instead of live trading")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Server.Mode)
	defer logger.Sync()

	logger.Info("tradecore starting",
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("build_time", BuildTime),
		zap.Bool("backtest", *backtest))

	if *backtest {
		if err := runBacktest(cfg, logger); err != nil {
			logger.Fatal("backtest failed", zap.Error(err))
		}
		return
	}
	if err := runLive(cfg, logger); err != nil {
		logger.Fatal("live run failed", zap.Error(err))
	}
}

func newLogger(mode string) *zap.Logger {
	if mode == "release" {
		logger, err := zap.NewProduction()
		if err != nil {
			log.Fatalf("Failed to build logger: %v", err)
		}
		return logger
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	return logger
}

// runBacktest replays the configured window against parquet bar files on
// an in-memory ledger.
func runBacktest(cfg *config.Config, logger *zap.Logger) error {
	start, end, err := cfg.Backtest.Window()
	if err != nil {
		return err
	}
	step, err := pricefeed.ParseTimeFrame(cfg.Backtest.TimeFrame)
	if err != nil {
		return err
	}

	feed := pricefeed.NewHistoryFeed(cfg.Backtest.DataDir)
	ledger := store.NewMemoryStore()
	eng := engine.New(ledger, nil, logger)

	portfolio, err := eng.CreatePortfolio(
		cfg.Trading.PortfolioIdentifier,
		cfg.Trading.Market,
		cfg.Trading.TradingSymbol,
		cfg.Trading.InitialBalance,
	)
	if err != nil {
		return err
	}

	sched := scheduler.New(
		eng,
		buildRegistry(cfg),
		feed,
		risk.NewBacktestEvaluator(eng, logger),
		scheduler.NewSimulatedClock(start),
		logger,
		scheduler.Config{
			PortfolioID:    portfolio.ID,
			SnapshotDaily:  cfg.Trading.SnapshotDaily,
			RiskTimeFrame:  cfg.Backtest.TimeFrame,
			RiskWindowSize: cfg.Trading.RiskWindowSize,
		},
	)

	if err := sched.RunBacktest(context.Background(), start, end, step); err != nil {
		return err
	}

	final, err := ledger.GetPortfolio(portfolio.ID)
	if err != nil {
		return err
	}
	logger.Info("backtest finished",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Float64("initial_balance", final.InitialBalance),
		zap.Float64("unallocated", final.Unallocated),
		zap.Float64("total_net_gain", final.TotalNetGain),
		zap.Float64("total_trade_volume", final.TotalTradeVolume))
	return nil
}

// runLive wires the SQL ledger, redis-backed ticker feed, the selected
// gateway, the scheduler and the operational API, then blocks until a
// shutdown signal.
func runLive(cfg *config.Config, logger *zap.Logger) error {
	db, err := initDatabase(cfg)
	if err != nil {
		return fmt.Errorf("database init: %w", err)
	}
	ledger := store.NewSQLStore(db)
	if err := ledger.AutoMigrate(); err != nil {
		return fmt.Errorf("migration: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := pricefeed.NewTickerFeed(rdb, logger)
	if err := feed.Connect(ctx); err != nil {
		return fmt.Errorf("ticker feed: %w", err)
	}
	defer feed.Close()

	symbols := make([]string, 0, len(cfg.Trading.Weights))
	for symbol := range cfg.Trading.Weights {
		symbols = append(symbols, symbol)
	}
	if len(symbols) > 0 {
		if err := feed.Subscribe(symbols); err != nil {
			return fmt.Errorf("ticker subscribe: %w", err)
		}
	}

	gateway, err := buildGateway(cfg, feed, logger)
	if err != nil {
		return err
	}

	eng := engine.New(ledger, gateway, logger)
	portfolio, err := loadPortfolio(eng, cfg)
	if err != nil {
		return err
	}

	sched := scheduler.New(
		eng,
		buildRegistry(cfg),
		feed,
		risk.NewLiveEvaluator(eng, logger),
		scheduler.WallClock{},
		logger,
		scheduler.Config{
			PortfolioID:    portfolio.ID,
			TickInterval:   cfg.Trading.TickInterval(),
			SnapshotDaily:  cfg.Trading.SnapshotDaily,
			RiskTimeFrame:  cfg.Trading.RiskTimeFrame,
			RiskWindowSize: cfg.Trading.RiskWindowSize,
		},
	)
	go sched.Start(ctx)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())

	auth := middleware.NewAuthenticator(
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.ExpireHours)*time.Hour,
		cfg.Auth.AdminTokenHash,
	)
	handler.New(ledger, auth, logger).RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		logger.Info("api listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		logger.Error("redis close failed", zap.Error(err))
	}
	logger.Info("stopped")
	return nil
}

// buildRegistry registers the configured strategies.
func buildRegistry(cfg *config.Config) *strategy.Registry {
	registry := strategy.NewRegistry()
	if len(cfg.Trading.Weights) > 0 {
		registry.Register(builtins.NewRebalance(
			strategy.UnitMinute,
			cfg.Trading.StrategyIntervalMinutes,
			cfg.Trading.StrategyTimeFrame,
			cfg.Trading.Weights,
			cfg.Trading.MinOrderNotional,
		))
	}
	return registry
}

// buildGateway selects the venue: a paper venue priced from the live
// feed, or the binance futures REST API.
func buildGateway(cfg *config.Config, feed *pricefeed.TickerFeed, logger *zap.Logger) (exchange.Gateway, error) {
	switch cfg.Gateway.Mode {
	case "paper":
		price := func(ctx context.Context, symbol string) (float64, error) {
			quote, err := feed.GetLatest(ctx, symbol)
			if err != nil {
				return 0, err
			}
			return quote.Last, nil
		}
		balances := map[string]float64{cfg.Trading.TradingSymbol: cfg.Trading.InitialBalance}
		return exchange.NewPaperGateway(price, balances, logger), nil
	case "binance":
		client := binance.NewClient(cfg.Gateway.APIKey, cfg.Gateway.APISecret, logger)
		if cfg.Gateway.BaseURL != "" {
			client.SetBaseURL(cfg.Gateway.BaseURL)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown gateway mode %q", cfg.Gateway.Mode)
	}
}

// loadPortfolio resumes the configured portfolio or creates it on first
// start.
func loadPortfolio(eng *engine.Engine, cfg *config.Config) (*models.Portfolio, error) {
	p, err := eng.Ledger().GetPortfolioByIdentifier(cfg.Trading.PortfolioIdentifier)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrPortfolioNotFound) {
		return nil, err
	}
	return eng.CreatePortfolio(
		cfg.Trading.PortfolioIdentifier,
		cfg.Trading.Market,
		cfg.Trading.TradingSymbol,
		cfg.Trading.InitialBalance,
	)
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	logMode := gormlogger.Default.LogMode(gormlogger.Warn)
	if cfg.Server.Mode != "release" {
		logMode = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{Logger: logMode})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}
