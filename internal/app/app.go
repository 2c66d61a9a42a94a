package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cryptomart/internal/authorization/jwt"
	"cryptomart/internal/config"
	"cryptomart/internal/handlers"
	"cryptomart/internal/ledger"
	"cryptomart/internal/logger"
	"cryptomart/internal/middlewares"
	"cryptomart/internal/prices"
	"cryptomart/internal/processor"
	"cryptomart/internal/storage"
	"cryptomart/internal/storage/memory"
	"cryptomart/internal/storage/postgresql"
)

type App struct {
	config  config.Config
	storage storage.Storage
}

// NewApp creates a new App instance with the given config
func NewApp(cfg config.Config) *App {
	return &App{config: cfg}
}

// Start App
func (a *App) Start(ctx context.Context) error {
	logger.LoggerInit(a.config.LogLevel)
	logger.Log.Info("Starting application",
		zap.String("run_address", a.config.RunAddress),
		zap.String("processor_address", a.config.ProcessorAddress),
		zap.String("log_level", a.config.LogLevel),
		zap.String("coins_per_usd", a.config.CoinsPerUSD),
		zap.Int("starting_coins", a.config.StartingCoins),
		zap.Int64("min_coins", a.config.MinCoins),
		zap.Int64("max_coins", a.config.MaxCoins),
		zap.String("default_crypto", a.config.DefaultCrypto),
		zap.Int("payment_ttl_minutes", a.config.PaymentTTLMinutes),
		zap.Bool("mock_mode", a.config.MockMode),
	)

	var proc processor.Processor
	if a.config.MockMode {
		a.storage = memory.NewMemStorage()
		proc = processor.NewStub(a.config.MockPrice())
	} else {
		a.storage = postgresql.NewPsqlStorage(a.config.DatabaseURI)
		proc = processor.NewHTTPClient(a.config.ProcessorAddress, a.config.ProcessorRetries)
	}

	err := a.storage.InitStorage(ctx)
	if err != nil {
		return err
	}

	var cache *redis.Client
	if a.config.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: a.config.RedisAddr})
		logger.Log.Info("price cache enabled", zap.String("redis_addr", a.config.RedisAddr))
	}
	priceSource := prices.NewSource(proc, cache, time.Duration(a.config.PriceCacheTTLSeconds)*time.Second)

	ledgerService := ledger.NewService(a.storage, proc, priceSource, ledger.Params{
		Rate:          a.config.Rate(),
		MinCoins:      a.config.MinCoins,
		MaxCoins:      a.config.MaxCoins,
		DefaultCrypto: a.config.DefaultCrypto,
		PaymentTTL:    time.Duration(a.config.PaymentTTLMinutes) * time.Minute,
		SweepInterval: time.Duration(a.config.ExpirySweepSeconds) * time.Second,
		SweepBatch:    a.config.ExpiryBatch,
	})

	authorizer := jwt.NewJwtTokenizer(a.config.TokenKey, time.Duration(a.config.TokenTTLHours)*time.Hour)
	limiter := middlewares.NewRateLimiter(a.config.WebhookRPS, a.config.WebhookBurst, 3*time.Minute)
	router := handlers.NewHTTPRouter(a.storage, ledgerService, authorizer, decimal.NewFromInt(int64(a.config.StartingCoins)), limiter)
	router.RouterInit()
	server := router.Server(a.config.RunAddress)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.Info("Http Router starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ledgerService.RunExpirySweeper(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) Stop(cancel context.CancelFunc) {
	logger.Log.Debug("Syncing logger")
	logger.Log.Sync()
	if a.storage != nil {
		a.storage.DbClose()
	}
	cancel()
	//wait for logging from workers
	time.Sleep(time.Second * 1)
}
