package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"log/slog"

	"github.com/onboarding92/exchange-core/internal/config"
	"github.com/onboarding92/exchange-core/internal/engine"
	"github.com/onboarding92/exchange-core/internal/handlers"
	"github.com/onboarding92/exchange-core/internal/service"
	"github.com/onboarding92/exchange-core/internal/storage"
	"github.com/onboarding92/exchange-core/libs/health"
	"github.com/onboarding92/exchange-core/libs/httpmiddleware"
	"github.com/onboarding92/exchange-core/libs/kafka"
	"github.com/onboarding92/exchange-core/libs/logging"
	"github.com/onboarding92/exchange-core/libs/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	svcMetrics := service.NewMetrics()
	svcMetrics.Register(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := storage.NewStore(pool, logger)

	var producer kafka.Publisher
	if cfg.Kafka.Enabled() {
		kafkaMetrics := kafka.NewProducerMetrics(registry)
		syncProducer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer syncProducer.Close()
		producer = syncProducer
	} else {
		logger.Info("kafka disabled, events will not be published")
	}

	topics := service.Topics{
		OrdersAccepted:       cfg.Kafka.Topics.OrdersAccepted,
		OrdersCancelled:      cfg.Kafka.Topics.OrdersCancelled,
		TradesExecuted:       cfg.Kafka.Topics.TradesExecuted,
		WithdrawalsRequested: cfg.Kafka.Topics.WithdrawalsRequested,
		WithdrawalsDecided:   cfg.Kafka.Topics.WithdrawalsDecided,
	}

	eng := engine.NewEngine(&service.SnapshotAdapter{Store: store}, logger, svcMetrics)
	exchange := service.NewExchangeService(store, eng, producer, logger, svcMetrics, topics, cfg.MarketBuySlippageBps)
	withdrawals := service.NewWithdrawalService(store, cfg.Withdrawals, producer, logger, svcMetrics, topics)

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	loaded, err := exchange.LoadBooks(loadCtx)
	loadCancel()
	if err != nil {
		logger.Error("orderbook snapshot load failed", "error", err)
		os.Exit(1)
	}
	logger.Info("orderbooks loaded", "orders", loaded)

	httpServer := buildHTTPServer(cfg, ready, registry, logger, exchange, withdrawals)

	ready.SetReady(true)

	go func() {
		logger.Info("exchange http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func buildHTTPServer(cfg *config.Config, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger, exchange *service.ExchangeService, withdrawals *service.WithdrawalService) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	orderHandler := handlers.NewOrderHandler(exchange, logger)
	marketHandler := handlers.NewMarketHandler(exchange, logger)
	walletHandler := handlers.NewWalletHandler(exchange, withdrawals, logger)
	handlers.RegisterRoutes(router, orderHandler, marketHandler, walletHandler, []byte(cfg.JWTSecret))

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
