// cmd/inventoryd/main.go

// Package main is the entry point for the farmledger inventory service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"farmledger/internal/config"
	"farmledger/internal/crops"
	"farmledger/internal/harvest"
	"farmledger/internal/ledger"
	"farmledger/internal/orders"
	"farmledger/internal/pkg/logger"
	"farmledger/internal/schema"
	"farmledger/internal/stockcache"
	"farmledger/pkg/auditlog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting farmledger",
		zap.Int("port", cfg.Server.Port),
		zap.Int("low_stock_threshold", cfg.Stock.LowStockThreshold),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	logger.Info("connected to postgres")

	if cfg.Database.AutoMigrate {
		if err := schema.Apply(ctx, db); err != nil {
			return err
		}
	}

	// The cache is advisory: without Redis the service still serves reads
	// from Postgres, only request deduplication is disabled.
	var cache *stockcache.Cache
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, stock cache disabled", zap.Error(err))
		rdb.Close()
		rdb = nil
	} else {
		cache = stockcache.New(rdb)
		logger.Info("connected to redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	stockCfg := cfg.Stock
	led := ledger.New(stockCfg.LowStockThreshold, logger.L())
	audit := auditlog.NewRecorder()
	registry := crops.NewRegistry()

	// A nil *stockcache.Cache must stay a nil interface for the services.
	var ledgerCache ledger.Cache
	var idem orders.IdempotencyStore
	if cache != nil {
		ledgerCache = cache
		idem = cache
	}

	orderSvc := orders.NewService(db, led, audit, ledgerCache, orders.Config{
		LockTimeout: stockCfg.LockTimeout,
		MaxRetries:  stockCfg.MaxRetries,
	}, logger.L())
	harvestSvc := harvest.NewService(db, led, registry, ledgerCache, harvest.Config{
		LockTimeout: stockCfg.LockTimeout,
		MaxRetries:  stockCfg.MaxRetries,
	}, logger.L())

	orderHandler := orders.NewHandler(orderSvc, idem, logger.L())
	harvestHandler := harvest.NewHandler(harvestSvc, logger.L())
	inventoryHandler := ledger.NewHandler(db, ledgerCache, logger.L())

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	router.Route("/api/v1", func(r chi.Router) {
		orderHandler.RegisterRoutes(r)
		harvestHandler.RegisterRoutes(r)
		inventoryHandler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("server started", zap.String("addr", srv.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
