package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-engine/internal/engine"
	"trading-engine/internal/gateway"
	"trading-engine/internal/logger"
	"trading-engine/internal/marketdata"
	"trading-engine/internal/orders"
	"trading-engine/internal/server"
	"trading-engine/internal/store"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	_ = godotenv.Load()
	cfg, err := store.LoadConfig("config.yaml")
	must(err)

	must(logger.Init())
	defer logger.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dependencies are hard requirements: sessions cannot trade without
	// price data, so an unreachable database or cache is fatal at boot.
	reader, err := marketdata.NewPostgresReader(ctx, cfg.DSN())
	must(err)
	defer reader.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	must(redisClient.Ping(ctx).Err())
	defer redisClient.Close()

	cache := marketdata.NewRedisCache(redisClient, cfg.CacheExpire())
	syncer := marketdata.NewSync(reader, cache)

	exec := gateway.New(
		gateway.WithBaseURL(cfg.Gateway.BaseURL),
		gateway.WithTimeout(time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second),
	)
	ledger := orders.NewLedger(exec, cfg.OrderTimeout())

	eng := engine.New(cache, syncer, ledger, engine.Config{
		TradingInterval: cfg.TradingInterval(),
		SyncInterval:    cfg.SyncInterval(),
		MaxSessions:     cfg.Engine.MaxSessions,
		StaleAfter:      cfg.SessionStaleAfter(),
	})
	eng.Start(ctx)

	srv := server.New(eng, syncer, cfg.Server.Port)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		logger.Info(ctx, "Shutdown signal received", "signal", sig.String())
	case err := <-errc:
		if err != nil {
			logger.ErrorWithErr(ctx, "Control server failed", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr(shutdownCtx, "Control server shutdown failed", err)
	}
	eng.Stop(shutdownCtx)
}
