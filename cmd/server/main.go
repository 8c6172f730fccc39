package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelmarket/proxy-api/cmd"
	"github.com/modelmarket/proxy-api/internal/auth"
	"github.com/modelmarket/proxy-api/internal/config"
	"github.com/modelmarket/proxy-api/internal/ledger"
	"github.com/modelmarket/proxy-api/internal/platform/logger"
	"github.com/modelmarket/proxy-api/internal/platform/otel"
	"github.com/modelmarket/proxy-api/internal/proxy"
	"github.com/modelmarket/proxy-api/internal/quota"
	"github.com/modelmarket/proxy-api/internal/registry"
	"github.com/modelmarket/proxy-api/internal/secrets"
	"github.com/modelmarket/proxy-api/internal/server"
	"github.com/modelmarket/proxy-api/internal/store/cache"
	"github.com/modelmarket/proxy-api/internal/store/sqlite"
	"github.com/modelmarket/proxy-api/internal/usage"
	"go.uber.org/zap"
)

func main() {
	cmd.CheckForUpdates()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger.Initialize(logger.DefaultConfig())
	defer logger.Sync()
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := otel.InitTracer("proxy-api", log, os.Stdout)
		if err != nil {
			log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			_ = shutdown(context.Background())
		}()
	}

	repo, err := sqlite.New(cfg.Database.DSN, log)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer func() {
		_ = repo.Close()
	}()

	if cfg.Security.EncryptionKey == "" {
		log.Fatal("security.encryption_key is required")
	}
	enc, err := secrets.NewFromBase64(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatal("Invalid encryption key", zap.Error(err))
	}

	var cacheSvc cache.CacheService
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer func() {
			_ = redisCache.Close()
		}()
		cacheSvc = redisCache
		log.Info("Using redis auth cache", zap.String("addr", cfg.Redis.Addr))
	} else {
		cacheSvc = cache.NewMemoryCache()
	}

	gate := auth.NewGate(repo, cacheSvc, log)
	registrySvc := registry.NewService(repo, enc, log)
	ledgerSvc := ledger.NewService(repo, log)
	quotaTracker := quota.NewTracker(repo, log)

	ingestor := usage.NewIngestor(log, repo)
	ingestor.Start(ctx)
	defer ingestor.Stop()

	streamTimeout := time.Duration(cfg.Upstream.StreamTimeoutSeconds) * time.Second
	upstreamClient := &http.Client{Timeout: streamTimeout}

	proxySvc := proxy.New(
		registrySvc,
		ledgerSvc,
		quotaTracker,
		ingestor,
		upstreamClient,
		log,
		cfg.Billing.MinBalance,
		proxy.Timeouts{
			Buffered: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			Stream:   streamTimeout,
		},
	)

	srv := server.New(cfg, log, server.Deps{
		Gate:     gate,
		Proxy:    proxySvc,
		Registry: registrySvc,
		Ledger:   ledgerSvc,
		Repo:     repo,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.Handler(),
	}

	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port), zap.String("env", cfg.Server.Env))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}
