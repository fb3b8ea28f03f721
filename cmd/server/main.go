package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dunamismax/pixelserve/internal/api"
	"github.com/dunamismax/pixelserve/internal/config"
	"github.com/dunamismax/pixelserve/internal/pipeline"
	"github.com/dunamismax/pixelserve/internal/source"
	"github.com/dunamismax/pixelserve/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
		ServiceName:  "pixelserve",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatal("setup tracing", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", zap.Error(err))
		}
	}()

	if err := pipeline.Startup(pipeline.RuntimeConfig{
		CacheMemBytes: cfg.Pipeline.VipsCacheMB << 20,
		CacheItems:    cfg.Pipeline.VipsCacheItems,
	}); err != nil {
		logger.Fatal("start image runtime", zap.Error(err))
	}
	defer pipeline.Shutdown()

	store, err := source.NewObjectStore(source.ObjectStoreConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatal("create object store client", zap.Error(err))
	}

	origin, err := source.NewHTTPOrigin(cfg.Origin.BaseURL, cfg.Origin.Timeout)
	if err != nil {
		logger.Fatal("create origin client", zap.Error(err))
	}

	pl, err := pipeline.New(logger)
	if err != nil {
		logger.Fatal("create pipeline", zap.Error(err))
	}

	app := api.NewServer(logger, pl, store, origin)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}
