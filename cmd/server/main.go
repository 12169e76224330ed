package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/certan-api/internal/artifact"
	"github.com/Brownie44l1/certan-api/internal/config"
	"github.com/Brownie44l1/certan-api/internal/handlers"
	"github.com/Brownie44l1/certan-api/internal/logging"
	"github.com/Brownie44l1/certan-api/internal/metrics"
	"github.com/Brownie44l1/certan-api/internal/model"
)

const serviceName = "certan-api"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := artifact.New(artifact.Config{
		URL:                cfg.ModelURL,
		Path:               cfg.ModelPath,
		Timeout:            cfg.DownloadTimeout,
		BreakerFailures:    cfg.BreakerFailures,
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
	})
	provider := model.NewProvider(fetcher, model.ONNXLoader(model.ONNXConfig{
		MetadataPath:      cfg.MetadataPath,
		SharedLibraryPath: cfg.SharedLibraryPath,
		PoolSize:          cfg.PoolSize,
		AcquireTimeout:    cfg.InferenceQueueTimeout,
	}))
	defer model.ShutdownEnvironment()
	defer provider.Close()

	m := metrics.New(serviceName)

	// Warm up so the first request does not pay for the download. A failure
	// here leaves the server up; /health reports model_loaded=false and the
	// next prediction tries again.
	if _, err := provider.Classifier(ctx); err != nil {
		logger.Error("model_warmup_failed", "path", cfg.ModelPath, "error", err)
	}
	m.SetModelLoaded(provider.Ready())

	handler := handlers.NewHandler(provider, m, cfg.MaxUploadBytes)
	router := handlers.NewRouter(handler, m, handlers.RouterConfig{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server_starting",
			"port", cfg.Port,
			"model_path", fetcher.Path(),
			"labels", model.Labels(),
			"endpoints", []string{"GET /health", "POST /predict", "POST /predict/image", "GET /metrics"},
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_shutdown_failed", "error", err)
	}
}
