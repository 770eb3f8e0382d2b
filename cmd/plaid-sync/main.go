package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/finboard/proxy-common/config"
	"github.com/finboard/proxy-common/httpclient"
	"github.com/finboard/proxy-common/logging"
	"github.com/finboard/proxy-common/plaid"
	"github.com/finboard/proxy-common/ratelimit"
	"github.com/finboard/proxy-common/retry/metrics"
	"github.com/finboard/proxy-common/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	base, err := logging.NewLogrusLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	logger := logging.NewLogrus(base)

	retryMetrics := metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace})
	limiters := ratelimit.NewRateLimiterManager(cfg.RateLimits)

	client, err := httpclient.NewHTTPClientWithRetries(
		httpclient.RetryOptions{
			Retry:             cfg.Policy(config.PolicyPlaid),
			LogPrefix:         "plaid",
			ConnectionTimeout: cfg.HTTP.ConnectionTimeout,
			RequestTimeout:    cfg.HTTP.RequestTimeout,
		},
		retryMetrics.StatusHandler("plaid"),
		limiters.ForRequest(),
		httpclient.WithLogger(logger.With("component", "httpclient")),
		httpclient.WithMetrics(retryMetrics),
		httpclient.WithUpstreamGate(limiters),
	)
	if err != nil {
		base.WithError(err).Fatal("Failed to create HTTP client")
	}

	svc := plaid.NewService(client, cfg.Plaid.BaseURL,
		plaid.WithLogger(logger.With("component", "plaid")),
		plaid.WithChunkSize(cfg.Plaid.ChunkSize),
	)

	sync := scheduler.New(cfg.Sync.Interval, func(ctx context.Context) error {
		result, err := svc.SyncTransactions(ctx)
		if err != nil {
			return err
		}
		base.WithFields(logrus.Fields{
			"added":    result.Added,
			"modified": result.Modified,
			"removed":  result.Removed,
		}).Info("Transactions synced")
		return nil
	},
		scheduler.WithLogger(logger.With("component", "scheduler")),
		scheduler.WithName("transactions-sync"),
		scheduler.WithRunImmediately(),
	)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			base.WithField("addr", cfg.Metrics.Addr).Info("Serving metrics")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				base.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base.WithFields(logrus.Fields{
		"base_url": cfg.Plaid.BaseURL,
		"interval": cfg.Sync.Interval,
	}).Info("Starting transactions sync")
	sync.Start()

	<-ctx.Done()
	base.Info("Shutting down")
	sync.Stop()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			base.WithError(err).Warn("Failed to stop metrics server")
		}
	}
}
