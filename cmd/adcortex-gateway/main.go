// Command adcortex-gateway exposes the ADCortex client over HTTP so chatbots
// written in other languages can queue messages and pick up ads.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/patrickwarner/adcortex-go/internal/analytics"
	"github.com/patrickwarner/adcortex-go/internal/api"
	"github.com/patrickwarner/adcortex-go/internal/config"
	"github.com/patrickwarner/adcortex-go/internal/db"
	"github.com/patrickwarner/adcortex-go/internal/geoip"
	"github.com/patrickwarner/adcortex-go/internal/observability"
	"github.com/patrickwarner/adcortex-go/pkg/client"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const janitorInterval = time.Minute

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("gateway error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.APIKey == "" {
		return fmt.Errorf("%s is not set", config.APIKeyEnv)
	}

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, observability.TracingConfig{
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.TempoEndpoint,
			SampleRate:  cfg.TracingSampleRate,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	var sessions db.SessionRepository = db.NewMemoryRepository()
	if cfg.PostgresDSN != "" {
		pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		defer pg.Close()
		sessions = pg
		logger.Info("Sessions stored in postgres")
	}

	var cadence client.CadenceStore
	if cfg.CadenceEnabled {
		if cfg.RedisAddr != "" {
			store, err := db.InitRedis(cfg.RedisAddr)
			if err != nil {
				return fmt.Errorf("failed to connect redis: %w", err)
			}
			defer store.Close()
			cadence = db.NewCadenceStore(store, 0)
		} else {
			cadence = client.NewMemoryCadenceStore()
		}
		logger.Info("Cadence enabled",
			zap.Int("before_first", cfg.CadenceBeforeFirst),
			zap.Int("between", cfg.CadenceBetween),
			zap.Bool("shared", cfg.RedisAddr != ""))
	}

	var analyticsSvc analytics.AnalyticsService
	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.CHMaxOpenConns, metricsRegistry)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer ch.Close()
		analyticsSvc = ch
	}

	var locator geoip.Locator
	if cfg.GeoIPDB != "" {
		geoSvc, err := geoip.Init(cfg.GeoIPDB)
		if err != nil {
			return fmt.Errorf("failed to load geoip db: %w", err)
		}
		defer func() { _ = geoSvc.Close() }()
		locator = geoSvc
	}

	opts := []client.Option{
		client.WithAPIKey(cfg.APIKey),
		client.WithBaseURL(cfg.BaseURL),
		client.WithTimeout(cfg.Timeout),
		client.WithMaxQueueSize(cfg.MaxQueueSize),
	}
	if cfg.ContextTemplate != "" {
		opts = append(opts, client.WithContextTemplate(cfg.ContextTemplate))
	}
	if cfg.StrictTemplate {
		opts = append(opts, client.WithStrictTemplate())
	}

	srvDeps := api.NewServer(logger, sessions, cadence, analyticsSvc, locator, metricsRegistry, cfg, opts...)
	r := srvDeps.Router()
	r.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(r, cfg.ServiceName),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("ADCortex gateway running", zap.String("addr", addr), zap.String("upstream", cfg.BaseURL))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	go srvDeps.RunJanitor(ctx, janitorInterval)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := srvDeps.Shutdown(shutdownCtx); err != nil {
		logger.Warn("clients did not close cleanly", zap.Error(err))
	}

	return nil
}
