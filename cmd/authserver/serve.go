package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	oauth "github.com/giantswarm/mcp-authserver"
	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/config"
	"github.com/giantswarm/mcp-authserver/internal/logging"
)

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, flush, err := logging.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer flush()
	slog.SetDefault(logger)

	instConfig := instrumentation.Config{
		ServiceName:    cfg.Metrics.ServiceName,
		ServiceVersion: version,
		Enabled:        cfg.Metrics.Enabled,
	}
	if cfg.Metrics.Enabled {
		instConfig.MetricsExporter = "prometheus"
	}
	inst, err := instrumentation.New(instConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	authenticator, err := newAuthenticator(cfg.Auth, logger)
	if err != nil {
		return err
	}

	as, err := oauth.New(buildOptions(cfg, authenticator, inst, logger))
	if err != nil {
		return fmt.Errorf("failed to create authorization server: %w", err)
	}
	defer as.Close()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newHTTPHandler(cfg, as, inst, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Authorization server listening",
			"addr", cfg.Server.Addr,
			"issuer", cfg.Server.Issuer,
			"version", version,
			"auth_enabled", cfg.Auth.Enabled)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down authorization server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sweepPendingAuthorizations(gctx, as.Handler, cfg.Server.SweepInterval, logger)
		return nil
	})

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := inst.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("Failed to shut down instrumentation", "error", serr)
	}
	return err
}

// newHTTPHandler mounts the OAuth routes and, when enabled, the Prometheus endpoint
// behind otelhttp server instrumentation.
func newHTTPHandler(cfg *config.Config, as *oauth.AuthServer, inst *instrumentation.Instrumentation, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", as.Routes())

	if metrics := inst.MetricsHandler(); metrics != nil {
		mux.Handle(cfg.Metrics.Path, metrics)
		logger.Info("Prometheus metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	return otelhttp.NewHandler(mux, "authserver",
		otelhttp.WithTracerProvider(inst.TracerProvider()),
		otelhttp.WithMeterProvider(inst.MeterProvider()),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// sweepPendingAuthorizations drops abandoned login transactions until ctx is done.
// The store reclaims its own records on the same interval.
func sweepPendingAuthorizations(ctx context.Context, h *oauth.Handler, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.SweepPendingAuthorizations(); n > 0 {
				logger.Debug("Swept expired login transactions", "count", n)
			}
		}
	}
}
