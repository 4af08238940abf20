package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/frontdesk/internal/buildinfo"
	"github.com/nugget/frontdesk/internal/config"
	"github.com/nugget/frontdesk/internal/connwatch"
	"github.com/nugget/frontdesk/internal/metrics"
	"github.com/nugget/frontdesk/internal/mqtt"
	"github.com/nugget/frontdesk/internal/transport"
)

const shutdownTimeout = 10 * time.Second

// runServe starts the conversation server and blocks until SIGINT or
// SIGTERM. Shutdown cancels every live conversation (reason "stopped"),
// drains the HTTP server, and publishes MQTT offline status.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger, _ := config.NewLogger(stdout, "info")
	logger.Info("starting frontdesk", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// Validate already checked the level.
	logger, _ = config.NewLogger(stdout, cfg.LogLevel)
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "model", cfg.LLM.Model)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()
	connMgr.Watch(gctx, connwatch.WatcherConfig{
		Name:    "llm",
		Probe:   connwatch.PingProbe(a.llm),
		Backoff: connwatch.DefaultBackoffConfig(),
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.NewHandler(a.pipeline, logger))
	mux.Handle("/healthz", healthHandler(connMgr))

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(a.bus, logger)
		mux.Handle(cfg.Metrics.Path, collector.Handler())
		g.Go(func() error { return collector.Run(gctx) })
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	if a.usage != nil {
		g.Go(func() error { return a.usage.Run(gctx, a.bus) })
	}

	var publisher *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		publisher = mqtt.New(cfg.MQTT, instanceID, a.bus, logger)
		g.Go(func() error { return publisher.Start(gctx) })
		connMgr.Watch(gctx, connwatch.WatcherConfig{
			Name:    "mqtt",
			Probe:   connwatch.AwaitProbe(publisher),
			Backoff: connwatch.DefaultBackoffConfig(),
		})
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.PublishIntervalSec,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// Conversations inherit gctx so shutdown reaches sockets that
		// http.Server.Shutdown does not track.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if publisher != nil {
			if err := publisher.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("frontdesk stopped")
	return nil
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status   string                    `json:"status"`
	Version  string                    `json:"version"`
	Uptime   string                    `json:"uptime"`
	Services []connwatch.ServiceStatus `json:"services"`
}

// healthHandler reports 200 when every watched service is ready and
// 503 otherwise.
func healthHandler(m *connwatch.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:   "ok",
			Version:  buildinfo.Version,
			Uptime:   buildinfo.Uptime().String(),
			Services: m.Status(),
		}
		code := http.StatusOK
		if !m.Ready() {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Debug("write health response", "error", err)
		}
	})
}
