package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"service-gateway/internal/client"
	"service-gateway/internal/config"
	"service-gateway/internal/handler"
	"service-gateway/internal/metrics"
	"service-gateway/internal/middleware"
	"service-gateway/internal/registry"
	"service-gateway/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("service-gateway"),
		kong.Description("Path-prefix API gateway in front of the users, orders and payments services."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			registry.FromConfig,
			newUpstreamClient,
			service.NewForwarder,
			handler.NewGatewayHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			logRoutingTable,
			handler.RegisterMetrics,
			handler.RegisterRoutes,
			warnConfigPermissions,
			startServer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	// Must outlast the upstream timeout so a slow backend still yields a 504
	// instead of a dropped connection.
	e.Server.WriteTimeout = time.Duration(cfg.Upstream.TimeoutSeconds+15) * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	return e
}

// newUpstreamClient builds the shared outbound client and releases its pool
// on shutdown. Its hook is registered before the server's, so fx stops the
// server (draining in-flight requests) first.
func newUpstreamClient(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *client.UpstreamClient {
	uc := client.NewUpstreamClient(cfg, logger, m)
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			uc.Close()
			return nil
		},
	})
	return uc
}

func logRoutingTable(reg *registry.Registry, uc *client.UpstreamClient, logger *slog.Logger) {
	for _, t := range reg.Targets() {
		logger.Info("backend registered",
			"backend", t.Name,
			"prefix", t.Prefix,
			"base_url", t.BaseURL,
			"methods", t.Methods,
		)
	}
	logger.Info("upstream client ready", "timeout", uc.Timeout().String())
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting gateway", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down gateway")
			return e.Shutdown(ctx)
		},
	})
}
