package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/relay/internal/config"
	"github.com/memohai/relay/internal/handlers"
	"github.com/memohai/relay/internal/healthcheck"
	networkchecker "github.com/memohai/relay/internal/healthcheck/checkers/network"
	prefetchchecker "github.com/memohai/relay/internal/healthcheck/checkers/prefetch"
	pushchecker "github.com/memohai/relay/internal/healthcheck/checkers/push"
	"github.com/memohai/relay/internal/logger"
	"github.com/memohai/relay/internal/message/event"
	"github.com/memohai/relay/internal/metrics"
	"github.com/memohai/relay/internal/network"
	"github.com/memohai/relay/internal/notify"
	"github.com/memohai/relay/internal/preview"
	"github.com/memohai/relay/internal/router"
	"github.com/memohai/relay/internal/server"
	"github.com/memohai/relay/internal/version"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideMetrics,
			event.NewHub,
			providePreviewPool,
			provideGatewayPusher,
			provideDestinations,
			provideDispatcher,
			provideNetworks,
			provideRouterManager,
			provideHealthChecker,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideEventsHandler),
			provideServerHandler(provideNetworksHandler),
			provideServerHandler(provideStreamHandler),
			provideServerHandler(handlers.NewHealthHandler),
			provideServerHandler(handlers.NewMetricsHandler),
			provideServerHandler(provideAuthHandler),
			provideServer,
		),
		fx.Invoke(
			registerGauges,
			startPreviewPool,
			startRouterManager,
			startDispatcher,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	return loadConfig()
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideMetrics() *metrics.Metrics { return metrics.New(metrics.DefaultNamespace) }

func providePreviewPool(log *slog.Logger, cfg config.Config) *preview.Pool {
	svc := preview.NewService(log, preview.Options{
		Enabled:       cfg.Prefetch.Enabled,
		MaxImageBytes: cfg.Prefetch.MaxImageBytes(),
		UserAgent:     cfg.Prefetch.UserAgent,
		FetchTimeout:  cfg.Prefetch.JobTimeout(),
	})
	return preview.NewPool(log, svc, preview.PoolOptions{
		Workers:    cfg.Prefetch.Workers,
		QueueSize:  cfg.Prefetch.QueueSize,
		JobTimeout: cfg.Prefetch.JobTimeout(),
	})
}

func provideGatewayPusher(log *slog.Logger, cfg config.Config) *notify.GatewayPusher {
	return notify.NewGatewayPusher(log, &http.Client{Timeout: cfg.Push.Timeout()}, notify.BreakerOptions{
		Failures:    cfg.Push.BreakerFailures,
		OpenTimeout: cfg.Push.BreakerTimeout(),
	})
}

func provideDestinations(cfg config.Config) notify.StaticDestinations {
	dests := notify.StaticDestinations{}
	for _, u := range cfg.Users {
		for _, target := range u.Push {
			dests[u.Name] = append(dests[u.Name], notify.Destination{
				ID:       target.ID,
				Endpoint: strings.TrimSpace(target.Endpoint),
				Token:    target.Token,
			})
		}
	}
	return dests
}

func provideDispatcher(log *slog.Logger, cfg config.Config, dests notify.StaticDestinations, hub *event.Hub, pusher *notify.GatewayPusher, m *metrics.Metrics) *notify.Dispatcher {
	return notify.NewDispatcher(log, dests, hub, pusher, m, cfg.Push.Timeout())
}

func provideNetworks(cfg config.Config) []*network.Network {
	var out []*network.Network
	for _, u := range cfg.Users {
		for _, nc := range u.Networks {
			out = append(out, network.New(network.Options{
				Owner:      u.Name,
				Name:       nc.Name,
				Host:       nc.Host,
				Nick:       nc.Nick,
				Highlights: u.Highlights,
				Channels:   nc.Channels,
				MaxHistory: cfg.History.MaxMessages,
			}))
		}
	}
	return out
}

func provideRouterManager(log *slog.Logger, networks []*network.Network, hub *event.Hub, dispatcher *notify.Dispatcher, pool *preview.Pool, m *metrics.Metrics) *router.Manager {
	return router.NewManager(log, networks, hub, dispatcher, pool, m)
}

func provideHealthChecker(log *slog.Logger, manager *router.Manager, pool *preview.Pool, pusher *notify.GatewayPusher, dests notify.StaticDestinations) healthcheck.Checker {
	return healthcheck.NewAggregator(
		networkchecker.NewChecker(log, manager),
		prefetchchecker.NewChecker(log, pool),
		pushchecker.NewChecker(log, pusher, dests),
	)
}

func providePingHandler(log *slog.Logger, hub *event.Hub) *handlers.PingHandler {
	return handlers.NewPingHandler(log, hub)
}

func provideEventsHandler(log *slog.Logger, cfg config.Config, manager *router.Manager) *handlers.EventsHandler {
	return handlers.NewEventsHandler(log, manager, cfg.Ingest.RatePerSecond, cfg.Ingest.Burst)
}

func provideNetworksHandler(log *slog.Logger, manager *router.Manager) *handlers.NetworksHandler {
	return handlers.NewNetworksHandler(log, manager)
}

func provideStreamHandler(log *slog.Logger, cfg config.Config, hub *event.Hub, manager *router.Manager) *handlers.StreamHandler {
	return handlers.NewStreamHandler(log, hub, manager, cfg.Server.AllowedOrigins)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config) (*handlers.AuthHandler, error) {
	ttl, err := cfg.Auth.ExpiresIn()
	if err != nil {
		return nil, err
	}
	return handlers.NewAuthHandler(log, cfg.Auth.JWTSecret, ttl), nil
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	addr := params.Config.Server.Addr
	if strings.TrimSpace(addr) == "" {
		addr = config.DefaultHTTPAddr
	}
	return server.NewServer(params.Logger, addr, params.Config.Auth.JWTSecret, params.ServerHandlers...)
}

func registerGauges(m *metrics.Metrics, pool *preview.Pool, manager *router.Manager) {
	m.GaugeFunc("preview_queue_depth", "Preview jobs waiting for a worker.", func() float64 {
		return float64(pool.Depth())
	})
	m.GaugeFunc("preview_inflight", "Preview jobs currently being fetched.", func() float64 {
		return float64(pool.Inflight())
	})
	m.GaugeFunc("router_backlog", "Events queued across network routers.", func() float64 {
		return float64(manager.Backlog())
	})
}

func startPreviewPool(lc fx.Lifecycle, pool *preview.Pool) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { pool.Start(ctx); return nil },
		OnStop:  func(_ context.Context) error { cancel(); pool.Wait(); return nil },
	})
}

func startRouterManager(lc fx.Lifecycle, manager *router.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { manager.Start(ctx); return nil },
		OnStop:  func(_ context.Context) error { cancel(); return nil },
	})
}

func startDispatcher(lc fx.Lifecycle, dispatcher *notify.Dispatcher) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error { dispatcher.Wait(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, networks []*network.Network) {
	fmt.Printf("Starting relay %s\n", version.GetInfo())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("relay networks loaded", slog.Int("networks", len(networks)))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
