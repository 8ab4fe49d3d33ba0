package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/machinefabric/extipc-go/bridge"
	"github.com/machinefabric/extipc-go/config"
	"github.com/machinefabric/extipc-go/gateway"
	"github.com/machinefabric/extipc-go/methods"
	"github.com/machinefabric/extipc-go/route"
)

const shutdownTimeout = 5 * time.Second

// daemon owns every long-lived component of a running server
type daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	gateway  *gateway.Server
	bridge   *bridge.Bridge
	links    *methods.LinkRouter
	window   *methods.Visibility
	browsers *methods.BrowserRegistry
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		window:   &methods.Visibility{},
		browsers: methods.NewBrowserRegistry(logger),
	}
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	apps, err := methods.NewStaticApps(cfg.Apps,
		methods.WithLaunchPrefix(cfg.Launch.Prefix...),
		methods.WithTerminal(cfg.Launch.Terminal...),
		methods.WithAppsLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	var host methods.ExtensionHost
	if !cfg.Host.Disabled && cfg.Host.Entrypoint == "" {
		logger.Warn("no extension host entrypoint configured, extensions will not work")
	}
	if !cfg.Host.Disabled && cfg.Host.Entrypoint != "" {
		d.bridge = bridge.New(cfg.BridgeConfig(version, commit),
			bridge.WithLogger(logger),
			bridge.WithMetrics(bridge.NewMetrics(d.registry)),
		)
		host = d.bridge
	}
	d.links = methods.NewLinkRouter(host, cfg.Extensions.Dir, logger)
	d.window.Verbs(d.links)
	d.window.OnChange(func(open bool) {
		logger.Info("launcher window visibility changed", "open", open, "query", d.window.Query())
	})
	d.browsers.OnChange(func() {
		logger.Debug("browser tabs changed", "tabs", len(d.browsers.Tabs()))
	})

	table := route.New()
	d.gateway = gateway.New(table,
		gateway.WithLogger(logger),
		gateway.WithMetrics(gateway.NewMetrics(d.registry)),
		gateway.WithLimits(cfg.Limits()),
		gateway.OnDisconnect(func(s *gateway.Session) {
			if n := d.browsers.Disconnected(s.ID()); n > 0 {
				logger.Info("browser integration disconnected", "session", s.ID(), "browsers", n)
			}
		}),
	)

	deps := methods.Deps{
		Version:  version,
		Apps:     apps,
		Links:    d.links,
		Browsers: d.browsers,
		Pusher:   d.gateway,
	}
	if len(cfg.Menu.Command) > 0 {
		deps.Menu = &methods.CommandMenu{Command: cfg.Menu.Command, Logger: logger}
	}
	methods.Register(table, deps)
	return d, nil
}

// run serves until ctx ends or a component fails
func (d *daemon) run(ctx context.Context) error {
	if err := d.gateway.Listen(d.cfg.Socket.Path); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.gateway.Serve(ctx)
	})

	if d.bridge != nil {
		// A host that fails to start is logged by the bridge. The gateway
		// keeps serving without extensions.
		_ = d.bridge.Start(ctx)
		g.Go(func() error {
			d.drainHost(ctx)
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return d.bridge.Stop(stopCtx)
		})
	}

	if d.cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              d.cfg.Metrics.Addr,
			Handler:           d.metricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	d.logger.Info("server started", "socket", d.gateway.Addr(), "version", version, "extensions", d.bridge != nil)
	err := g.Wait()
	d.logger.Info("server stopped")
	return err
}

func (d *daemon) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	return mux
}

// drainHost answers extension requests nothing here can serve and logs the
// host's events until ctx ends
func (d *daemon) drainHost(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.bridge.Requests():
			d.logger.Debug("unhandled extension request", "session", req.SessionID, "request", req.RequestID)
			if err := req.Close(); err != nil {
				d.logger.Warn("failed to answer extension request", "session", req.SessionID, "error", err)
			}
		case ev := <-d.bridge.Events():
			if ev.EventID == bridge.EventCrash {
				d.logger.Warn("extension crashed", "session", ev.SessionID)
				continue
			}
			d.logger.Debug("extension event", "session", ev.SessionID, "event", ev.EventID)
		}
	}
}
