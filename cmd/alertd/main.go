package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/obsidianstack/devicealert/internal/alerts"
	"github.com/obsidianstack/devicealert/internal/api"
	"github.com/obsidianstack/devicealert/internal/auth"
	"github.com/obsidianstack/devicealert/internal/bus"
	"github.com/obsidianstack/devicealert/internal/config"
	"github.com/obsidianstack/devicealert/internal/platform"
	"github.com/obsidianstack/devicealert/internal/receiver"
	"github.com/obsidianstack/devicealert/internal/scheduler"
	"github.com/obsidianstack/devicealert/internal/store"
	"github.com/obsidianstack/devicealert/internal/ws"
	"github.com/obsidianstack/devicealert/pkg/types"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	debug := flag.Bool("debug", os.Getenv("ALERTD_DEBUG") != "", "enable debug logging (or set ALERTD_DEBUG)")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("alertd starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	p := cfg.Processor
	slog.Info("config loaded",
		"grpc_port", p.GRPCPort,
		"http_port", p.HTTPPort,
		"auth_mode", p.Auth.Mode,
		"state_backend", p.State.Backend,
		"webhook_type", cfg.Alerts.Webhook.Type,
		"devices", len(p.Schedule.Devices),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	holder := config.NewHolder(cfg)
	go func() {
		err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			holder.Store(updated)
			slog.Info("config hot-reloaded",
				"devices", len(updated.Processor.Schedule.Devices),
				"thresholds", len(updated.Alerts.Thresholds.Rules),
			)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	st, err := store.Open(ctx, p.State)
	if err != nil {
		slog.Error("failed to open state store", "backend", p.State.Backend, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	history := alerts.NewHistory(0)
	hub := ws.New()
	go hub.Run(ctx)

	deps := alerts.Deps{
		Rules:         alerts.HolderRules(holder),
		Store:         st,
		Sink:          alerts.NewWebhookSink(&http.Client{}),
		LookupTimeout: p.LookupTimeout,
		Observers:     []alerts.Observer{history, hub},
	}
	if err := wirePlatform(&deps, p.Platform); err != nil {
		slog.Error("failed to configure platform client", "err", err)
		os.Exit(1)
	}

	engine, err := alerts.New(deps)
	if err != nil {
		slog.Error("failed to build alert engine", "err", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			slog.Debug("stopped", "component", name)
		}()
	}

	sched := scheduler.New(engine, func() ([]string, time.Duration) {
		s := holder.Load().Processor.Schedule
		return s.Devices, s.Interval
	})
	run("scheduler", func() { sched.Run(ctx) })

	guard := auth.New(p.Auth.Mode, p.Auth.EffectiveHeader(), p.Auth.Key())
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(guard.UnaryInterceptor()))
	types.RegisterEventServiceServer(grpcSrv, receiver.New(engine))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", p.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", p.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC receiver listening", "port", p.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	startBus(ctx, p.Bus, engine, run)

	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", p.HTTPPort),
		Handler: api.New(api.Deps{
			Engine:  engine,
			State:   st,
			History: history,
			Rules:   alerts.HolderRules(holder),
			Stream:  hub,
			Guard:   guard.Middleware,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", p.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("alertd shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	grpcSrv.GracefulStop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	wg.Wait()
}

// wirePlatform installs the device, connection and tag lookups. Without a
// base URL the lookups stay nil and the checks that need them are skipped.
func wirePlatform(d *alerts.Deps, cfg config.PlatformConfig) error {
	var client *platform.Client
	if cfg.BaseURL != "" {
		c, err := platform.New(cfg)
		if err != nil {
			return err
		}
		client = c
		d.Devices = c
		d.Connections = c
	} else {
		slog.Warn("platform base_url not set; device lookups disabled")
	}

	if cfg.Tags.Source == "prometheus" || client != nil {
		tags, err := platform.NewTagSource(cfg, client)
		if err != nil {
			return err
		}
		d.Tags = tags
	}
	return nil
}

func startBus(ctx context.Context, cfg config.BusConfig, engine bus.Engine, run func(string, func())) {
	if cfg.NATS.Enabled() {
		run("nats", func() {
			nc, err := bus.ConnectNATS(ctx, cfg.NATS)
			if err != nil {
				return
			}
			defer nc.Close()
			if err := bus.NewNATS(nc, cfg.NATS.SubjectPrefix, engine).Run(ctx); err != nil {
				slog.Error("nats subscriber stopped", "err", err)
			}
		})
	}
	if cfg.Kafka.Enabled() {
		run("kafka", func() {
			slog.Info("kafka consumer starting", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.GroupID)
			if err := bus.NewKafka(cfg.Kafka, engine).Run(ctx); err != nil {
				slog.Error("kafka consumer stopped", "err", err)
			}
		})
	}
}
