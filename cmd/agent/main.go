// Package main runs the background sync agent. Foreground windows connect to
// it over WebSocket on localhost:8090.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kimhsiao/teamsync/agent/internal/api"
	"github.com/kimhsiao/teamsync/agent/internal/bridge"
	"github.com/kimhsiao/teamsync/agent/internal/command"
	"github.com/kimhsiao/teamsync/agent/internal/config"
	"github.com/kimhsiao/teamsync/agent/internal/db"
	"github.com/kimhsiao/teamsync/agent/internal/logging"
	syncpkg "github.com/kimhsiao/teamsync/agent/internal/sync"
	"github.com/kimhsiao/teamsync/agent/internal/sync/scheduler"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("TEAMSYNC_CONFIG"), "path to a YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init(os.Stdout, logging.LevelInfo)
		logging.Error("Failed to load config", err)
		os.Exit(1)
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.Log.Level))

	a := newAgent(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logging.Error("Agent stopped with error", err)
		os.Exit(1)
	}
}

// agent wires the queue, bridge, engine, scheduler and HTTP surface.
type agent struct {
	cfg       *config.Config
	store     *db.QueueStore
	hub       *bridge.Hub
	engine    *syncpkg.Engine
	scheduler *scheduler.Scheduler
	server    *http.Server
}

func newAgent(cfg *config.Config) *agent {
	store := db.NewQueueStore(cfg.Store.DataDir)
	hub := bridge.NewHub(cfg.Bridge.AuthTokenTimeout)

	replayer := syncpkg.NewHTTPReplayer(cfg.API.BaseURL, cfg.API.RequestTimeout, cfg.API.RateLimit)
	engine := syncpkg.NewEngine(store, hub, replayer)

	prober := scheduler.NewHTTPProber(cfg.API.BaseURL, cfg.API.RequestTimeout)
	sched := scheduler.NewScheduler(engine, prober, &scheduler.SchedulerConfig{
		ProbeInterval: cfg.Scheduler.ProbeInterval,
	})

	commands := command.NewHandler(sched, cfg.Scheduler.SyncTag)
	hub.SetCommandHandler(commands)

	router := api.NewRouter(api.Deps{
		Store:     store,
		Sync:      commands,
		WebSocket: hub.ServeWS,
		Engine:    engine,
		Scheduler: sched,
	})

	return &agent{
		cfg:       cfg,
		store:     store,
		hub:       hub,
		engine:    engine,
		scheduler: sched,
		server: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run listens on the configured address until ctx is cancelled.
func (a *agent) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve runs the agent on ln until ctx is cancelled, then shuts down.
func (a *agent) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.store.Open(ctx); err != nil {
		// Open is retried on first use; runs report sync-failed until then.
		logging.ErrorWithCode("Queue store unavailable", "STORAGE_UNAVAILABLE", err,
			map[string]interface{}{"data_dir": a.cfg.Store.DataDir})
	}

	a.scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Starting server", map[string]interface{}{"addr": ln.Addr().String()})
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.shutdown()
	return serveErr
}

func (a *agent) shutdown() {
	logging.Info("Shutting down agent", nil)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		logging.Error("Server shutdown failed", err)
	}

	a.hub.Close()
	a.scheduler.Stop()
	if err := a.store.Close(); err != nil {
		logging.Error("Failed to close queue store", err)
	}

	logging.Info("Agent stopped gracefully", nil)
}
