package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"stagehand/internal/codec"
	"stagehand/internal/config"
	"stagehand/internal/handler"
	"stagehand/internal/hub"
	"stagehand/internal/logging"
	"stagehand/internal/metrics"
	"stagehand/internal/repository/sqlite"
	"stagehand/internal/scheduler"
	"stagehand/internal/service"
	"stagehand/internal/state"
	"stagehand/internal/transport"
	"stagehand/internal/watcher"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "config file (default: search standard locations)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	seedPath := flag.String("seed", "", "seed file, .yaml or .json (overrides config)")
	flag.Parse()

	cfg, cfgFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *seedPath != "" {
		cfg.Seed.Path = *seedPath
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, cfgFile, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func run(cfg *config.Config, cfgFile string, log *zap.Logger) error {
	reasons := cfg.ResolveProfile("/")
	timing := cfg.EffectiveTiming()
	log.Info("starting stagehand server",
		zap.String("config", cfgFile),
		zap.String("profile", string(cfg.Profile)))
	for _, r := range reasons {
		log.Info("profile detected", zap.String("reason", r))
	}
	log.Debug(cfg.Summary())

	// Initialize SQLite repository
	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()
	log.Info("database opened", zap.String("path", cfg.Database.Path))

	seed := codec.NewSeed()
	if cfg.Seed.Path != "" {
		if seed, err = codec.LoadSeed(cfg.Seed.Path); err != nil {
			return err
		}
	}

	// Initialize event bus and room
	eventBus := service.NewEventBus()
	room, err := service.NewRoom(cfg.Sync.Room, seed.Members,
		service.WithRepository(repo),
		service.WithEventBus(eventBus),
		service.WithLogger(log),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := room.Restore(ctx); err != nil {
		return err
	}

	// Initialize SSE hub and websocket endpoint
	sseHub := hub.New(room.Snapshot, log)
	go sseHub.Run(ctx)

	settings := transport.DefaultSettings()
	settings.MaxPeers = timing.MaxPeers
	settings.AllowedOrigins = cfg.Server.AllowedOrigins
	endpoint := transport.NewEndpoint(room.Snapshot, settings, log)
	defer endpoint.Close()

	// Connect event bus to both fan-outs
	eventChan := make(chan service.Event, 256)
	eventBus.Subscribe(eventChan)
	go fanOut(ctx, eventChan, sseHub, endpoint, log)

	jobs := scheduler.NewRegistry(log)
	for _, job := range []scheduler.Job{
		{Name: "tick", Interval: timing.TickInterval, Run: func(ctx context.Context) error {
			_, err := room.Tick(ctx, "tick")
			return err
		}},
		{Name: "snapshot", Interval: timing.SnapshotInterval, Run: func(context.Context) error {
			snap, err := room.Snapshot()
			if err != nil {
				return err
			}
			sseHub.Broadcast(snap)
			endpoint.Broadcast(snap)
			return nil
		}},
		{Name: "persist", Interval: timing.PersistInterval, Run: room.Persist},
	} {
		if err := jobs.Register(job); err != nil {
			return err
		}
	}
	if err := jobs.Start(ctx); err != nil {
		return err
	}

	if cfg.Seed.Path != "" && cfg.Seed.Watch {
		w := watcher.New(cfg.Seed.Path, func() { reseed(ctx, room, cfg.Seed.Path, log) }, log)
		go func() {
			if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("seed watcher stopped", zap.Error(err))
			}
		}()
	}

	reg, err := metrics.NewRegistry()
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// Setup routes
	mux := http.NewServeMux()
	handler.NewRoomHandler(room, log).Register(mux)
	handler.NewJobsHandler(jobs, log).Register(mux)
	mux.Handle("GET /events", sseHub)
	mux.Handle("GET /ws", endpoint)
	mux.Handle("GET /metrics", metrics.Handler(reg))

	// Apply middleware
	finalHandler := handler.Chain(mux,
		handler.Recover(log),
		handler.CORS(cfg.Server.AllowedOrigins),
		handler.Logger(log.Named("access")),
	)

	// Create server; streams have no write timeout
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	}

	// Stop jobs and streams before the final checkpoint
	cancel()
	jobs.Stop()
	endpoint.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
	}
	if _, err := room.Commit(shutdownCtx); err != nil {
		log.Warn("final commit failed", zap.Error(err))
	}
	if err := room.Persist(shutdownCtx); err != nil {
		log.Error("final persist failed", zap.Error(err))
	}

	log.Info("server stopped", zap.Uint64("seq", room.Seq()))
	return nil
}

// fanOut forwards committed frames to SSE clients and websocket peers
func fanOut(ctx context.Context, events <-chan service.Event, h *hub.Hub, e *transport.Endpoint, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case service.EventFrame:
				frame, ok := ev.Payload.(*codec.Frame)
				if !ok {
					continue
				}
				h.Broadcast(frame)
				e.Broadcast(frame)
			case service.EventMemberAdded, service.EventMemberRemoved:
				if m, ok := ev.Payload.(service.MemberEvent); ok {
					log.Debug("member changed", zap.String("event", string(ev.Type)), zap.Int("id", m.ID))
				}
			default:
				log.Debug("room event", zap.String("event", string(ev.Type)))
			}
		}
	}
}

// reseed stages the seed file as the room's new members and commits it
func reseed(ctx context.Context, room *service.Room, path string, log *zap.Logger) {
	seed, err := codec.LoadSeed(path)
	if err != nil {
		log.Warn("ignoring seed change", zap.Error(err))
		return
	}
	if err := room.Reseed(seed); err != nil {
		log.Error("reseed failed", zap.Error(err))
		return
	}
	frame, err := room.Commit(ctx)
	if err != nil {
		log.Error("commit after reseed failed", zap.Error(err))
		return
	}
	if frame == nil {
		log.Info("seed file changed, room already matches")
		return
	}
	log.Info("room reseeded",
		zap.Uint64("seq", frame.Seq),
		zap.Int("members", len(seed.Members)),
		zap.Int("changed", changed(frame.Data)))
}

// changed counts the members an update frame touches
func changed(update state.Record) int {
	n := 0
	for _, v := range update {
		if v != nil {
			n++
		}
	}
	return n
}
