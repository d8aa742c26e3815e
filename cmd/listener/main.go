package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mb1tel/listener/internal/config"
	"github.com/mb1tel/listener/internal/dispatch"
	"github.com/mb1tel/listener/internal/presence"
	"github.com/mb1tel/listener/internal/room"
	"github.com/mb1tel/listener/internal/service"
	"github.com/mb1tel/listener/internal/store"
	"github.com/mb1tel/listener/internal/transport"
	"github.com/mb1tel/listener/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/listener.local.yaml", "path to config file")
	flag.Parse()

	// Local .env files are a development convenience; absence is fine.
	_ = godotenv.Load()

	// Bootstrap logger until the configured level is known
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting listener",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"addr", cfg.Server.Addr,
		"ws_path", cfg.Server.WSPath,
		"redis_mode", cfg.Redis.Mode,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to the shared store
	st, err := store.NewRedis(cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	logger.Info("redis connected", "addrs", cfg.Redis.Addrs)

	// WebSocket transport with cross-instance relay
	server := transport.NewServer(transport.Config{
		SecretKey: cfg.Server.SecretKey,
	}, logger)

	if client, ok := store.Client(st); ok {
		relay := transport.NewRelay(client, cfg.Instance.ID, logger)
		server.AttachRelay(relay)
		go relay.Run(ctx)
	}

	// Presence registry for cross-instance count aggregation
	registry := presence.NewRegistry(cfg.Instance.ID, presence.Config{
		KeyTTL:             cfg.Presence.KeyTTL,
		HeartbeatInterval:  cfg.Presence.HeartbeatInterval,
		LivenessThreshold:  cfg.Presence.LivenessThreshold,
		RegisterRetryDelay: cfg.Presence.RegisterRetryDelay,
	}, st, logger)

	// Message controllers, keyed by event name
	controllers := dispatch.NewRegistry()
	for _, c := range []dispatch.Controller{
		dispatch.NewChatController(server, cfg.Instance.ID, logger),
		dispatch.NewForwardController(server, cfg.Instance.ID, logger),
	} {
		if err := controllers.Register(c); err != nil {
			logger.Error("failed to register controller", "event", c.EventName(), "error", err)
			os.Exit(1)
		}
	}

	svc := service.New(service.Config{
		RefreshInterval: cfg.Presence.RefreshInterval,
		ThrottleWindow:  cfg.Broadcast.ThrottleWindow,
		ClientRecordTTL: cfg.Presence.ClientRecordTTL,
	}, server, st, registry, room.NewTracker(), controllers, logger)

	svc.Start(ctx)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		svc.Stop(shutdownCtx)
	}()

	// HTTP front door
	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WSPath, server)
	mux.HandleFunc("/health", healthHandler(st, registry))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Socket server is running\n"))
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listener running",
			"instance_id", cfg.Instance.ID,
			"addr", cfg.Server.Addr,
			"ws_path", cfg.Server.WSPath,
		)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	logger.Info("listener stopped")
}

// healthHandler reports store connectivity and the local client count.
func healthHandler(st store.Store, registry *presence.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status       string    `json:"status"`
			InstanceID   string    `json:"instanceId"`
			LocalClients int       `json:"localClients"`
			Redis        string    `json:"redis"`
			Timestamp    time.Time `json:"timestamp"`
		}{
			Status:       "healthy",
			InstanceID:   registry.InstanceID(),
			LocalClients: registry.LocalCount(),
			Redis:        "connected",
			Timestamp:    time.Now().UTC(),
		}

		if err := st.Ping(ctx); err != nil {
			health.Status = "degraded"
			health.Redis = "disconnected"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
