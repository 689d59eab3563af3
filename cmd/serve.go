package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atendezap/atendezap/internal/ai"
	"github.com/atendezap/atendezap/internal/campaign"
	"github.com/atendezap/atendezap/internal/config"
	"github.com/atendezap/atendezap/internal/events"
	"github.com/atendezap/atendezap/internal/humanizer"
	"github.com/atendezap/atendezap/internal/model"
	"github.com/atendezap/atendezap/internal/pipeline"
	"github.com/atendezap/atendezap/internal/store"
	"github.com/atendezap/atendezap/internal/store/memory"
	"github.com/atendezap/atendezap/internal/store/pg"
	"github.com/atendezap/atendezap/internal/telemetry"
	"github.com/atendezap/atendezap/internal/wbot"

	"github.com/google/uuid"
)

func runServe() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	// Storage backend
	if devMode {
		cfg.Database.Mode = "memory"
	}
	var stores *store.Stores
	if cfg.Database.InMemory() {
		slog.Warn("running with in-memory stores, nothing will be persisted")
		stores = memory.NewStores()
	} else {
		stores, err = pg.NewStores(store.Config{PostgresDSN: cfg.Database.PostgresDSN})
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
	}

	registry := wbot.NewRegistry()
	human := humanizer.New(humanizer.WithSendRate(cfg.Humanizer.SendRatePerMin))
	bus := events.NewBus()

	var completer ai.Completer
	if cfg.AI.Enabled && cfg.AI.APIKey != "" {
		provider := ai.NewOpenAIProvider("openai", cfg.AI.APIKey, cfg.AI.APIBase, cfg.AI.Model)
		completer = provider
		slog.Info("AI responder enabled", "model", cfg.AI.Model)
	}

	incidents := pipeline.NewStaticIncidents(nil)

	pipe := pipeline.New(stores, registry, human, completer, cfg.Hours.ToHours(), incidents, bus,
		pipeline.Options{AISystemPrompt: cfg.AI.SystemPrompt})

	onBatch := func(ctx context.Context, sess *wbot.Session, batch []wbot.InboundMessage) {
		pipe.IngestBatch(ctx, sess, batch)
	}
	onStatus := func(ctx context.Context, connectionID uuid.UUID, status model.ConnectionStatus, qrcode string) {
		if err := stores.Connections.SetStatus(ctx, connectionID, status, qrcode); err != nil {
			slog.Warn("persist connection status failed", "connection", connectionID, "error", err)
		}
		bus.Broadcast(events.Event{Name: events.SessionUpdated, Payload: map[string]any{
			"connection_id": connectionID,
			"status":        status,
		}})
	}

	// Bring up one bridge session per enabled connection.
	conns, err := stores.Connections.ListEnabled(ctx)
	if err != nil {
		slog.Error("failed to list connections", "error", err)
		os.Exit(1)
	}
	var bridges []*wbot.Session
	for _, conn := range conns {
		sess, err := wbot.StartSession(ctx, conn, registry, onBatch, onStatus)
		if err != nil {
			slog.Error("failed to start session", "connection", conn.ID, "name", conn.Name, "error", err)
			continue
		}
		bridges = append(bridges, sess)
		slog.Info("session started", "connection", conn.ID, "name", conn.Name)
	}

	// Campaign dispatcher
	dispatcher := campaign.NewDispatcher(stores, registry, human, bus,
		campaign.WithBatchLimit(cfg.Campaigns.BatchLimit))

	// Websocket event feed
	eventsSrv := &http.Server{
		Addr:    cfg.Events.Addr(),
		Handler: events.NewServer(bus),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dispatcher.Start(gctx, cfg.Campaigns.PollInterval())
		return nil
	})

	g.Go(func() error {
		slog.Info("event feed listening", "addr", eventsSrv.Addr)
		if err := eventsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return eventsSrv.Shutdown(shutCtx)
	})

	// Hot reload for mutable sections (hours, campaigns pacing, AI prompt).
	g.Go(func() error {
		err := config.Watch(gctx, cfgPath, cfg, func(c *config.Config) {
			pipe.SetHours(c.Hours.ToHours())
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	slog.Info("atendezap running", "version", Version, "sessions", len(bridges))

	if err := g.Wait(); err != nil {
		slog.Error("engine stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("graceful shutdown complete")
}
