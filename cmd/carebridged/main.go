// Command carebridged runs the CareBridge conversational backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carebridge/carebridge/internal/agents"
	"github.com/carebridge/carebridge/internal/assistant"
	"github.com/carebridge/carebridge/internal/scheduler"
	"github.com/carebridge/carebridge/internal/server"
	"github.com/carebridge/carebridge/internal/session"
	"github.com/carebridge/carebridge/pkg/flow/checkpoint"
	"github.com/carebridge/carebridge/pkg/flow/config"
	"github.com/carebridge/carebridge/pkg/flow/observability"
)

func main() {
	if err := run(); err != nil {
		slog.Error("carebridged exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.String("log_level", "info"))
	slog.SetDefault(logger)

	settings := assistant.LoadSettings(cfg.Sub("assistant"))
	storage := cfg.Sub("storage")
	openaiCfg := cfg.Sub("openai")

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return errors.New("OPENAI_API_KEY environment variable not set")
	}
	model := openaiCfg.String("model", "")

	// Scheduling store and tools
	schedStore, err := scheduler.NewStore(storage.String("scheduling_db", "carebridge-scheduling.db"))
	if err != nil {
		return fmt.Errorf("open scheduling store: %w", err)
	}
	defer schedStore.Close()

	if cfg.Bool("seed_demo_data", false) {
		if err := seedDemoData(context.Background(), schedStore); err != nil {
			logger.Warn("seeding demo data failed", slog.String("error", err.Error()))
		}
	}

	tools := scheduler.NewTools(schedStore)

	// Collaborators
	client := agents.NewClient(apiKey, model)
	classifier := agents.NewOpenAIClassifier(client, assistant.RoutableAgents)
	guard := agents.NewOpenAISafetyChecker(client)
	responders := map[string]agents.Responder{
		assistant.AgentConversation: agents.NewOpenAIResponder(client,
			"You are a friendly clinic assistant. Answer general questions briefly."),
		assistant.AgentRAG:       agents.NewKnowledgeResponder(client),
		assistant.AgentWebSearch: agents.NewOpenAIResponder(client, "You answer using up-to-date general knowledge. Say when you are unsure."),
		assistant.AgentScheduler: scheduler.NewAgent(apiKey, model, tools),
	}

	// Graph
	nodes := assistant.NewNodes(settings, guard, classifier, responders, tools)
	graph, err := assistant.BuildGraph(nodes)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}

	// Checkpoints
	ckptStore, err := checkpoint.NewSQLiteStore(storage.String("checkpoint_db", "carebridge-checkpoints.db"))
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer ckptStore.Close()

	manager := session.NewManager(graph, ckptStore, settings,
		session.WithLogger(logger),
		session.WithMetrics(observability.NewMetricsRecorder()))

	srv := &http.Server{
		Addr:              cfg.String("listen_addr", ":8080"),
		Handler:           server.New(manager, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	return nil
}

// loadConfig reads the config file; a missing file yields defaults.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			slog.Warn("config file not found, using defaults", slog.String("path", path))
			return config.New(nil), nil
		}
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func buildLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// seedDemoData loads a small roster so a fresh install is usable.
// Existing data wins: seeding is skipped when doctors already exist.
func seedDemoData(ctx context.Context, store *scheduler.Store) error {
	doctors, err := store.Doctors(ctx)
	if err != nil {
		return err
	}
	if len(doctors) > 0 {
		return nil
	}

	roster := []struct {
		name, specialty string
		slots           []string
	}{
		{"Dr. Alvarez", "general practice", []string{"2026-08-24 09:00", "2026-08-24 10:00", "2026-08-25 14:00"}},
		{"Dr. Chen", "cardiology", []string{"2026-08-24 11:00", "2026-08-26 09:30"}},
		{"Dr. Okafor", "dermatology", []string{"2026-08-25 15:00", "2026-08-27 10:00"}},
	}
	for _, d := range roster {
		if err := store.AddDoctor(ctx, d.name, d.specialty, d.slots); err != nil {
			return err
		}
	}
	return nil
}
