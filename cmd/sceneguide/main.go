package main

import (
	"log"
	"log/slog"

	"github.com/owenh/sceneguide/internal/analysis"
	claudeanalysis "github.com/owenh/sceneguide/internal/analysis/claude"
	ollamaanalysis "github.com/owenh/sceneguide/internal/analysis/ollama"
	"github.com/owenh/sceneguide/internal/config"
	"github.com/owenh/sceneguide/internal/db"
	"github.com/owenh/sceneguide/internal/frame"
	"github.com/owenh/sceneguide/internal/frame/snapshot"
	"github.com/owenh/sceneguide/internal/logging"
	"github.com/owenh/sceneguide/internal/query"
	"github.com/owenh/sceneguide/internal/scene"
	"github.com/owenh/sceneguide/internal/service"
	"github.com/owenh/sceneguide/internal/speech"
	"github.com/owenh/sceneguide/internal/store"
	"github.com/owenh/sceneguide/internal/web"
)

func main() {
	cfg := config.Load()

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	sessionStore := store.NewSessionStore(database)
	sceneLogStore := store.NewSceneLogStore(database)
	turnStore := store.NewTurnStore(database)

	analyzer := newAnalyzer(cfg, logger)
	if analyzer == nil {
		return
	}

	// Frames normally arrive from browser clients and land in the
	// latest-frame holder; a snapshot URL switches capture to polling a
	// camera endpoint instead.
	frames := frame.NewLatest(cfg.FrameTTL)
	var source frame.Source = frames
	if cfg.SnapshotURL != "" {
		logger.Info("using snapshot frame source", "url", cfg.SnapshotURL)
		source = snapshot.NewSource(cfg.SnapshotURL)
	}

	hub := web.NewHub(logger)
	queue := speech.NewQueue(hub, logger)
	defer queue.Close()

	sampler := scene.NewSampler(source, analyzer, queue, logger, scene.Config{
		Interval:            cfg.SampleInterval,
		SimilarityThreshold: cfg.SimilarityThreshold,
		SampleTimeout:       cfg.SampleTimeout,
	})
	router := query.NewRouter(sampler, analyzer, queue, logger, query.Config{
		CaptureTriggers: cfg.CaptureTriggers,
		MuteTriggers:    cfg.MuteTriggers,
		UnmuteTriggers:  cfg.UnmuteTriggers,
		MaxHistoryTurns: cfg.MaxHistoryTurns,
	})

	svc := service.NewSessionService(sessionStore, sceneLogStore, turnStore, sampler, router, frames, logger)
	hub.SetHandler(svc)
	sampler.SetListener(svc)
	svc.SetNotifier(hub)

	server := web.NewServer(svc, hub, logger)
	if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
		logger.Error("server error", "error", err)
	}
}

func newAnalyzer(cfg *config.Config, logger *slog.Logger) analysis.Analyzer {
	switch cfg.AnalysisBackend {
	case "claude":
		if cfg.ClaudeAPIKey == "" {
			logger.Error("CLAUDE_API_KEY is required when ANALYSIS_BACKEND=claude")
			return nil
		}
		logger.Info("using Claude analysis backend", "model", cfg.ClaudeModel)
		return claudeanalysis.NewAnalyzer(cfg.ClaudeAPIKey, cfg.ClaudeModel)
	default:
		logger.Info("using Ollama analysis backend", "model", cfg.OllamaModel)
		return ollamaanalysis.NewAnalyzer(cfg.OllamaHost, cfg.OllamaModel)
	}
}
