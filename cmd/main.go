package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"soul-teller/server/internal/avatar"
	"soul-teller/server/internal/catalog"
	"soul-teller/server/internal/config"
	"soul-teller/server/internal/dialogue"
	"soul-teller/server/internal/emotion"
	"soul-teller/server/internal/engine"
	"soul-teller/server/internal/export"
	"soul-teller/server/internal/generator"
	"soul-teller/server/internal/llm"
	"soul-teller/server/internal/logging"
	"soul-teller/server/internal/memory"
	"soul-teller/server/internal/playroom"
	"soul-teller/server/internal/prompts"
	"soul-teller/server/internal/rag"
	"soul-teller/server/internal/secure"
	"soul-teller/server/internal/settings"
	"soul-teller/server/internal/storage"
	"soul-teller/server/internal/web"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Key-value persistence: Redis when enabled, otherwise in-process
	var kv storage.KV = storage.NewMemoryKV()
	if cfg.Database.Redis.Enabled {
		redisStore, err := storage.NewRedisStore(cfg.Database.Redis)
		if err != nil {
			logger.Warn("failed to connect to Redis, sessions will not survive a restart", "error", err)
		} else {
			defer redisStore.Close()
			kv = redisStore
			logger.Info("Redis connected", "host", cfg.Database.Redis.Host)
		}
	}

	var mysqlStore *storage.MySQLStore
	if cfg.Database.MySQL.Enabled {
		s, err := storage.NewMySQLStore(cfg.Database.MySQL)
		if err != nil {
			logger.Warn("failed to connect to MySQL, archives are disabled", "error", err)
		} else {
			defer s.Close()
			mysqlStore = s
			logger.Info("MySQL connected", "database", cfg.Database.MySQL.Database)
		}
	}

	secrets, err := secure.NewStore(kv, cfg.Security.SecretKey, logger, secure.WithDefaults(cfg.AI.LLM.APIKey, secure.XingyunConfig{
		AppID:         cfg.Avatar.AppID,
		AppSecret:     cfg.Avatar.AppSecret,
		GatewayServer: cfg.Avatar.GatewayServer,
	}))
	if err != nil {
		return fmt.Errorf("failed to create credential store: %w", err)
	}

	// A key saved through the settings API wins over the configured one
	if key, err := secrets.ModelScopeAPIKey(ctx); err == nil {
		cfg.AI.LLM.APIKey = key
		if cfg.AI.Embedding.APIKey == "" {
			cfg.AI.Embedding.APIKey = key
		}
	} else {
		logger.Warn("no model API key configured, generation will use fallbacks", "error", err)
	}

	chat := llm.NewClientFromConfig(cfg.AI.LLM, logger)
	embedClient := llm.NewEmbeddingClientFromConfig(cfg.AI, logger)
	templates := prompts.NewDefaultEngine()

	// Vector store
	var vectorDB *storage.VectorDB
	if cfg.Vector.Backend == "" || cfg.Vector.Backend == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLite.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		vectorDB, err = storage.OpenVectorDB(ctx, cfg.Database.SQLite.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to open vector db: %w", err)
		}
	}
	backend, err := rag.NewBackend(ctx, cfg, vectorDB, logger)
	if err != nil {
		return fmt.Errorf("failed to create vector backend: %w", err)
	}
	embeddings := rag.NewEmbeddingService(embedClient, cfg.AI.Embedding.Model, cfg.AI.Embedding.Dimensions)
	vectors := rag.NewStore(
		backend,
		embeddings,
		rag.NewLLMPlotTwistClassifier(chat, cfg.AI.LLM.ClassifierModel, logger),
		rag.StoreOptions{HistorySize: cfg.Story.HistorySize, Threshold: cfg.Story.Threshold},
		logger,
	)
	defer vectors.Close()

	// Indexer workers outlive the signal context so queued work drains on shutdown
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	indexer := rag.NewIndexer(vectors, cfg.Queue.MaxWorkers, cfg.Queue.MaxQueueSize, logger)
	indexer.Start(workCtx)
	defer indexer.Stop()

	// Story
	cat := catalog.Default()
	gen := generator.NewStoryGenerator(chat, templates, vectors, indexer, generator.Options{
		Model:         cfg.AI.LLM.Model,
		RecentCount:   cfg.Story.RecentCount,
		RelevantCount: cfg.Story.RelevantCount,
	}, logger)

	engineOpts := []engine.Option{engine.WithKV(kv), engine.WithIndexer(indexer)}
	if mysqlStore != nil {
		engineOpts = append(engineOpts, engine.WithArchiver(mysqlStore))
	}
	storyEngine := engine.NewStoryEngine(cat, gen, logger, engineOpts...)

	// Character
	mem := memory.NewManager(kv, logger, memory.WithVisitedNodes(storyEngine))
	analyzer := emotion.NewAnalyzer(chat, templates, cfg.AI.LLM.ClassifierModel, logger)
	dialogueService := dialogue.NewService(chat, analyzer, mem, templates, cfg.AI.LLM.DialogueModel, logger)

	var (
		roomOpts      []playroom.Option
		avatarService *web.AvatarService
	)
	if cfg.Avatar.Enabled {
		bridge := avatar.NewGatewayBridge(logger)
		defer bridge.Disconnect()
		roomOpts = append(roomOpts, playroom.WithAvatar(bridge, cfg.Avatar.SpeechTimeout))
		avatarService = web.NewAvatarService(bridge, secrets, logger)
		if cfg.Story.GeneratedOpening {
			roomOpts = append(roomOpts, playroom.WithGeneratedOpening(gen, cat))
		}
	}
	room := playroom.NewRoom(storyEngine, mem, dialogueService, gen, playroom.Character{
		Name:    cfg.Story.CharacterName,
		Persona: cfg.Story.CharacterPersona,
	}, logger, roomOpts...)

	hub := web.NewSessionHub(logger)
	go hub.Run(ctx)
	unsubscribe := storyEngine.Subscribe(hub.Publish)
	defer unsubscribe()

	deps := web.Deps{
		Catalog:  cat,
		Engine:   storyEngine,
		Room:     room,
		Exporter: export.NewExporter(cat),
		Secure:   secrets,
		Settings: settings.NewStore(kv, logger),
		Hub:      hub,
		Dialogue: dialogueService,
		Avatar:   avatarService,

		Indexer:    indexer,
		Embeddings: embeddings,
	}
	if mysqlStore != nil {
		deps.Archive = mysqlStore
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      web.NewRouter(deps, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "vector_backend", cfg.Vector.Backend, "avatar", cfg.Avatar.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("server shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := indexer.Flush(shutdownCtx); err != nil {
		logger.Warn("indexer did not drain", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
