package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"kinechat/internal/chat"
	"kinechat/internal/config"
	"kinechat/internal/logger"
	"kinechat/internal/redis"
	"kinechat/internal/retrieval"
	"kinechat/internal/service/ai"
	"kinechat/internal/session"
	"kinechat/internal/storage"
)

const defaultSQLitePath = "kinechat.db"

// app holds the long-lived services behind the HTTP handlers.
type app struct {
	registry     *session.Registry
	relay        *session.Relay
	orchestrator *chat.Orchestrator
	retriever    *retrieval.Retriever

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	log := logger.FromCtx(ctx)
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb, err = redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
	}

	history, err := a.openHistory(ctx, cfg, rdb)
	if err != nil {
		return nil, err
	}

	store, err := a.openVectorStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.retriever = retrieval.New(store, cfg.Embedding.Dimension, cfg.Retrieval.Threshold, cfg.Retrieval.TopK)

	httpClient := &http.Client{}
	embedder := ai.NewEmbedder(ctx, cfg.Embedding, httpClient)
	generator, err := ai.NewGenerator(ctx, cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("init generator: %w", err)
	}

	a.registry = session.NewRegistry()
	a.relay = session.NewRelay(a.registry)
	if cfg.Relay.Bridge {
		bridge := session.NewBridge(rdb, cfg.Relay.Channel, a.relay)
		a.relay.UseBridge(bridge)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.Error().Err(err).Msg("relay bridge stopped")
			}
		}()
	}

	a.orchestrator = chat.NewOrchestrator(
		embedder,
		a.retriever,
		chat.NewAssembler(cfg.History.Preamble, cfg.History.Window),
		generator,
		history,
		chat.Options{
			HistoryWindow:   cfg.History.Window,
			PersistFailures: cfg.History.PersistFailedTurns(),
		},
	)

	log.Info().
		Str("generation", cfg.Generation.Provider).
		Str("embedding_model", embedder.Model()).
		Str("retrieval", a.retriever.Backend()).
		Str("history", cfg.History.Backend).
		Bool("relay_bridge", cfg.Relay.Bridge).
		Msg("services ready")
	return a, nil
}

func (a *app) openHistory(ctx context.Context, cfg *config.Config, rdb *redis.Client) (chat.HistoryStore, error) {
	switch backend := strings.ToLower(cfg.History.Backend); backend {
	case "redis":
		return storage.NewRedisHistory(rdb, cfg.History.MaxTurns, cfg.History.TTL()), nil
	case "sqlite", "sqlite3", "mysql":
		db, err := openSQL(backend, cfg.Databases)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := storage.Migrate(db, backend); err != nil {
			return nil, fmt.Errorf("migrate history: %w", err)
		}
		return storage.NewSQLHistory(db), nil
	default:
		logger.FromCtx(ctx).Warn().Msg("history kept in memory; it is lost on restart")
		return storage.NewMemoryHistory(cfg.History.MaxTurns), nil
	}
}

func openSQL(backend string, databases map[string]config.DatabaseConfig) (*sql.DB, error) {
	dbCfg, ok := databases[backend]
	if !ok && backend == "sqlite" {
		dbCfg, ok = databases["sqlite3"]
	}
	if !ok && backend == "mysql" {
		return nil, fmt.Errorf("history backend mysql: databases.mysql not configured")
	}
	if dbCfg.DSN == "" && backend != "mysql" {
		dbCfg.DSN = defaultSQLitePath
	}
	db, err := storage.Open(backend, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s history: %w", backend, err)
	}
	return db, nil
}

// openVectorStore returns nil when retrieval is disabled or unconfigured;
// the chat flow then answers without documents.
func (a *app) openVectorStore(ctx context.Context, cfg *config.Config) (retrieval.Store, error) {
	log := logger.FromCtx(ctx)
	switch cfg.Retrieval.Backend {
	case "supabase":
		store := retrieval.NewSupabaseStore(cfg.Retrieval, nil)
		if !store.Configured() {
			log.Warn().Msg("SUPABASE_URL or SUPABASE_KEY missing, answering without documents")
			return nil, nil
		}
		return store, nil
	case "pgvector":
		store, err := retrieval.OpenPgvectorStore(ctx, cfg.Retrieval.PostgresDSN, cfg.Retrieval.Table)
		if err != nil {
			log.Warn().Err(err).Msg("pgvector unavailable, answering without documents")
			return nil, nil
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "memory":
		if cfg.Retrieval.SeedFile == "" {
			return retrieval.NewMemoryStore(nil), nil
		}
		store, err := retrieval.LoadMemoryStore(cfg.Retrieval.SeedFile)
		if err != nil {
			return nil, err
		}
		log.Info().Int("documents", store.Len()).Msg("memory vector store loaded")
		return store, nil
	default:
		log.Warn().Msg("no vector store configured, answering without documents")
		return nil, nil
	}
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
