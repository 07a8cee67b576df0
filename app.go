package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fabfab/codexplain/cache"
	"github.com/fabfab/codexplain/chunker"
	"github.com/fabfab/codexplain/config"
	"github.com/fabfab/codexplain/conversation"
	"github.com/fabfab/codexplain/database"
	"github.com/fabfab/codexplain/embeddings"
	"github.com/fabfab/codexplain/explain"
	"github.com/fabfab/codexplain/knowledge"
	"github.com/fabfab/codexplain/llm"
)

// app holds the wired service and everything that must be released with it.
type app struct {
	svc     *explain.Service
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildApp wires the service from cfg. Without withModel the language model,
// chunker and cache are skipped, which is enough for commands that only read
// or delete conversations.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger, withModel bool) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		_ = a.Close()
		return nil, err
	}

	var (
		ch        *chunker.Chunker
		explainer *explain.Explainer
	)
	if withModel {
		client, err := llm.NewClient(ctx, cfg, logger)
		if err != nil {
			return fail(fmt.Errorf("llm client: %w", err))
		}

		strategy, err := chunker.ParseStrategy(cfg.Chunker.Strategy)
		if err != nil {
			return fail(err)
		}
		var splitter chunker.Splitter
		if strategy == chunker.StrategySemantic {
			splitter = chunker.NewSemanticSplitter(client, cfg.Chunker.SplitTemperature, logger)
		}
		ch = chunker.New(splitter, cfg.Chunker.MaxLines)

		explanationCache, err := cache.New(ctx, cfg.Cache)
		if err != nil {
			return fail(fmt.Errorf("explanation cache: %w", err))
		}
		if explanationCache != nil {
			a.closers = append(a.closers, explanationCache.Close)
		}

		explainer = explain.NewExplainer(client, explain.ExplainerOptions{
			Model:       cfg.LLM.Model,
			Temperature: cfg.Explain.Temperature,
			Language:    cfg.Explain.FenceLanguage,
			Cache:       explanationCache,
		}, logger)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, store.Close)

	var mirror explain.Mirror
	if cfg.Graph.Enabled {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Graph.Neo4jURI, cfg.Graph.Neo4jUser, cfg.Graph.Neo4jPass)
		if err != nil {
			return fail(fmt.Errorf("neo4j connection: %w", err))
		}
		a.closers = append(a.closers, func() error { return driver.Close(context.Background()) })
		mirror = knowledge.NewGraph(driver)
	}

	var embedder embeddings.Embedder
	if cfg.Embeddings.Enabled {
		var err error
		if embedder, err = embeddings.NewEmbedder(cfg); err != nil {
			return fail(fmt.Errorf("embedder: %w", err))
		}
	}

	a.svc = explain.NewService(ch, explainer, store, mirror, embedder, explain.Options{
		Render: explain.RenderOptions{
			FenceCode:       cfg.Explain.FenceCode,
			FenceLanguage:   cfg.Explain.FenceLanguage,
			SectionHeadings: cfg.Explain.SectionHeadings,
		},
		AutoCreate: cfg.Explain.AutoCreate,
	}, logger)

	logger.Debug("service ready",
		zap.Bool("model", withModel),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("chunker", cfg.Chunker.Strategy),
		zap.String("store", cfg.Store.Backend),
		zap.String("cache", cfg.Cache.Backend),
		zap.Bool("graph", cfg.Graph.Enabled),
		zap.Bool("embeddings", cfg.Embeddings.Enabled),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config) (conversation.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreJSON, "":
		return conversation.NewFileStore(cfg.Store.Path)
	case config.StoreSQLite:
		db, err := database.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		store, err := conversation.NewSQLiteStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil
	case config.StorePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		dimension := 0
		if cfg.Embeddings.Enabled {
			dimension = cfg.Embeddings.Dimension
		}
		store, err := conversation.NewPostgresStore(ctx, pool, dimension)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}
