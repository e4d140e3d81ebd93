package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/devlens/devlens/internal/config"
	"github.com/devlens/devlens/internal/graph"
	"github.com/devlens/devlens/internal/oracle"
	"github.com/devlens/devlens/internal/scoring"
	"github.com/devlens/devlens/internal/timeline"
	"github.com/devlens/devlens/internal/vector"
)

// app bundles the wired stores and services shared by the commands.
// Unreachable backing stores degrade to their in-memory counterparts with a
// warning, so a laptop without infrastructure still runs.
type app struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	rdb      *redis.Client
	index    vector.Index
	graph    graph.Store
	repo     timeline.Repo
	scorer   *scoring.Scorer
	timeline *timeline.Service
	oracles  *oracle.Clients
}

func buildApp(ctx context.Context) (*app, error) {
	a := &app{cfg: cfg}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Storage.RedisHost, cfg.Storage.RedisPort),
		Password: cfg.Storage.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("Redis unreachable, rate limiting is process-local")
		rdb.Close()
		rdb = nil
	}
	a.rdb = rdb

	a.oracles = oracle.New(ctx, cfg, rdb)

	if cfg.Storage.VectorPath != "" {
		idx, err := vector.OpenBolt(cfg.Storage.VectorPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector index: %w", err)
		}
		a.index = idx
	} else {
		logger.Warn("No vector path configured, embeddings are not persisted")
		a.index = vector.NewMemory()
	}

	gs, err := graph.NewNeo4j(ctx, cfg.Storage.Neo4jURI, cfg.Storage.Neo4jUser,
		cfg.Storage.Neo4jPassword, cfg.Storage.Neo4jDatabase)
	if err != nil {
		logger.WithError(err).Warn("Neo4j unreachable, using in-memory graph")
		a.graph = graph.NewMemory()
	} else {
		a.graph = gs
	}

	pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
	if err == nil {
		repo, rerr := timeline.NewPostgresRepo(ctx, pool)
		if rerr != nil {
			err = rerr
			pool.Close()
		} else {
			a.pool = pool
			a.repo = repo
		}
	}
	if a.repo == nil {
		logger.WithError(err).Warn("Postgres unreachable, timeline is in-memory")
		a.repo = timeline.NewMemoryRepo()
	}

	scorerOpts := []scoring.Option{scoring.WithBatchSize(cfg.Scoring.BatchSize)}
	if a.pool != nil {
		ledger, lerr := scoring.NewPostgresLedger(ctx, a.pool)
		if lerr != nil {
			logger.WithError(lerr).Warn("Feedback ledger unavailable")
		} else {
			scorerOpts = append(scorerOpts, scoring.WithLedger(ledger))
		}
	}
	a.scorer = scoring.New(cfg.Scoring.KeepThreshold, scorerOpts...)

	a.timeline = timeline.NewService(a.repo, a.index, a.graph, a.scorer, cfg.Timeline)
	return a, nil
}

func (a *app) Close(ctx context.Context) {
	a.repo.Close()
	a.index.Close()
	if err := a.graph.Close(ctx); err != nil {
		logger.WithError(err).Warn("Graph close failed")
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}
