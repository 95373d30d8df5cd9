package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/biokg/backend/internal/cache/redis"
	"github.com/biokg/backend/internal/ingestion"
	"github.com/biokg/backend/internal/kg/builder"
	"github.com/biokg/backend/internal/kg/neo4j"
	"github.com/biokg/backend/internal/llm"
	"github.com/biokg/backend/internal/pubtator"
	"github.com/biokg/backend/internal/storage/graphfile"
	"github.com/biokg/backend/internal/storage/sqlite"
	"github.com/biokg/backend/pkg/config"
	appLogger "github.com/biokg/backend/pkg/logger"
)

// runtime holds everything a processing command needs.
type runtime struct {
	ledger    *sqlite.Client
	processor *ingestion.Processor
	audit     *llm.AuditLog
	cache     *redis.Client
	mirror    *neo4j.Client
}

func openLedger(cfg *config.Config) (*sqlite.Client, error) {
	ledger, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	if err := ledger.InitSchema(); err != nil {
		ledger.Close()
		return nil, err
	}
	return ledger, nil
}

// openCache returns nil when Redis is disabled or unreachable.
func openCache(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	c, err := redis.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		time.Duration(cfg.Redis.TTLHours)*time.Hour,
	)
	if err != nil {
		appLogger.Warn("Redis unavailable, normalization cache disabled", zap.Error(err))
		return nil
	}
	return c
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	rt := &runtime{}

	ledger, err := openLedger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	rt.ledger = ledger

	store := graphfile.NewStore(cfg.Graph.Path)
	doc, err := store.Load()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to load graph: %w", err)
	}

	aliases := graphfile.NewAliasStore(cfg.Graph.AliasPath)
	if _, err := aliases.Load(doc); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to load aliases: %w", err)
	}

	rt.audit, err = llm.NewAuditLog(cfg.LLM.AuditLogPath)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	llmClient := llm.NewClient(cfg.LLM, rt.audit)

	var normalizer builder.Normalizer
	if cfg.PubTator.Enabled {
		var cache pubtator.Cache
		if rt.cache = openCache(cfg); rt.cache != nil {
			cache = rt.cache
		}
		normalizer = pubtator.NewClient(
			cfg.PubTator.BaseURL,
			cfg.PubTator.Limit,
			time.Duration(cfg.PubTator.TimeoutSec)*time.Second,
			cache,
		)
	}

	var mirror ingestion.Mirror
	if cfg.Neo4j.Enabled {
		nc, err := neo4j.NewClient(cfg.Neo4j)
		if err != nil {
			appLogger.Warn("Neo4j unavailable, graph mirror disabled", zap.Error(err))
		} else {
			rt.mirror = nc
			mirror = nc
		}
	}

	b := builder.NewBuilder(llmClient, normalizer, llmClient, builder.WithThreshold(cfg.Graph.FuzzyThreshold))
	rt.processor = ingestion.NewProcessor(doc, store, aliases, b, ledger, mirror)

	appLogger.Info("Graph loaded",
		zap.String("path", cfg.Graph.Path),
		zap.Int("nodes", doc.NodeCount()),
		zap.Int("edges", doc.EdgeCount()),
		zap.String("model", llmClient.Model()),
		zap.Bool("pubtator", normalizer != nil),
		zap.Bool("neo4j", mirror != nil),
	)
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.mirror.Close(ctx); err != nil {
			appLogger.Warn("Failed to close Neo4j driver", zap.Error(err))
		}
	}
	if rt.cache != nil {
		rt.cache.Close()
	}
	if rt.audit != nil {
		rt.audit.Close()
	}
	if rt.ledger != nil {
		rt.ledger.Close()
	}
}
