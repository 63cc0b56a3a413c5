// Package app wires storage, providers and services from the loaded config.
// It is shared by the server and the maintenance CLI.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/kb-bot/internal/bot"
	"github.com/xaenox/kb-bot/internal/cache"
	"github.com/xaenox/kb-bot/internal/embedding"
	"github.com/xaenox/kb-bot/internal/ingest"
	"github.com/xaenox/kb-bot/internal/llm"
	"github.com/xaenox/kb-bot/internal/rewriter"
	"github.com/xaenox/kb-bot/internal/storage"
	"github.com/xaenox/kb-bot/internal/vectorstore"
	"github.com/xaenox/kb-bot/pkg/config"
	"go.uber.org/zap"
)

const httpTimeout = 60 * time.Second

type App struct {
	Store    storage.Storage
	Bots     storage.BotStore
	Vectors  *vectorstore.Store
	Bot      *bot.Service
	Ingester *ingest.Ingester

	redis *redis.Client
}

// New builds the application. The in-memory store is used when configured,
// PostgreSQL otherwise; bot lookups go through Redis when a URL is set.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{}

	// Initialize storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		a.Store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			DBName:          cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}
		store, err := storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			return nil, err
		}
		a.Store = store
	}

	a.Bots = a.Store
	if cfg.Redis.URL != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("Using Redis bot cache", zap.Duration("ttl", cfg.Redis.BotTTL))
		a.redis = rdb
		a.Bots = storage.NewCachedBotStore(a.Store, cache.NewRedisCache(rdb, "kb-bot:"), cfg.Redis.BotTTL, logger)
	}

	client := llm.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	httpClient := &http.Client{Timeout: httpTimeout}

	embedder := embedding.NewOpenAIEmbedder(client, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.EmbeddingDimensions)
	a.Vectors = vectorstore.New(embedder, a.Store, logger, vectorstore.WithConcurrency(cfg.Ingest.EmbedConcurrency))

	rw := rewriter.NewGPTRewriter(client, cfg.Rewriter.Model, cfg.Rewriter.MaxTokens, float32(cfg.Rewriter.Temperature), logger)
	a.Bot = bot.NewService(a.Bots, a.Store, a.Vectors, rw, client, httpClient, retrievalOptions(cfg.Retrieval), logger)

	extractor := ingest.NewGPTExtractor(client, cfg.Ingest.ExtractorModel, cfg.Ingest.ExtractorMaxTokens, logger)
	a.Ingester = ingest.NewIngester(a.Bots, a.Vectors, extractor, httpClient, cfg.Ingest.Concurrency, logger)

	return a, nil
}

func retrievalOptions(c config.RetrievalConfig) bot.RetrievalOptions {
	opts := bot.DefaultRetrievalOptions()
	if c.Limit > 0 {
		opts.Limit = c.Limit
	}
	if c.Threshold > 0 {
		opts.Threshold = c.Threshold
	}
	if c.ColdLimit > 0 {
		opts.ColdLimit = c.ColdLimit
	}
	if c.ColdThreshold > 0 {
		opts.ColdThreshold = c.ColdThreshold
	}
	return opts
}

func (a *App) Close() error {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

var _ llm.ChatCompleter = (*openai.Client)(nil)
var _ embedding.Client = (*openai.Client)(nil)
