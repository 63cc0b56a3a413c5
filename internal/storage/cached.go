package storage

import (
	"context"
	"time"

	"github.com/xaenox/kb-bot/internal/cache"
	"github.com/xaenox/kb-bot/internal/models"
	"go.uber.org/zap"
)

// CachedBotStore serves GetBot from a cache and drops the entry on UpdateBot.
// Cache failures are logged and fall through to the underlying store.
type CachedBotStore struct {
	BotStore
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedBotStore(store BotStore, c cache.Cache, ttl time.Duration, logger *zap.Logger) *CachedBotStore {
	return &CachedBotStore{
		BotStore: store,
		cache:    c,
		ttl:      ttl,
		logger:   logger,
	}
}

func botCacheKey(id string) string {
	return "bot:" + id
}

func (s *CachedBotStore) GetBot(ctx context.Context, id string) (*models.Bot, error) {
	var cached models.Bot
	hit, err := s.cache.GetJSON(ctx, botCacheKey(id), &cached)
	if err != nil {
		s.logger.Warn("Failed to read bot from cache", zap.Error(err), zap.String("bot_id", id))
	}
	if hit {
		return &cached, nil
	}

	bot, err := s.BotStore.GetBot(ctx, id)
	if err != nil || bot == nil {
		return bot, err
	}

	if err := s.cache.SetJSON(ctx, botCacheKey(id), bot, s.ttl); err != nil {
		s.logger.Warn("Failed to write bot to cache", zap.Error(err), zap.String("bot_id", id))
	}
	return bot, nil
}

func (s *CachedBotStore) UpdateBot(ctx context.Context, id string, update models.BotUpdate) (*models.Bot, error) {
	bot, err := s.BotStore.UpdateBot(ctx, id, update)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Del(ctx, botCacheKey(id)); err != nil {
		s.logger.Warn("Failed to invalidate cached bot", zap.Error(err), zap.String("bot_id", id))
	}
	return bot, nil
}
