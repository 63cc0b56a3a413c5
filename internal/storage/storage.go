package storage

import (
	"context"

	"github.com/xaenox/kb-bot/internal/models"
)

type Storage interface {
	BotStore
	MessageStore
	EmbeddingRepository
	Close() error
}

// BotStore persists bots and their crawler links.
// GetBot returns (nil, nil) when no bot has the given id.
type BotStore interface {
	CreateBot(ctx context.Context, bot *models.Bot) error
	GetBot(ctx context.Context, id string) (*models.Bot, error)
	ListBots(ctx context.Context) ([]*models.Bot, error)
	ListAutoUpdateBots(ctx context.Context) ([]*models.Bot, error)
	UpdateBot(ctx context.Context, id string, update models.BotUpdate) (*models.Bot, error)
	AddCrawlerLink(ctx context.Context, botID, url string) (*models.CrawlerLink, error)
	GetCrawlerLinks(ctx context.Context, botID string) ([]string, error)
}

// MessageStore persists conversation turns.
// GetMessages returns rows ordered by created_at ascending; an empty threadID
// matches every thread and limit <= 0 means no limit.
type MessageStore interface {
	CreateMessage(ctx context.Context, botID string, role models.Role, content, threadID string) (*models.Message, error)
	GetMessages(ctx context.Context, botID, threadID string, limit int) ([]*models.Message, error)
}

// EmbeddingRepository is the typed vector store contract. Every query is scoped to one bot.
// QuerySimilar returns no rows when limit <= 0.
type EmbeddingRepository interface {
	InsertEmbeddings(ctx context.Context, records []*models.EmbeddingRecord) (int, error)
	QuerySimilar(ctx context.Context, botID string, vector []float32, limit int, threshold float64) ([]models.SimilarityResult, error)
	DeleteEmbeddings(ctx context.Context, ids []string) (int, error)
	DeleteByBotID(ctx context.Context, botID string) (int, error)
	DeleteByBotIDAndSource(ctx context.Context, botID, source string) (int, error)
	DeleteByBotIDAndTag(ctx context.Context, botID, tag string) (int, error)
	UpdateEmbeddingMetadata(ctx context.Context, id string, metadata models.Metadata) (*models.EmbeddingRecord, error)
	ListEmbeddingsByBotID(ctx context.Context, botID string) ([]*models.EmbeddingRecord, error)
}
