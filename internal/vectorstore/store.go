// Package vectorstore embeds knowledge-base content and answers similarity
// queries scoped to one bot.
package vectorstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/xaenox/kb-bot/internal/embedding"
	"github.com/xaenox/kb-bot/internal/models"
	"github.com/xaenox/kb-bot/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultLimit     = 5
	DefaultThreshold = 0.4

	defaultConcurrency = 8
)

type Store struct {
	embedder    embedding.Embedder
	repo        storage.EmbeddingRepository
	concurrency int
	logger      *zap.Logger
}

type Option func(*Store)

// WithConcurrency caps the number of embedding calls in flight during a batch store.
func WithConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func New(embedder embedding.Embedder, repo storage.EmbeddingRepository, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		embedder:    embedder,
		repo:        repo,
		concurrency: defaultConcurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CountResult struct {
	Count int `json:"count"`
}

// StoreEmbedding embeds content and persists it as a new record.
func (s *Store) StoreEmbedding(ctx context.Context, content, botID string, metadata models.Metadata) (*models.EmbeddingRecord, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}

	if metadata == nil {
		metadata = models.Metadata{}
	}
	rec := &models.EmbeddingRecord{
		ID:        uuid.New().String(),
		Content:   content,
		Embedding: vec,
		Metadata:  metadata,
		BotID:     botID,
	}
	if _, err := s.repo.InsertEmbeddings(ctx, []*models.EmbeddingRecord{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

// BatchStoreEmbeddings embeds every item concurrently and inserts all records at once.
// Missing metadata source and loc default to "unknown".
func (s *Store) BatchStoreEmbeddings(ctx context.Context, botID string, items []models.EmbeddingItem, tag string) (CountResult, error) {
	if len(items) == 0 {
		return CountResult{Count: 0}, nil
	}

	s.logger.Info("Storing embeddings batch",
		zap.String("bot_id", botID),
		zap.Int("items", len(items)),
		zap.String("tag", tag))

	records := make([]*models.EmbeddingRecord, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, item := range items {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, item.Content)
			if err != nil {
				return err
			}
			records[i] = &models.EmbeddingRecord{
				ID:        uuid.New().String(),
				Content:   item.Content,
				Embedding: vec,
				Metadata: models.Metadata{
					"source": stringOrUnknown(item.Metadata, "source"),
					"loc":    stringOrUnknown(item.Metadata, "loc"),
				},
				BotID: botID,
				Tag:   tag,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CountResult{}, err
	}

	n, err := s.repo.InsertEmbeddings(ctx, records)
	if err != nil {
		return CountResult{}, err
	}
	return CountResult{Count: n}, nil
}

func stringOrUnknown(m models.Metadata, key string) any {
	v, ok := m[key]
	if !ok || v == nil || v == "" {
		return models.UnknownSource
	}
	return v
}

// QuerySimilar returns at most limit records of botID whose cosine similarity
// to queryText is strictly greater than threshold, best first.
func (s *Store) QuerySimilar(ctx context.Context, botID, queryText string, limit int, threshold float64) ([]models.SimilarityResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s.logger.Debug("Querying similar content",
		zap.String("bot_id", botID),
		zap.String("query", queryText),
		zap.Int("limit", limit),
		zap.Float64("threshold", threshold))

	vec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	return s.repo.QuerySimilar(ctx, botID, vec, limit, threshold)
}

func (s *Store) DeleteEmbeddings(ctx context.Context, ids []string) (CountResult, error) {
	n, err := s.repo.DeleteEmbeddings(ctx, ids)
	return CountResult{Count: n}, err
}

func (s *Store) DeleteByBotID(ctx context.Context, botID string) (CountResult, error) {
	n, err := s.repo.DeleteByBotID(ctx, botID)
	return CountResult{Count: n}, err
}

// DeleteByBotIDAndMetadataSource removes records whose metadata source contains
// source, case-sensitively.
func (s *Store) DeleteByBotIDAndMetadataSource(ctx context.Context, botID, source string) (CountResult, error) {
	n, err := s.repo.DeleteByBotIDAndSource(ctx, botID, source)
	return CountResult{Count: n}, err
}

// DeleteByBotIDAndTag removes the records stored under tag.
func (s *Store) DeleteByBotIDAndTag(ctx context.Context, botID, tag string) (CountResult, error) {
	n, err := s.repo.DeleteByBotIDAndTag(ctx, botID, tag)
	return CountResult{Count: n}, err
}

// UpdateEmbeddingMetadata replaces the metadata of a record wholesale.
func (s *Store) UpdateEmbeddingMetadata(ctx context.Context, id string, metadata models.Metadata) (*models.EmbeddingRecord, error) {
	if metadata == nil {
		metadata = models.Metadata{}
	}
	return s.repo.UpdateEmbeddingMetadata(ctx, id, metadata)
}

func (s *Store) GetAllEmbeddingsByBotID(ctx context.Context, botID string) ([]*models.EmbeddingRecord, error) {
	return s.repo.ListEmbeddingsByBotID(ctx, botID)
}
