package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/kb-bot/internal/errs"
	"github.com/xaenox/kb-bot/internal/models"
)

type MemoryStorage struct {
	mu          sync.RWMutex
	bots        map[string]*models.Bot
	messages    []*models.Message
	embeddings  []*models.EmbeddingRecord
	links       []*models.CrawlerLink
	lastCreated time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		bots: make(map[string]*models.Bot),
	}
}

// now returns a timestamp strictly after every one handed out before, so that
// created_at ordering equals insertion ordering. Callers hold s.mu.
func (s *MemoryStorage) now() time.Time {
	t := time.Now().UTC()
	if !t.After(s.lastCreated) {
		t = s.lastCreated.Add(time.Microsecond)
	}
	s.lastCreated = t
	return t
}

// Bot methods
func (s *MemoryStorage) CreateBot(ctx context.Context, bot *models.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bot.ID == "" {
		bot.ID = uuid.New().String()
	}
	if _, exists := s.bots[bot.ID]; exists {
		return errs.StoreError("MemoryStorage.CreateBot", "Failed to create bot", fmt.Errorf("bot %s already exists", bot.ID))
	}
	bot.CreatedAt = s.now()
	bot.UpdatedAt = bot.CreatedAt

	stored := *bot
	s.bots[bot.ID] = &stored
	return nil
}

func (s *MemoryStorage) GetBot(ctx context.Context, id string) (*models.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bot, exists := s.bots[id]; exists {
		out := *bot
		return &out, nil
	}
	return nil, nil
}

func (s *MemoryStorage) ListBots(ctx context.Context) ([]*models.Bot, error) {
	return s.listBots(func(*models.Bot) bool { return true }), nil
}

func (s *MemoryStorage) ListAutoUpdateBots(ctx context.Context) ([]*models.Bot, error) {
	return s.listBots(func(b *models.Bot) bool { return b.AutoUpdateKB }), nil
}

func (s *MemoryStorage) listBots(keep func(*models.Bot) bool) []*models.Bot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Bot, 0, len(s.bots))
	for _, bot := range s.bots {
		if keep(bot) {
			out := *bot
			result = append(result, &out)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (s *MemoryStorage) UpdateBot(ctx context.Context, id string, update models.BotUpdate) (*models.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bot, exists := s.bots[id]
	if !exists {
		return nil, errs.StoreError("MemoryStorage.UpdateBot", "Failed to update bot", errs.ErrBotNotFound)
	}
	update.Apply(bot)
	bot.UpdatedAt = s.now()

	out := *bot
	return &out, nil
}

func (s *MemoryStorage) AddCrawlerLink(ctx context.Context, botID, url string) (*models.CrawlerLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link := &models.CrawlerLink{
		ID:        uuid.New().String(),
		BotID:     botID,
		URL:       url,
		CreatedAt: s.now(),
	}
	s.links = append(s.links, link)

	out := *link
	return &out, nil
}

func (s *MemoryStorage) GetCrawlerLinks(ctx context.Context, botID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	urls := []string{}
	for _, link := range s.links {
		if link.BotID == botID {
			urls = append(urls, link.URL)
		}
	}
	return urls, nil
}

// Message methods
func (s *MemoryStorage) CreateMessage(ctx context.Context, botID string, role models.Role, content, threadID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &models.Message{
		ID:        uuid.New().String(),
		BotID:     botID,
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.messages = append(s.messages, msg)

	out := *msg
	return &out, nil
}

func (s *MemoryStorage) GetMessages(ctx context.Context, botID, threadID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*models.Message{}
	for _, msg := range s.messages {
		if msg.BotID != botID {
			continue
		}
		if threadID != "" && msg.ThreadID != threadID {
			continue
		}
		out := *msg
		result = append(result, &out)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Embedding methods
func (s *MemoryStorage) InsertEmbeddings(ctx context.Context, records []*models.EmbeddingRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		rec.CreatedAt = s.now()
		stored := *rec
		stored.Metadata = rec.Metadata.Clone()
		s.embeddings = append(s.embeddings, &stored)
	}
	return len(records), nil
}

func (s *MemoryStorage) QuerySimilar(ctx context.Context, botID string, vector []float32, limit int, threshold float64) ([]models.SimilarityResult, error) {
	results := []models.SimilarityResult{}
	if limit <= 0 {
		return results, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.embeddings {
		if rec.BotID != botID {
			continue
		}
		similarity := CosineSimilarity(vector, rec.Embedding)
		if similarity <= threshold {
			continue
		}
		results = append(results, models.SimilarityResult{
			ID:         rec.ID,
			Content:    rec.Content,
			Metadata:   rec.Metadata.Clone(),
			Similarity: similarity,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *MemoryStorage) DeleteEmbeddings(ctx context.Context, ids []string) (int, error) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return s.deleteEmbeddings(func(rec *models.EmbeddingRecord) bool {
		_, ok := set[rec.ID]
		return ok
	}), nil
}

func (s *MemoryStorage) DeleteByBotID(ctx context.Context, botID string) (int, error) {
	return s.deleteEmbeddings(func(rec *models.EmbeddingRecord) bool {
		return rec.BotID == botID
	}), nil
}

func (s *MemoryStorage) DeleteByBotIDAndSource(ctx context.Context, botID, source string) (int, error) {
	return s.deleteEmbeddings(func(rec *models.EmbeddingRecord) bool {
		return rec.BotID == botID && strings.Contains(rec.Metadata.Source(), source)
	}), nil
}

func (s *MemoryStorage) DeleteByBotIDAndTag(ctx context.Context, botID, tag string) (int, error) {
	return s.deleteEmbeddings(func(rec *models.EmbeddingRecord) bool {
		return rec.BotID == botID && rec.Tag == tag
	}), nil
}

func (s *MemoryStorage) deleteEmbeddings(match func(*models.EmbeddingRecord) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.embeddings[:0]
	deleted := 0
	for _, rec := range s.embeddings {
		if match(rec) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.embeddings = kept
	return deleted
}

func (s *MemoryStorage) UpdateEmbeddingMetadata(ctx context.Context, id string, metadata models.Metadata) (*models.EmbeddingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.embeddings {
		if rec.ID == id {
			rec.Metadata = metadata.Clone()
			out := *rec
			out.Metadata = rec.Metadata.Clone()
			return &out, nil
		}
	}
	return nil, fmt.Errorf("no embedding found with id %s: %w", id, errs.ErrNotFound)
}

func (s *MemoryStorage) ListEmbeddingsByBotID(ctx context.Context, botID string) ([]*models.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*models.EmbeddingRecord{}
	for i := len(s.embeddings) - 1; i >= 0; i-- {
		rec := s.embeddings[i]
		if rec.BotID != botID {
			continue
		}
		out := *rec
		out.Embedding = nil
		out.Metadata = rec.Metadata.Clone()
		result = append(result, &out)
	}
	return result, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
