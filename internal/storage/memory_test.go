package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/kb-bot/internal/errs"
	"github.com/xaenox/kb-bot/internal/models"
)

func TestMemoryStorage_Bots(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	missing, err := s.GetBot(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	first := &models.Bot{Name: "first", Model: "gpt-4o", Prompt: "p1"}
	second := &models.Bot{Name: "second", Model: "gpt-4o", Prompt: "p2", AutoUpdateKB: true}
	require.NoError(t, s.CreateBot(ctx, first))
	require.NoError(t, s.CreateBot(ctx, second))
	assert.NotEmpty(t, first.ID)

	bots, err := s.ListBots(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 2)
	assert.Equal(t, "second", bots[0].Name)

	auto, err := s.ListAutoUpdateBots(ctx)
	require.NoError(t, err)
	require.Len(t, auto, 1)
	assert.Equal(t, second.ID, auto[0].ID)

	prompt := "rewritten"
	updated, err := s.UpdateBot(ctx, first.ID, models.BotUpdate{Prompt: &prompt})
	require.NoError(t, err)
	assert.Equal(t, "rewritten", updated.Prompt)
	assert.Equal(t, "first", updated.Name)

	_, err = s.UpdateBot(ctx, "nope", models.BotUpdate{Prompt: &prompt})
	assert.ErrorIs(t, err, errs.ErrBotNotFound)
}

func TestMemoryStorage_CrawlerLinks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	_, err := s.AddCrawlerLink(ctx, "bot-1", "https://a.example.com/results")
	require.NoError(t, err)
	_, err = s.AddCrawlerLink(ctx, "bot-2", "https://b.example.com/results")
	require.NoError(t, err)

	links, err := s.GetCrawlerLinks(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com/results"}, links)
}

func TestMemoryStorage_MessagesOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	m1, err := s.CreateMessage(ctx, "bot-1", models.RoleUser, "hello", "t1")
	require.NoError(t, err)
	m2, err := s.CreateMessage(ctx, "bot-1", models.RoleAssistant, "hi there", "t1")
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, "bot-1", models.RoleUser, "other thread", "t2")
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, "bot-2", models.RoleUser, "other bot", "t1")
	require.NoError(t, err)

	msgs, err := s.GetMessages(ctx, "bot-1", "t1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, m1.ID, msgs[0].ID)
	assert.Equal(t, m2.ID, msgs[1].ID)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))

	all, err := s.GetMessages(ctx, "bot-1", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt))
	}

	limited, err := s.GetMessages(ctx, "bot-1", "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "hello", limited[0].Content)
}

func seedEmbeddings(t *testing.T, s *MemoryStorage) {
	t.Helper()
	_, err := s.InsertEmbeddings(context.Background(), []*models.EmbeddingRecord{
		{ID: "a", BotID: "bot-1", Content: "exact", Embedding: []float32{1, 0}, Metadata: models.Metadata{"source": "https://example.com/a"}},
		{ID: "b", BotID: "bot-1", Content: "close", Embedding: []float32{0.8, 0.6}, Metadata: models.Metadata{"source": "https://example.com/b"}},
		{ID: "c", BotID: "bot-1", Content: "orthogonal", Embedding: []float32{0, 1}, Metadata: models.Metadata{"source": "manual.pdf"}},
		{ID: "d", BotID: "bot-2", Content: "foreign", Embedding: []float32{1, 0}, Metadata: models.Metadata{"source": "https://example.com/d"}},
	})
	require.NoError(t, err)
}

func TestMemoryStorage_QuerySimilar(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	seedEmbeddings(t, s)

	results, err := s.QuerySimilar(ctx, "bot-1", []float32{1, 0}, 5, 0.4)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
	assert.InDelta(t, 0.8, results[1].Similarity, 1e-6)

	limited, err := s.QuerySimilar(ctx, "bot-1", []float32{1, 0}, 1, 0.4)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// strict inequality: a similarity equal to the threshold is excluded
	strict, err := s.QuerySimilar(ctx, "bot-1", []float32{1, 0}, 5, 1.0)
	require.NoError(t, err)
	assert.Empty(t, strict)

	none, err := s.QuerySimilar(ctx, "bot-3", []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	for _, limit := range []int{0, -1} {
		capped, err := s.QuerySimilar(ctx, "bot-1", []float32{1, 0}, limit, 0)
		require.NoError(t, err)
		assert.NotNil(t, capped)
		assert.Empty(t, capped)
	}
}

func TestMemoryStorage_DeleteEmbeddings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	seedEmbeddings(t, s)

	n, err := s.DeleteEmbeddings(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.DeleteEmbeddings(ctx, []string{"a", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.DeleteByBotIDAndSource(ctx, "bot-1", "example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := s.ListEmbeddingsByBotID(ctx, "bot-1")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "c", left[0].ID)

	n, err = s.DeleteByBotID(ctx, "bot-2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStorage_DeleteByBotIDAndTag(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	_, err := s.InsertEmbeddings(ctx, []*models.EmbeddingRecord{
		{ID: "a", BotID: "bot-1", Embedding: []float32{1}, Tag: "crawler"},
		{ID: "b", BotID: "bot-1", Embedding: []float32{1}, Tag: "faq.json"},
		{ID: "c", BotID: "bot-2", Embedding: []float32{1}, Tag: "crawler"},
	})
	require.NoError(t, err)

	n, err := s.DeleteByBotIDAndTag(ctx, "bot-1", "crawler")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := s.ListEmbeddingsByBotID(ctx, "bot-1")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "b", left[0].ID)

	other, err := s.ListEmbeddingsByBotID(ctx, "bot-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestMemoryStorage_UpdateEmbeddingMetadata(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	seedEmbeddings(t, s)

	meta := models.Metadata{"source": "replaced"}
	rec, err := s.UpdateEmbeddingMetadata(ctx, "a", meta)
	require.NoError(t, err)
	assert.Equal(t, meta, rec.Metadata)

	_, err = s.UpdateEmbeddingMetadata(ctx, "missing", meta)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMemoryStorage_ListEmbeddingsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	seedEmbeddings(t, s)

	records, err := s.ListEmbeddingsByBotID(ctx, "bot-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{records[0].ID, records[1].ID, records[2].ID})
	assert.Nil(t, records[0].Embedding)
}
