package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/kb-bot/internal/errs"
	"github.com/xaenox/kb-bot/internal/models"
	"github.com/xaenox/kb-bot/internal/rewriter"
	"github.com/xaenox/kb-bot/internal/storage"
	"go.uber.org/zap"
)

type scriptedChat struct {
	mu        sync.Mutex
	responses []openai.ChatCompletionMessage
	err       error
	reqs      []openai.ChatCompletionRequest
}

func (c *scriptedChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return openai.ChatCompletionResponse{}, c.err
	}
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "ok"}
	if len(c.responses) > 0 {
		msg = c.responses[0]
		c.responses = c.responses[1:]
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: msg}}}, nil
}

type fakeRetriever struct {
	results []models.SimilarityResult
	queries []string
	limits  []int
	thresh  []float64
}

func (r *fakeRetriever) QuerySimilar(ctx context.Context, botID, queryText string, limit int, threshold float64) ([]models.SimilarityResult, error) {
	r.queries = append(r.queries, queryText)
	r.limits = append(r.limits, limit)
	r.thresh = append(r.thresh, threshold)
	return r.results, nil
}

type fakeRewriter struct {
	query   string
	err     error
	history [][]rewriter.Turn
}

func (r *fakeRewriter) Rewrite(ctx context.Context, history []rewriter.Turn) (string, error) {
	r.history = append(r.history, history)
	return r.query, r.err
}

type fixture struct {
	store     *storage.MemoryStorage
	chat      *scriptedChat
	retriever *fakeRetriever
	rewriter  *fakeRewriter
	svc       *Service
	bot       *models.Bot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     storage.NewMemoryStorage(),
		chat:      &scriptedChat{},
		retriever: &fakeRetriever{},
		rewriter:  &fakeRewriter{query: "rewritten query"},
	}
	f.bot = &models.Bot{ID: "bot-1", Name: "Support", Model: "gpt-4o-mini", Prompt: "You are a support bot."}
	require.NoError(t, f.store.CreateBot(context.Background(), f.bot))
	f.svc = NewService(f.store, f.store, f.retriever, f.rewriter, f.chat, nil, DefaultRetrievalOptions(), zap.NewNop())
	return f
}

func (f *fixture) thread(t *testing.T, threadID string) []*models.Message {
	t.Helper()
	msgs, err := f.svc.GetThreadMessages(context.Background(), f.bot.ID, threadID)
	require.NoError(t, err)
	return msgs
}

func TestHandleMessage_FirstTurnWithoutContext(t *testing.T) {
	f := newFixture(t)
	f.chat.responses = []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleAssistant, Content: "Hello there"}}

	resp, err := f.svc.HandleMessage(context.Background(), "bot-1", "hi", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)

	assert.Empty(t, f.rewriter.history)
	assert.Equal(t, []string{"hi"}, f.retriever.queries)
	assert.Equal(t, []int{8}, f.retriever.limits)
	assert.Equal(t, []float64{0.25}, f.retriever.thresh)

	require.Len(t, f.chat.reqs, 1)
	req := f.chat.reqs[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Nil(t, req.Tools)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "You are a support bot.", req.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
	assert.Equal(t, "hi", req.Messages[1].Content)

	msgs := f.thread(t, "t1")
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello there", msgs[1].Content)
}

func TestHandleMessage_RewritesQueryWhenHistoryExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateMessage(ctx, "bot-1", models.RoleUser, "do you ship abroad?", "t1")
	require.NoError(t, err)
	_, err = f.store.CreateMessage(ctx, "bot-1", models.RoleAssistant, "Yes, to the EU.", "t1")
	require.NoError(t, err)

	f.retriever.results = []models.SimilarityResult{
		{ID: "e1", Content: "Shipping to the EU takes 3 days.", Metadata: models.Metadata{"source": "https://example.com/shipping"}, Similarity: 0.9},
		{ID: "e2", Content: "Returns are free.", Similarity: 0.5},
	}

	_, err = f.svc.HandleMessage(ctx, "bot-1", "how long does it take?", "t1")
	require.NoError(t, err)

	require.Len(t, f.rewriter.history, 1)
	assert.Equal(t, []rewriter.Turn{
		{Role: "user", Content: "do you ship abroad?"},
		{Role: "assistant", Content: "Yes, to the EU."},
		{Role: "user", Content: "how long does it take?"},
	}, f.rewriter.history[0])
	assert.Equal(t, []string{"rewritten query"}, f.retriever.queries)
	assert.Equal(t, []int{10}, f.retriever.limits)

	req := f.chat.reqs[0]
	require.Len(t, req.Messages, 4)
	assert.Equal(t,
		"You are a support bot."+contextInstruction+
			"Shipping to the EU takes 3 days.\n(Source: https://example.com/shipping)\n\n"+
			"Returns are free.\n(Source: unknown)",
		req.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, req.Messages[2].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[3].Role)
	assert.Equal(t, "how long does it take?", req.Messages[3].Content)
}

func TestHandleMessage_UnknownToolStillProducesFinalAnswer(t *testing.T) {
	f := newFixture(t)
	f.chat.responses = []openai.ChatCompletionMessage{
		{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID:       "call_1",
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "http_tool", Arguments: `{"id":"1"}`},
			}},
		},
		{Role: openai.ChatMessageRoleAssistant, Content: "Sorry, I could not look that up."},
	}

	resp, err := f.svc.HandleMessage(context.Background(), "bot-1", "what is project 1?", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I could not look that up.", resp.Content)

	require.Len(t, f.chat.reqs, 2)
	final := f.chat.reqs[1]
	assert.Nil(t, final.Tools)
	last := final.Messages[len(final.Messages)-1]
	assert.Equal(t, openai.ChatMessageRoleSystem, last.Role)
	assert.Equal(t,
		"I have executed the tools and here are the results:\n"+
			"http_tool returned: Error: Unknown tool: http_tool"+
			"\n\nPlease provide a natural language response using these results. Do not make any new tool calls.",
		last.Content)

	msgs := f.thread(t, "t1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "Sorry, I could not look that up.", msgs[1].Content)
}

func TestHandleMessage_CallsRegisteredHTTPTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("id"))
		w.Write([]byte(`{"name":"Apollo"}`))
	}))
	defer srv.Close()

	f := newFixture(t)
	tools := models.ToolDescriptors{{
		Method: "GET",
		URL:    srv.URL,
		Tool: models.ToolSpec{
			Name:        "current_project_name",
			Description: "Get project name by ID",
			Schema:      map[string]models.ToolParam{"id": {Type: "string", Description: "Project ID"}},
		},
	}}
	_, err := f.store.UpdateBot(context.Background(), "bot-1", models.BotUpdate{Tools: &tools})
	require.NoError(t, err)

	f.chat.responses = []openai.ChatCompletionMessage{
		{ToolCalls: []openai.ToolCall{{
			ID:       "call_1",
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: "current_project_name", Arguments: `{"id":"7"}`},
		}}},
		{Content: "Project 7 is Apollo."},
	}

	resp, err := f.svc.HandleMessage(context.Background(), "bot-1", "name of project 7?", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Project 7 is Apollo.", resp.Content)

	require.Len(t, f.chat.reqs, 2)
	require.Len(t, f.chat.reqs[0].Tools, 1)
	assert.Equal(t, "current_project_name", f.chat.reqs[0].Tools[0].Function.Name)
	last := f.chat.reqs[1].Messages[len(f.chat.reqs[1].Messages)-1]
	assert.Contains(t, last.Content, `current_project_name returned: {"name":"Apollo"}`)
}

func TestHandleMessage_PassesBotSettings(t *testing.T) {
	f := newFixture(t)
	temp, topP := float32(0.2), float32(0.9)
	maxTokens := 256
	settings := models.BotSettings{Temperature: &temp, TopP: &topP, MaxTokens: &maxTokens, StopSequences: []string{"END"}}
	_, err := f.store.UpdateBot(context.Background(), "bot-1", models.BotUpdate{Settings: &settings})
	require.NoError(t, err)

	_, err = f.svc.HandleMessage(context.Background(), "bot-1", "hi", "t1")
	require.NoError(t, err)

	req := f.chat.reqs[0]
	assert.Equal(t, float32(0.2), req.Temperature)
	assert.Equal(t, float32(0.9), req.TopP)
	assert.Equal(t, 256, req.MaxTokens)
	assert.Equal(t, []string{"END"}, req.Stop)
	assert.Zero(t, req.FrequencyPenalty)
	assert.Zero(t, req.PresencePenalty)
}

type countingBots struct {
	storage.BotStore
	gets int
}

func (c *countingBots) GetBot(ctx context.Context, id string) (*models.Bot, error) {
	c.gets++
	return c.BotStore.GetBot(ctx, id)
}

func TestHandleMessage_BotNotFound(t *testing.T) {
	f := newFixture(t)
	bots := &countingBots{BotStore: f.store}
	svc := NewService(bots, f.store, f.retriever, f.rewriter, f.chat, nil, DefaultRetrievalOptions(), zap.NewNop())

	_, err := svc.HandleMessage(context.Background(), "missing", "hi", "t1")
	require.ErrorIs(t, err, errs.ErrBotNotFound)
	assert.Equal(t, "Bot not found", err.Error())

	assert.Equal(t, 1, bots.gets)
	assert.Empty(t, f.chat.reqs)
	assert.Empty(t, f.retriever.queries)
	assert.Empty(t, f.rewriter.history)
	msgs, err := f.store.GetMessages(context.Background(), "missing", "", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHandleMessage_FailureKeepsUserMessage(t *testing.T) {
	f := newFixture(t)
	cause := errors.New("provider down")
	f.chat.err = cause

	_, err := f.svc.HandleMessage(context.Background(), "bot-1", "hi", "t1")
	require.ErrorIs(t, err, cause)
	assert.True(t, errs.IsCode(err, errs.CodeProvider))

	msgs := f.thread(t, "t1")
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
}

func TestHandleMessage_RewriteFailureAbortsTurn(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.CreateMessage(context.Background(), "bot-1", models.RoleUser, "earlier", "t1")
	require.NoError(t, err)
	cause := errors.New("rewrite failed")
	f.rewriter.err = cause

	_, err = f.svc.HandleMessage(context.Background(), "bot-1", "now", "t1")
	require.ErrorIs(t, err, cause)
	assert.Empty(t, f.retriever.queries)
	assert.Empty(t, f.chat.reqs)
}

func TestHandleMessage_SerialisesSameThread(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.HandleMessage(context.Background(), "bot-1", "ping", "t1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs := f.thread(t, "t1")
	require.Len(t, msgs, 16)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, models.RoleUser, msgs[i].Role)
		assert.Equal(t, models.RoleAssistant, msgs[i+1].Role)
	}
	assert.Zero(t, f.svc.locks.size())
}

func TestGetBotSettings(t *testing.T) {
	f := newFixture(t)
	greeting := "Hi! Ask me anything."
	ws := models.WidgetSettings{InitialMessage: &greeting}
	_, err := f.store.UpdateBot(context.Background(), "bot-1", models.BotUpdate{WidgetSettings: &ws})
	require.NoError(t, err)

	got, err := f.svc.GetBotSettings(context.Background(), "bot-1")
	require.NoError(t, err)
	require.NotNil(t, got.InitialMessage)
	assert.Equal(t, greeting, *got.InitialMessage)

	_, err = f.svc.GetBotSettings(context.Background(), "nope")
	assert.ErrorIs(t, err, errs.ErrBotNotFound)
}
