// Package bot answers user messages for a configured bot: it loads the
// thread, retrieves knowledge base context, calls the model and runs at most
// one round of tool calls before persisting the reply.
package bot

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/kb-bot/internal/errs"
	"github.com/xaenox/kb-bot/internal/llm"
	"github.com/xaenox/kb-bot/internal/models"
	"github.com/xaenox/kb-bot/internal/rewriter"
	"github.com/xaenox/kb-bot/internal/storage"
	"github.com/xaenox/kb-bot/internal/tools"
	"go.uber.org/zap"
)

const contextInstruction = "\n\nUse the following pieces of context to answer the question. If you don't know the answer, just say that you don't know, don't try to make up an answer.:\n----------------\n"

const (
	toolResultsHeader = "I have executed the tools and here are the results:\n"
	toolResultsFooter = "\n\nPlease provide a natural language response using these results. Do not make any new tool calls."
)

// Retriever is the similarity search the service reads context from.
type Retriever interface {
	QuerySimilar(ctx context.Context, botID, queryText string, limit int, threshold float64) ([]models.SimilarityResult, error)
}

// RetrievalOptions bounds the context pulled into the prompt. The cold values
// apply to the first turn of a thread, when the raw message is the query.
type RetrievalOptions struct {
	Limit         int
	Threshold     float64
	ColdLimit     int
	ColdThreshold float64
}

func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		Limit:         10,
		Threshold:     0.25,
		ColdLimit:     8,
		ColdThreshold: 0.25,
	}
}

type Response struct {
	Content string `json:"content"`
}

type Service struct {
	bots       storage.BotStore
	messages   storage.MessageStore
	retriever  Retriever
	rewriter   rewriter.Rewriter
	chat       llm.ChatCompleter
	httpClient *http.Client
	retrieval  RetrievalOptions
	locks      *threadLocker
	logger     *zap.Logger
}

func NewService(
	bots storage.BotStore,
	messages storage.MessageStore,
	retriever Retriever,
	rw rewriter.Rewriter,
	chat llm.ChatCompleter,
	httpClient *http.Client,
	retrieval RetrievalOptions,
	logger *zap.Logger,
) *Service {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Service{
		bots:       bots,
		messages:   messages,
		retriever:  retriever,
		rewriter:   rw,
		chat:       chat,
		httpClient: httpClient,
		retrieval:  retrieval,
		locks:      newThreadLocker(),
		logger:     logger,
	}
}

// HandleMessage runs one conversation turn and returns the assistant reply.
// Turns on the same thread are serialised. The user message stays persisted
// even when generation fails.
func (s *Service) HandleMessage(ctx context.Context, botID, content, threadID string) (Response, error) {
	b, err := s.getBot(ctx, botID)
	if err != nil {
		return Response{}, err
	}

	unlock := s.locks.Lock(botID + "\x00" + threadID)
	defer unlock()

	userMsg, err := s.messages.CreateMessage(ctx, botID, models.RoleUser, content, threadID)
	if err != nil {
		return Response{}, err
	}

	history, err := s.messages.GetMessages(ctx, botID, threadID, 0)
	if err != nil {
		return Response{}, err
	}

	query, limit, threshold := content, s.retrieval.ColdLimit, s.retrieval.ColdThreshold
	if len(history) > 1 {
		query, err = s.rewriter.Rewrite(ctx, toTurns(history))
		if err != nil {
			return Response{}, err
		}
		limit, threshold = s.retrieval.Limit, s.retrieval.Threshold
	}

	results, err := s.retriever.QuerySimilar(ctx, botID, query, limit, threshold)
	if err != nil {
		return Response{}, err
	}

	s.logger.Debug("Retrieved context",
		zap.String("bot_id", botID),
		zap.String("thread_id", threadID),
		zap.String("query", query),
		zap.Int("results", len(results)))

	msgs := buildMessages(systemPrompt(b.Prompt, results), history, userMsg)
	req := newRequest(b, msgs)

	registry := tools.Compile(b.Tools, s.httpClient)
	if registry.Len() > 0 {
		req.Tools = registry.Definitions()
	}

	resp, err := s.complete(ctx, req)
	if err != nil {
		return Response{}, err
	}
	reply := resp.Choices[0].Message

	if len(reply.ToolCalls) > 0 {
		results := make([]tools.Result, 0, len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			res := registry.Dispatch(ctx, call)
			if res.Err != nil {
				s.logger.Warn("Tool call failed",
					zap.String("bot_id", botID),
					zap.String("tool", res.Name),
					zap.String("call_id", res.CallID),
					zap.Error(res.Err))
			}
			results = append(results, res)
		}

		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: toolResultsMessage(results),
		})
		req.Tools = nil
		req.ToolChoice = nil

		resp, err = s.complete(ctx, req)
		if err != nil {
			return Response{}, err
		}
		reply = resp.Choices[0].Message
	}

	answer := llm.MessageText(reply)
	if _, err := s.messages.CreateMessage(ctx, botID, models.RoleAssistant, answer, threadID); err != nil {
		return Response{}, err
	}

	return Response{Content: answer}, nil
}

// GetBotSettings returns the widget settings of a bot.
func (s *Service) GetBotSettings(ctx context.Context, botID string) (models.WidgetSettings, error) {
	b, err := s.getBot(ctx, botID)
	if err != nil {
		return models.WidgetSettings{}, err
	}
	return b.WidgetSettings, nil
}

// GetThreadMessages returns the messages of a thread in conversation order.
func (s *Service) GetThreadMessages(ctx context.Context, botID, threadID string) ([]*models.Message, error) {
	return s.messages.GetMessages(ctx, botID, threadID, 0)
}

func (s *Service) getBot(ctx context.Context, botID string) (*models.Bot, error) {
	b, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errs.ErrBotNotFound
	}
	return b, nil
}

func (s *Service) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	resp, err := s.chat.CreateChatCompletion(ctx, req)
	if err != nil {
		s.logger.Error("Failed to get chat completion",
			zap.String("model", req.Model),
			zap.Error(err))
		return resp, errs.ProviderError("Service.HandleMessage", "Failed to generate response", err)
	}
	if len(resp.Choices) == 0 {
		return resp, errs.ProviderError("Service.HandleMessage", "Failed to generate response", fmt.Errorf("no choices returned"))
	}
	return resp, nil
}

func systemPrompt(prompt string, results []models.SimilarityResult) string {
	if len(results) == 0 {
		return prompt
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		source := r.Metadata.Source()
		if source == "" {
			source = models.UnknownSource
		}
		parts = append(parts, fmt.Sprintf("%s\n(Source: %s)", r.Content, source))
	}
	return prompt + contextInstruction + strings.Join(parts, "\n\n")
}

// buildMessages assembles system prompt, prior turns and the current message.
// history includes the just-persisted current message; it is skipped there
// so that it is appended last exactly once.
func buildMessages(system string, history []*models.Message, current *models.Message) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})

	for _, m := range history {
		if m.ID == current.ID {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case models.RoleAssistant:
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content})
		}
	}

	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: current.Content})
}

// newRequest copies the bot's generation settings; unset ones keep the provider default.
func newRequest(b *models.Bot, msgs []openai.ChatCompletionMessage) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    b.Model,
		Messages: msgs,
	}
	st := b.Settings
	if st.Temperature != nil {
		req.Temperature = *st.Temperature
	}
	if st.MaxTokens != nil {
		req.MaxTokens = *st.MaxTokens
	}
	if st.TopP != nil {
		req.TopP = *st.TopP
	}
	if st.FrequencyPenalty != nil {
		req.FrequencyPenalty = *st.FrequencyPenalty
	}
	if st.PresencePenalty != nil {
		req.PresencePenalty = *st.PresencePenalty
	}
	if len(st.StopSequences) > 0 {
		req.Stop = st.StopSequences
	}
	return req
}

func toolResultsMessage(results []tools.Result) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("%s returned: %s", r.Name, r.Text()))
	}
	return toolResultsHeader + strings.Join(lines, "\n") + toolResultsFooter
}

func toTurns(history []*models.Message) []rewriter.Turn {
	turns := make([]rewriter.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, rewriter.Turn{Role: string(m.Role), Content: m.Content})
	}
	return turns
}
