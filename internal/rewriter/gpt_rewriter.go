package rewriter

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/kb-bot/internal/errs"
	"github.com/xaenox/kb-bot/internal/llm"
	"go.uber.org/zap"
)

const (
	DefaultModel       = openai.GPT4o
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 4000
)

const queryGeneratorPrompt = `You are a query generator for a vector database search system. Your task is to analyze the conversation and generate a focused search query that will help find relevant information from a knowledge base.

Instructions:
1. Analyze the conversation context, focusing on the user's latest questions and needs
2. Extract key concepts, terms, and phrases that represent the core information need
3. Create a clear, concise search query that captures the essential search intent
4. Focus on factual and specific terms rather than conversational elements
5. Exclude generic pleasantries, greetings, or meta-conversation
6. If the conversation has multiple topics, prioritize the most recent relevant topic
7. The query should be 1 sentence maximum, focused on the key search terms - ideally several words

Do not explain your process or add any commentary. Return only the search query.`

type GPTRewriter struct {
	client      llm.ChatCompleter
	model       string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

func NewGPTRewriter(client llm.ChatCompleter, model string, maxTokens int, temperature float32, logger *zap.Logger) *GPTRewriter {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &GPTRewriter{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

// Rewrite asks the model for a search query. Failures are returned as-is;
// there is no fallback to the raw message.
func (r *GPTRewriter) Rewrite(ctx context.Context, history []Turn) (string, error) {
	resp, err := r.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: r.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: queryGeneratorPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: "Please analyze this conversation and create a search query:\n\n" + formatTranscript(history),
				},
			},
			MaxTokens:   r.maxTokens,
			Temperature: r.temperature,
		},
	)
	if err != nil {
		r.logger.Error("Failed to get query rewrite", zap.Error(err))
		return "", errs.ProviderError("GPTRewriter.Rewrite", "Failed to rewrite query", err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.ProviderError("GPTRewriter.Rewrite", "Failed to rewrite query", errors.New("no choices returned"))
	}

	query := strings.TrimSpace(llm.MessageText(resp.Choices[0].Message))
	r.logger.Debug("Rewrote retrieval query", zap.String("query", query), zap.Int("turns", len(history)))
	return query, nil
}
