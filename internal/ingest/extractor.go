package ingest

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/kb-bot/internal/errs"
	"github.com/xaenox/kb-bot/internal/llm"
	"go.uber.org/zap"
)

const (
	DefaultExtractorModel     = openai.GPT4o
	DefaultExtractorMaxTokens = 10000
	extractorTemperature      = 0.3
)

const extractorPrompt = "You are a content extractor. Extract the main content, key information, and important details from the provided HTML. Ignore navigation menus, footers, ads. Return the content in a clear, readable format. Do not explain the content, just extract it."

// PageExtractor turns a raw crawled page into readable text.
type PageExtractor interface {
	Extract(ctx context.Context, html string) (string, error)
}

type GPTExtractor struct {
	client    llm.ChatCompleter
	model     string
	maxTokens int
	logger    *zap.Logger
}

func NewGPTExtractor(client llm.ChatCompleter, model string, maxTokens int, logger *zap.Logger) *GPTExtractor {
	if model == "" {
		model = DefaultExtractorModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultExtractorMaxTokens
	}
	return &GPTExtractor{client: client, model: model, maxTokens: maxTokens, logger: logger}
}

func (e *GPTExtractor) Extract(ctx context.Context, html string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractorPrompt},
			{Role: openai.ChatMessageRoleUser, Content: html},
		},
		Temperature: extractorTemperature,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		e.logger.Error("Failed to extract page content", zap.Error(err))
		return "", errs.ProviderError("GPTExtractor.Extract", "Failed to extract page content", err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.ProviderError("GPTExtractor.Extract", "Failed to extract page content", fmt.Errorf("no choices returned"))
	}
	return llm.MessageText(resp.Choices[0].Message), nil
}
