package llm

import (
	"context"
	"encoding/json"

	"github.com/sashabaranov/go-openai"
)

// ChatCompleter is the part of *openai.Client used for chat generation.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewClient builds an OpenAI client, pointed at baseURL when it is set.
func NewClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// MessageText returns the textual content of a model message.
// Multi-part content is serialized to JSON.
func MessageText(msg openai.ChatCompletionMessage) string {
	if msg.Content != "" || len(msg.MultiContent) == 0 {
		return msg.Content
	}
	b, err := json.Marshal(msg.MultiContent)
	if err != nil {
		return ""
	}
	return string(b)
}
