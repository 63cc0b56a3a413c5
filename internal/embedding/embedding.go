package embedding

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/kb-bot/internal/errs"
)

const (
	DefaultModel      = openai.SmallEmbedding3
	DefaultDimensions = 1536
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client is the part of *openai.Client the embedder needs.
type Client interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder makes one upstream call per Embed, with no caching or retry.
type OpenAIEmbedder struct {
	client     Client
	model      openai.EmbeddingModel
	dimensions int
}

func NewOpenAIEmbedder(client Client, model string, dimensions int) *OpenAIEmbedder {
	m := openai.EmbeddingModel(model)
	if m == "" {
		m = DefaultModel
	}
	return &OpenAIEmbedder{
		client:     client,
		model:      m,
		dimensions: dimensions,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "OpenAIEmbedder.Embed"

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	}
	if e.dimensions > 0 && e.model != openai.AdaEmbeddingV2 {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, errs.ProviderError(op, "Failed to create embedding", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errs.ProviderError(op, "Failed to create embedding", errors.New("provider returned no embedding data"))
	}

	return resp.Data[0].Embedding, nil
}
