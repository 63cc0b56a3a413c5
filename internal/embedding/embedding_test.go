package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/kb-bot/internal/errs"
)

type fakeClient struct {
	resp openai.EmbeddingResponse
	err  error
	reqs []openai.EmbeddingRequest
}

func (f *fakeClient) CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.reqs = append(f.reqs, conv.Convert())
	return f.resp, f.err
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	client := &fakeClient{resp: openai.EmbeddingResponse{
		Data: []openai.Embedding{{Embedding: []float32{0.1, 0.2}}},
	}}
	e := NewOpenAIEmbedder(client, "", DefaultDimensions)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)

	require.Len(t, client.reqs, 1)
	assert.Equal(t, DefaultModel, client.reqs[0].Model)
	assert.Equal(t, []string{"hello"}, client.reqs[0].Input)
	assert.Equal(t, DefaultDimensions, client.reqs[0].Dimensions)
}

func TestOpenAIEmbedder_ProviderErrors(t *testing.T) {
	cause := errors.New("rate limited")
	e := NewOpenAIEmbedder(&fakeClient{err: cause}, "text-embedding-3-small", 0)

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, errs.IsCode(err, errs.CodeProvider))

	e = NewOpenAIEmbedder(&fakeClient{}, "text-embedding-3-small", 0)
	_, err = e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeProvider))
}
