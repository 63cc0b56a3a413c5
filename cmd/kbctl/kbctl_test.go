package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/kb-bot/internal/app"
	"github.com/xaenox/kb-bot/internal/bot"
	"github.com/xaenox/kb-bot/internal/ingest"
	"github.com/xaenox/kb-bot/internal/rewriter"
	"github.com/xaenox/kb-bot/internal/storage"
	"github.com/xaenox/kb-bot/internal/vectorstore"
	"go.uber.org/zap"
)

type unitEmbedder struct{}

func (unitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type echoChat struct{}

func (echoChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	last := req.Messages[len(req.Messages)-1].Content
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Content: "echo: " + last}},
	}}, nil
}

type echoExtractor struct{}

func (echoExtractor) Extract(ctx context.Context, html string) (string, error) { return html, nil }

func testCLI(t *testing.T) (*cli, *storage.MemoryStorage) {
	t.Helper()
	logger := zap.NewNop()
	mem := storage.NewMemoryStorage()
	vectors := vectorstore.New(unitEmbedder{}, mem, logger)
	a := &app.App{
		Store:    mem,
		Bots:     mem,
		Vectors:  vectors,
		Bot:      bot.NewService(mem, mem, vectors, rewriter.NewGPTRewriter(echoChat{}, "", 0, 0.3, logger), echoChat{}, nil, bot.DefaultRetrievalOptions(), logger),
		Ingester: ingest.NewIngester(mem, vectors, echoExtractor{}, nil, 1, logger),
	}
	c := &cli{logger: logger, app: a}
	return c, mem
}

func run(t *testing.T, c *cli, args ...string) string {
	t.Helper()
	root := c.root()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func TestBotsCreateAndList(t *testing.T) {
	c, mem := testCLI(t)

	out := run(t, c, "bots", "create", "--id", "bot-1", "--name", "Support", "--prompt", "Be nice.")
	assert.Equal(t, "Created bot bot-1\n", out)

	b, err := mem.GetBot(context.Background(), "bot-1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "gpt-4o-mini", b.Model)
	assert.Equal(t, "Be nice.", b.Prompt)

	out = run(t, c, "bots", "list")
	assert.Contains(t, out, "bot-1")
	assert.Contains(t, out, "Support")
}

func TestKBIngestListClear(t *testing.T) {
	c, _ := testCLI(t)
	run(t, c, "bots", "create", "--id", "bot-1", "--name", "Docs", "--prompt-template", "Docs: {{titles}} ({{count}})")

	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"content": "Refunds take 5 days.", "metadata": {"source": "faq.md", "loc": "1"}},
		{"content": "Shipping is free.", "metadata": {"source": "https://example.com/shipping"}}
	]`), 0o600))

	out := run(t, c, "kb", "ingest", "bot-1", path)
	assert.Equal(t, "Stored 2 embeddings from "+path+"\n", out)

	b, err := c.app.Bots.GetBot(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "Docs: faq.md, https://example.com/shipping (2)", b.Prompt)

	out = run(t, c, "kb", "list", "bot-1")
	assert.Contains(t, out, "faq.md")
	assert.Contains(t, out, "items.json")

	out = run(t, c, "kb", "clear", "bot-1", "--source", "example.com")
	assert.Equal(t, "Deleted 1 embeddings\n", out)
	out = run(t, c, "kb", "clear", "bot-1")
	assert.Equal(t, "Deleted 1 embeddings\n", out)
}

func TestChatAndThreadsShow(t *testing.T) {
	c, _ := testCLI(t)
	run(t, c, "bots", "create", "--id", "bot-1", "--name", "Echo")

	out := run(t, c, "chat", "bot-1", "t1", "hello", "there")
	assert.Equal(t, "echo: hello there\n", out)

	out = run(t, c, "threads", "show", "bot-1", "t1")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "user: hello there")
	assert.Contains(t, lines[1], "assistant: echo: hello there")
}

func TestLinksAdd(t *testing.T) {
	c, mem := testCLI(t)
	out := run(t, c, "links", "add", "bot-1", "https://crawler.example.com/site/1/output")
	assert.True(t, strings.HasPrefix(out, "Added crawler link "))

	links, err := mem.GetCrawlerLinks(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://crawler.example.com/site/1/output"}, links)
}

func TestSourceTitles(t *testing.T) {
	items, err := readItems(writeTemp(t, `[{"content":"a","metadata":{"source":"x"}},{"content":"b","metadata":{"source":"x"}},{"content":"c"}]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, sourceTitles(items))
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
