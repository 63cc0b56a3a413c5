package llm

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestMessageText(t *testing.T) {
	assert.Equal(t, "plain", MessageText(openai.ChatCompletionMessage{Content: "plain"}))
	assert.Equal(t, "", MessageText(openai.ChatCompletionMessage{}))

	multi := openai.ChatCompletionMessage{MultiContent: []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: "part"},
	}}
	assert.Equal(t, `[{"type":"text","text":"part"}]`, MessageText(multi))
}
