package rewriter

import (
	"context"
	"fmt"
	"strings"
)

// Turn is one prior message of a conversation.
type Turn struct {
	Role    string
	Content string
}

// Rewriter turns a conversation into a single retrieval query.
type Rewriter interface {
	Rewrite(ctx context.Context, history []Turn) (string, error)
}

// formatTranscript renders turns as "role: content" lines.
func formatTranscript(history []Turn) string {
	lines := make([]string, 0, len(history))
	for _, t := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Content))
	}
	return strings.Join(lines, "\n")
}
