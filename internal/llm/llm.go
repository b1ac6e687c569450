// Package llm holds the provider-neutral shapes shared by the embedding and
// chat adapters.
package llm

import (
	"context"
	"errors"
)

var ErrEmptyResponse = errors.New("model returned no content")

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

type Message struct {
	Role Role
	Text string
}

// Embedder turns text into vectors. EmbedDocuments returns one vector per
// input, in order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Chat produces a single completion for a conversation that ends with a
// user message.
type Chat interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// SplitSystem separates system messages from the conversation turns.
func SplitSystem(messages []Message) (system string, turns []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Text
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}
