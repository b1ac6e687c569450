// Package openai adapts OpenAI-compatible embedding and chat endpoints
// through langchaingo.
package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"ragline/internal/llm"
)

type Config struct {
	BaseURL    string
	APIKey     string
	EmbedModel string
	ChatModel  string
}

func (c Config) options() []openai.Option {
	token := c.APIKey
	if token == "" {
		// Local OpenAI-compatible servers ignore the token but the client requires one.
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token)}
	if c.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(c.BaseURL))
	}
	return opts
}

type Embedder struct {
	embedder embeddings.Embedder
}

func NewEmbedder(cfg Config) (*Embedder, error) {
	client, err := openai.New(append(cfg.options(), openai.WithEmbeddingModel(cfg.EmbedModel))...)
	if err != nil {
		return nil, err
	}
	e, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	return &Embedder{embedder: e}, nil
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		slog.ErrorContext(ctx, "failed to generate embeddings", "count", len(texts), "error", err)
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, llm.ErrEmptyResponse
	}
	return vec, nil
}

type Chat struct {
	client llms.Model
}

func NewChat(cfg Config) (*Chat, error) {
	client, err := openai.New(append(cfg.options(), openai.WithModel(cfg.ChatModel))...)
	if err != nil {
		return nil, err
	}
	return &Chat{client: client}, nil
}

var roles = map[llm.Role]llms.ChatMessageType{
	llm.RoleSystem:    llms.ChatMessageTypeSystem,
	llm.RoleAssistant: llms.ChatMessageTypeAI,
	llm.RoleUser:      llms.ChatMessageTypeHuman,
}

func (c *Chat) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.MessageContent{
			Role:  roles[m.Role],
			Parts: []llms.ContentPart{llms.TextPart(m.Text)},
		})
	}

	resp, err := c.client.GenerateContent(ctx, content)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", llm.ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}
