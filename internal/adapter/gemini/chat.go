package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"ragline/internal/llm"
)

type Chat struct {
	client *genai.Client
	model  string
}

func NewChat(client *genai.Client, model string) *Chat {
	return &Chat{client: client, model: model}
}

// Complete sends the final user message with the earlier turns as history.
// Assistant turns map to the "model" role.
func (c *Chat) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	system, turns := llm.SplitSystem(messages)
	if len(turns) == 0 || turns[len(turns)-1].Role != llm.RoleUser {
		return "", errors.New("conversation must end with a user message")
	}

	model := c.client.GenerativeModel(c.model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := model.StartChat()
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Text)}})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(turns[len(turns)-1].Text))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", llm.ErrEmptyResponse
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", llm.ErrEmptyResponse
	}
	return b.String(), nil
}
