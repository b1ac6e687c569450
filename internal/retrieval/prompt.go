package retrieval

import (
	"strings"

	"ragline/internal/llm"
	"ragline/internal/vector"
)

const SystemPrompt = "You are a helpful assistant that answers queries based on given context."

// BuildMessages grounds the conversation in hits: the system instruction,
// the retrieved context as a prior assistant turn, then the literal query.
func BuildMessages(hits []vector.Hit, query string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Text: SystemPrompt},
		{Role: llm.RoleAssistant, Text: GroundingContext(hits)},
		{Role: llm.RoleUser, Text: query},
	}
}

// GroundingContext renders one line per hit, tagged with where it came from.
func GroundingContext(hits []vector.Hit) string {
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[")
		b.WriteString(h.Metadata.DocumentKey)
		if h.Metadata.SourceLabel != "" {
			b.WriteString(" · ")
			b.WriteString(h.Metadata.SourceLabel)
		}
		b.WriteString("] ")
		b.WriteString(h.Text)
	}
	return b.String()
}
