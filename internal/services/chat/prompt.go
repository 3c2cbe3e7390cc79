// File: internal/services/chat/prompt.go
package chat

import (
	"strings"

	"github.com/iyunix/go-localchat/internal/domain"
)

// AssistantCue asks the model to answer; without it the model treats the
// transcript as finished and returns nothing.
const AssistantCue = "\n\nAssistant:"

func roleLabel(role string) string {
	switch role {
	case domain.RoleUser:
		return "User"
	case domain.RoleAssistant:
		return "Assistant"
	}
	if role == "" {
		return ""
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

// BuildPrompt renders turns as "<Role>: <content>" blocks separated by a blank
// line. The new user message must already be the last turn.
func BuildPrompt(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}

	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(roleLabel(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	if turns[len(turns)-1].Role == domain.RoleUser {
		b.WriteString(AssistantCue)
	}
	return b.String()
}

// BuildPromptWithContext prefixes the transcript with a retrieval preamble.
func BuildPromptWithContext(preamble string, turns []Turn) string {
	prompt := BuildPrompt(turns)
	if strings.TrimSpace(preamble) == "" {
		return prompt
	}
	return preamble + "\n\n" + prompt
}
