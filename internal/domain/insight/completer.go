// Package insight produces LLM summaries of meeting transcripts.
package insight

import "context"

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type Message struct {
	Role    string
	Content string
}

// Completion is one model reply.
type Completion struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Completer sends a chat to a language model.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (Completion, error)
}
