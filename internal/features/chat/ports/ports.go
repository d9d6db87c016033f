package ports

import "context"

// Message roles in a conversation transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "model"
)

// Message is one turn of a support conversation.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Completer is the secondary port for the language-model backend.
type Completer interface {
	// Complete returns the assistant reply for the prompt, given the prior
	// transcript.
	Complete(ctx context.Context, transcript []Message, prompt string) (string, error)
}
