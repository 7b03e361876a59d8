package provider

import "context"

// ModelProvider is one chat-completion backend a trader can reason with.
type ModelProvider interface {
	ID() string
	Enabled() bool
	Call(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
