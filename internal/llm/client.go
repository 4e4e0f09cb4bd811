package llm

import "context"

// Client is the interface the agent loop uses to reach the reasoning
// provider. All conversation state lives in the messages passed in; the
// client itself is stateless across calls.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// ChatStream sends a streaming chat request. If callback is non-nil,
	// tokens are delivered to it as they arrive. The returned response
	// carries the fully accumulated message.
	ChatStream(ctx context.Context, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
