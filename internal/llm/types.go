// Package llm provides the reasoning provider client.
package llm

import (
	"errors"
	"time"
)

// ErrMalformedDecision indicates the provider returned output that could
// not be parsed into either an answer or a tool invocation. This is fatal
// for the current turn: there is nothing the loop can feed back to recover.
var ErrMalformedDecision = errors.New("llm: malformed decision from provider")

// Message represents a chat message in provider-neutral form.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool-role results
}

// ToolCall is a tool invocation requested by the model. ID correlates the
// request with its eventual tool-role result message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the unified response from the provider. Wire format
// conversion happens at the provider boundary (openai.go).
type ChatResponse struct {
	Model        string
	Message      Message
	FinishReason string

	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindToken is an incremental text token from the model.
	KindToken StreamEventKind = iota

	// KindToolCallStart fires when the model invokes a tool.
	KindToolCallStart

	// KindToolCallDone fires when a tool execution completes.
	KindToolCallDone

	// KindDone signals the stream is complete. Response carries final metadata.
	KindDone
)

// StreamEvent is a single event in a streaming response.
// Consumers switch on Kind to determine what data is available.
type StreamEvent struct {
	Kind StreamEventKind

	// Token is set for KindToken events.
	Token string

	// ToolCall is set for KindToolCallStart events.
	ToolCall *ToolCall

	// ToolName, ToolResult, and ToolError are set for KindToolCallDone events.
	ToolName   string
	ToolResult string
	ToolError  string

	// Response is set for KindDone events.
	Response *ChatResponse
}

// StreamCallback receives streaming events as they are produced.
type StreamCallback func(event StreamEvent)
