// Package agent implements the core agent loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kubechat/kubechat/internal/llm"
)

// ErrTurnTimeout indicates the turn exceeded its duration ceiling. The
// session lock is released; whatever was appended before the ceiling is
// still reported for persistence.
var ErrTurnTimeout = errors.New("agent: turn exceeded duration ceiling")

// fallbackAnswer is returned when the loop hits its step limit without
// the model producing a final answer.
const fallbackAnswer = "I was unable to complete this request within the allowed number of steps. Please try rephrasing or breaking it into smaller tasks."

const systemPrompt = `You are KubeChat, a Kubernetes cluster management assistant. You inspect and manage the cluster through the tools available to you.

Rules:
- Only help with Kubernetes and this cluster. Politely decline unrelated requests.
- Deletions are permanent. Ask the user for explicit confirmation first, and only call a deletion tool with confirm=true after they have confirmed.
- When a tool reports an error, explain it in plain language and suggest a next step.
- Be concise. Summarize tool output instead of repeating it verbatim.`

// ToolSet is the registry contract the loop depends on.
type ToolSet interface {
	List() []map[string]any
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// TraceEntry records one tool invocation within a turn.
type TraceEntry struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration_ms"`
}

// Result is the outcome of one turn.
type Result struct {
	// Answer is the final assistant text (or the fallback when the
	// step limit was reached).
	Answer string

	// Appended holds every message the turn produced, in order,
	// starting with the user message. The caller persists these; the
	// loop itself does no storage I/O. On a fatal error Appended still
	// carries the messages completed steps produced.
	Appended []llm.Message

	// Trace lists the tool invocations the turn performed.
	Trace []TraceEntry

	Steps int
}

// Loop runs the decide/act/observe cycle for one user message.
type Loop struct {
	logger      *slog.Logger
	llm         llm.Client
	tools       ToolSet
	maxSteps    int
	turnTimeout time.Duration
}

// NewLoop creates an agent loop. maxSteps bounds the number of reasoning
// steps per turn; turnTimeout bounds its total wall-clock duration
// (zero disables the ceiling).
func NewLoop(logger *slog.Logger, client llm.Client, tools ToolSet, maxSteps int, turnTimeout time.Duration) *Loop {
	if maxSteps <= 0 {
		maxSteps = 8
	}
	return &Loop{
		logger:      logger,
		llm:         client,
		tools:       tools,
		maxSteps:    maxSteps,
		turnTimeout: turnTimeout,
	}
}

// RunTurn processes one user message against prior conversation history.
// When callback is non-nil answer tokens and tool lifecycle events are
// delivered through it as they happen; the full answer is still present
// on the returned Result.
//
// Tool failures never abort the turn: they come back as tool messages
// the model sees on its next step. Only provider-level faults (provider
// unreachable, malformed decision) and the duration ceiling are fatal.
func (l *Loop) RunTurn(ctx context.Context, history []llm.Message, userMessage string, callback llm.StreamCallback) (*Result, error) {
	if l.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.turnTimeout)
		defer cancel()
	}

	result := &Result{
		Appended: []llm.Message{{Role: "user", Content: userMessage}},
	}

	toolDefs := l.tools.List()

	for step := 0; step < l.maxSteps; step++ {
		result.Steps = step + 1

		resp, err := l.decide(ctx, l.assemble(history, result.Appended), toolDefs, callback)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return result, fmt.Errorf("%w after %d step(s)", ErrTurnTimeout, step)
			}
			return result, fmt.Errorf("reasoning step %d: %w", step+1, err)
		}

		decision := resp.Message
		decision.Role = "assistant"

		// Terminal: no tool calls means this is the answer.
		if len(decision.ToolCalls) == 0 {
			result.Appended = append(result.Appended, decision)
			result.Answer = decision.Content
			if callback != nil {
				callback(llm.StreamEvent{Kind: llm.KindDone, Response: resp})
			}
			l.logger.Info("turn complete", "steps", result.Steps, "tool_calls", len(result.Trace))
			return result, nil
		}

		// Correlation IDs link each request to its result message.
		// Some providers omit them; generate when missing.
		for i := range decision.ToolCalls {
			if decision.ToolCalls[i].ID == "" {
				decision.ToolCalls[i].ID = uuid.NewString()
			}
		}
		result.Appended = append(result.Appended, decision)

		for _, call := range decision.ToolCalls {
			observation, entry, err := l.invoke(ctx, call, callback)
			if err != nil {
				return result, err
			}
			result.Appended = append(result.Appended, observation)
			result.Trace = append(result.Trace, entry)
		}
	}

	// Step limit reached: answer gracefully instead of erroring.
	l.logger.Warn("step limit reached", "max_steps", l.maxSteps)
	final := llm.Message{Role: "assistant", Content: fallbackAnswer}
	result.Appended = append(result.Appended, final)
	result.Answer = fallbackAnswer
	if callback != nil {
		callback(llm.StreamEvent{Kind: llm.KindToken, Token: fallbackAnswer})
		callback(llm.StreamEvent{Kind: llm.KindDone})
	}
	return result, nil
}

// decide asks the provider for the next step. With a callback the
// streaming mode is used so answer tokens reach the caller live; steps
// that turn out to be tool invocations produce no visible tokens.
func (l *Loop) decide(ctx context.Context, messages []llm.Message, toolDefs []map[string]any, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	if callback == nil {
		return l.llm.Chat(ctx, messages, toolDefs)
	}
	return l.llm.ChatStream(ctx, messages, toolDefs, func(ev llm.StreamEvent) {
		if ev.Kind == llm.KindToken {
			callback(ev)
		}
	})
}

// invoke executes one tool call and folds the outcome into a tool
// message. Tool errors are absorbed into the observation; only context
// cancellation escapes as a fatal error.
func (l *Loop) invoke(ctx context.Context, call llm.ToolCall, callback llm.StreamCallback) (llm.Message, TraceEntry, error) {
	l.logger.Info("tool call", "tool", call.Name, "args", call.Arguments)
	if callback != nil {
		tc := call
		callback(llm.StreamEvent{Kind: llm.KindToolCallStart, ToolCall: &tc})
	}

	start := time.Now()
	payload, err := l.tools.Execute(ctx, call.Name, call.Arguments)
	entry := TraceEntry{
		Name:      call.Name,
		Arguments: call.Arguments,
		Duration:  time.Since(start),
	}

	if err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-invocation: abandon the result rather than
			// feeding a half-done outcome back to the model.
			if ctx.Err() == context.DeadlineExceeded {
				return llm.Message{}, entry, fmt.Errorf("%w during %s", ErrTurnTimeout, call.Name)
			}
			return llm.Message{}, entry, ctx.Err()
		}
		entry.Error = err.Error()
		payload = "Error: " + err.Error()
		l.logger.Warn("tool failed", "tool", call.Name, "error", err)
	} else {
		entry.Result = payload
	}

	if callback != nil {
		callback(llm.StreamEvent{
			Kind:       llm.KindToolCallDone,
			ToolName:   call.Name,
			ToolResult: entry.Result,
			ToolError:  entry.Error,
		})
	}

	return llm.Message{
		Role:       "tool",
		Content:    payload,
		ToolCallID: call.ID,
	}, entry, nil
}

// assemble builds the provider context: system prompt, persisted
// history, then everything this turn has appended so far.
func (l *Loop) assemble(history, appended []llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+len(appended)+1)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, appended...)
	return messages
}
