package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestChatNonStreaming(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)

		io.WriteString(w, `{
			"model": "test-model",
			"choices": [{"message": {"role": "assistant", "content": "hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "sk-test", "test-model")
	resp, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}

	if gotReq.Stream {
		t.Error("request should not set stream")
	}
	if gotReq.Model != "test-model" {
		t.Errorf("request model = %q", gotReq.Model)
	}
	if resp.Message.Content != "hello there" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish_reason = %q", resp.FinishReason)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestChatToolCallArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"choices": [{"message": {
				"role": "assistant",
				"tool_calls": [{"id": "call_1", "type": "function",
					"function": {"name": "get_pod_logs", "arguments": "{\"namespace\":\"prod\",\"name\":\"web-1\"}"}}]
			}, "finish_reason": "tool_calls"}]
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", "m")
	resp, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "logs?"}}, nil)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "get_pod_logs" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Arguments["namespace"] != "prod" || tc.Arguments["name"] != "web-1" {
		t.Errorf("arguments = %v", tc.Arguments)
	}
}

func TestChatMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no choices", `{"choices": []}`},
		{"nameless tool call", `{"choices": [{"message": {"role": "assistant",
			"tool_calls": [{"id": "call_1", "function": {"name": "", "arguments": "{}"}}]}}]}`},
		{"unparseable arguments", `{"choices": [{"message": {"role": "assistant",
			"tool_calls": [{"id": "call_1", "function": {"name": "list_pods", "arguments": "{not json"}}]}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewOpenAIClient(srv.URL, "", "m")
			_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "x"}}, nil)
			if !errors.Is(err, ErrMalformedDecision) {
				t.Errorf("err = %v, want ErrMalformedDecision", err)
			}
		})
	}
}

func TestChatProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "model loading")
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", "m")
	_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "x"}}, nil)
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "model loading") {
		t.Errorf("error %q should carry status and body", err)
	}
}

// sseBody writes each payload as one SSE data frame followed by [DONE].
func sseBody(w http.ResponseWriter, payloads ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, p := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", p)
	}
	io.WriteString(w, "data: [DONE]\n\n")
}

func TestChatStreamTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("streaming request should set stream")
		}
		sseBody(w,
			`{"choices": [{"delta": {"content": "There are "}}]}`,
			`{"choices": [{"delta": {"content": "2 namespaces."}}]}`,
			`{"choices": [{"delta": {}, "finish_reason": "stop"}], "usage": {"prompt_tokens": 9, "completion_tokens": 5}}`,
		)
	}))
	defer srv.Close()

	var tokens []string
	callback := func(ev StreamEvent) {
		if ev.Kind == KindToken {
			tokens = append(tokens, ev.Token)
		}
	}

	c := NewOpenAIClient(srv.URL, "", "m")
	resp, err := c.ChatStream(context.Background(), []Message{{Role: "user", Content: "ns?"}}, nil, callback)
	if err != nil {
		t.Fatalf("ChatStream error: %v", err)
	}

	if got := strings.Join(tokens, ""); got != "There are 2 namespaces." {
		t.Errorf("streamed tokens = %q", got)
	}
	if resp.Message.Content != "There are 2 namespaces." {
		t.Errorf("final content = %q", resp.Message.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish_reason = %q", resp.FinishReason)
	}
	if resp.InputTokens != 9 || resp.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestChatStreamToolCallFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Arguments arrive as string fragments spread across chunks.
		sseBody(w,
			`{"choices": [{"delta": {"tool_calls": [{"index": 0, "id": "call_9", "function": {"name": "scale_deployment", "arguments": ""}}]}}]}`,
			`{"choices": [{"delta": {"tool_calls": [{"index": 0, "function": {"arguments": "{\"name\":\"api\","}}]}}]}`,
			`{"choices": [{"delta": {"tool_calls": [{"index": 0, "function": {"arguments": "\"replicas\":3}"}}]}}]}`,
			`{"choices": [{"delta": {}, "finish_reason": "tool_calls"}]}`,
		)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", "m")
	resp, err := c.ChatStream(context.Background(), []Message{{Role: "user", Content: "scale"}}, nil, func(StreamEvent) {})
	if err != nil {
		t.Fatalf("ChatStream error: %v", err)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_9" || tc.Name != "scale_deployment" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Arguments["name"] != "api" || tc.Arguments["replicas"] != float64(3) {
		t.Errorf("arguments = %v", tc.Arguments)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish_reason = %q", resp.FinishReason)
	}
}

func TestChatStreamNilCallbackFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("nil callback should use a non-streaming request")
		}
		io.WriteString(w, `{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", "m")
	resp, err := c.ChatStream(context.Background(), []Message{{Role: "user", Content: "x"}}, nil, nil)
	if err != nil {
		t.Fatalf("ChatStream error: %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Errorf("content = %q", resp.Message.Content)
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `{"data": []}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", "m")
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping error: %v", err)
	}
}

func TestToWireMarshalsArguments(t *testing.T) {
	msgs := []Message{{
		Role: "assistant",
		ToolCalls: []ToolCall{{
			ID:        "call_1",
			Name:      "delete_pod",
			Arguments: map[string]any{"name": "web-1", "confirm": true},
		}},
	}}

	wire := toWire(msgs)
	if len(wire) != 1 || len(wire[0].ToolCalls) != 1 {
		t.Fatalf("wire = %+v", wire)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(wire[0].ToolCalls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["name"] != "web-1" || args["confirm"] != true {
		t.Errorf("arguments = %v", args)
	}
	if wire[0].ToolCalls[0].Type != "function" {
		t.Errorf("type = %q", wire[0].ToolCalls[0].Type)
	}
}
