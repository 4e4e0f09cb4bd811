package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kubechat/kubechat/internal/agent"
	"github.com/kubechat/kubechat/internal/config"
	"github.com/kubechat/kubechat/internal/llm"
	"github.com/kubechat/kubechat/internal/session"
	"github.com/kubechat/kubechat/internal/tools"
	"github.com/kubechat/kubechat/internal/transcript"
)

// fakeLLM invokes list_namespaces once per turn, then answers.
type fakeLLM struct{}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	last := messages[len(messages)-1]
	if last.Role == "tool" {
		return &llm.ChatResponse{
			Message:      llm.Message{Role: "assistant", Content: "There are 2 namespaces."},
			FinishReason: "stop",
		}, nil
	}
	return &llm.ChatResponse{
		Message: llm.Message{
			Role:      "assistant",
			ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "list_namespaces", Arguments: map[string]any{}}},
		},
		FinishReason: "tool_calls",
	}, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, messages []llm.Message, toolDefs []map[string]any, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	resp, err := f.Chat(ctx, messages, toolDefs)
	if err != nil {
		return nil, err
	}
	if callback != nil && resp.Message.Content != "" {
		for _, word := range strings.SplitAfter(resp.Message.Content, " ") {
			callback(llm.StreamEvent{Kind: llm.KindToken, Token: word})
		}
	}
	return resp, nil
}

func (f *fakeLLM) Ping(ctx context.Context) error { return nil }

func newTestServer(t *testing.T, auth config.AuthConfig) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	store, err := transcript.NewStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := tools.NewRegistry(nil)
	registry.Register(&tools.Tool{
		Name:        "list_namespaces",
		Description: "list namespaces",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return `["default","kube-system"]`, nil
		},
	})

	client := &fakeLLM{}
	loop := agent.NewLoop(logger, client, registry, 8, 0)
	sessions := session.NewManager(logger, store, loop)

	srv := NewServer("127.0.0.1:0", logger, sessions, registry, client, nil, auth)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func postJSON(t *testing.T, url, apiKey string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func TestChat(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	resp := postJSON(t, ts.URL+"/chat", "", ChatRequest{Message: "list namespaces", IncludeToolTrace: true})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SessionID == "" {
		t.Error("response missing session_id")
	}
	if out.Answer != "There are 2 namespaces." {
		t.Errorf("answer = %q", out.Answer)
	}
	if len(out.ToolTrace) != 1 || out.ToolTrace[0].Name != "list_namespaces" {
		t.Errorf("tool trace = %+v", out.ToolTrace)
	}

	// Same session continues the conversation.
	resp2 := postJSON(t, ts.URL+"/chat", "", ChatRequest{Message: "again", SessionID: out.SessionID})
	defer resp2.Body.Close()
	var out2 ChatResponse
	if err := json.NewDecoder(resp2.Body).Decode(&out2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out2.SessionID != out.SessionID {
		t.Errorf("session changed: %q -> %q", out.SessionID, out2.SessionID)
	}
}

func TestChatValidation(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	resp := postJSON(t, ts.URL+"/chat", "", ChatRequest{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty message status = %d, want 400", resp.StatusCode)
	}
}

func TestAuth(t *testing.T) {
	auth := config.AuthConfig{AdminKey: "admin-secret", UserKey: "user-secret"}
	ts := newTestServer(t, auth)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"no key", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"user key", "user-secret", http.StatusOK},
		{"admin key", "admin-secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/chat", tt.key, ChatRequest{Message: "hi"})
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	// Health stays open without a key.
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}

func TestChatStreamFraming(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	resp := postJSON(t, ts.URL+"/chat/stream", "", ChatRequest{Message: "list namespaces"})
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var frames []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(frames) < 3 {
		t.Fatalf("too few frames: %v", frames)
	}

	// First frame carries the session id.
	var first struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(frames[0]), &first); err != nil || first.SessionID == "" {
		t.Fatalf("first frame = %q", frames[0])
	}

	// Last frame is the terminator.
	if frames[len(frames)-1] != "[DONE]" {
		t.Fatalf("last frame = %q, want [DONE]", frames[len(frames)-1])
	}

	// Token frames reassemble the answer; tool frames appear in between.
	var answer strings.Builder
	sawTool := false
	for _, frame := range frames[1 : len(frames)-1] {
		var ev struct {
			Token  string `json:"token"`
			Tool   string `json:"tool"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal([]byte(frame), &ev); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		answer.WriteString(ev.Token)
		if ev.Tool == "list_namespaces" {
			sawTool = true
		}
	}
	if answer.String() != "There are 2 namespaces." {
		t.Errorf("reassembled answer = %q", answer.String())
	}
	if !sawTool {
		t.Error("no tool progress frames in stream")
	}
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	resp := postJSON(t, ts.URL+"/chat", "", ChatRequest{Message: "hello"})
	var chat ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	// List includes the session.
	listResp, err := http.Get(ts.URL + "/sessions")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer listResp.Body.Close()
	var list struct {
		Count    int                  `json:"count"`
		Sessions []transcript.Session `json:"sessions"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.Sessions[0].ID != chat.SessionID {
		t.Fatalf("list = %+v", list)
	}

	// History returns the 4-message transcript.
	getResp, err := http.Get(ts.URL + "/sessions/" + chat.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer getResp.Body.Close()
	var history struct {
		Count    int                  `json:"count"`
		Messages []transcript.Message `json:"messages"`
	}
	if err := json.NewDecoder(getResp.Body).Decode(&history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if history.Count != 4 {
		t.Fatalf("history count = %d, want 4", history.Count)
	}

	// Delete, then a second delete reports not found.
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/"+chat.SessionID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", delResp.StatusCode)
	}

	delResp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	delResp2.Body.Close()
	if delResp2.StatusCode != http.StatusNotFound {
		t.Fatalf("double delete status = %d, want 404", delResp2.StatusCode)
	}
}

func TestToolsEndpoint(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	resp, err := http.Get(ts.URL + "/tools")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Count int              `json:"count"`
		Tools []map[string]any `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 1 || len(out.Tools) != 1 {
		t.Fatalf("tools = %+v", out)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Status  string   `json:"status"`
		LLM     string   `json:"llm"`
		Cluster string   `json:"cluster"`
		Tools   []string `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.LLM != "connected" {
		t.Errorf("llm = %q", out.LLM)
	}
	// No cluster client wired in tests.
	if out.Cluster != "not configured" {
		t.Errorf("cluster = %q", out.Cluster)
	}
	if len(out.Tools) != 1 {
		t.Errorf("tools = %v", out.Tools)
	}
}

func TestKeyLimiter(t *testing.T) {
	limiter := newKeyLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("key-a") {
			t.Fatalf("request %d denied within budget", i)
		}
	}
	if limiter.Allow("key-a") {
		t.Fatal("request over budget allowed")
	}
	// Budgets are per key.
	if !limiter.Allow("key-b") {
		t.Fatal("independent key denied")
	}
}
