package kube

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// recordingServer captures the last request the client sent and serves
// canned responses keyed by method and path.
type recordingServer struct {
	*httptest.Server

	lastMethod      string
	lastPath        string
	lastQuery       string
	lastAuth        string
	lastContentType string
	lastBody        []byte
}

func newRecordingServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.lastMethod = r.Method
		rs.lastPath = r.URL.Path
		rs.lastQuery = r.URL.RawQuery
		rs.lastAuth = r.Header.Get("Authorization")
		rs.lastContentType = r.Header.Get("Content-Type")
		rs.lastBody, _ = io.ReadAll(r.Body)
		handler(w, r)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func respondJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestBearerTokenSent(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, `{"major":"1","minor":"31","gitVersion":"v1.31.0"}`)
	})

	c := NewClient(srv.URL, "sa-token", testLogger(t))
	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version error: %v", err)
	}

	if srv.lastAuth != "Bearer sa-token" {
		t.Errorf("Authorization = %q, want Bearer sa-token", srv.lastAuth)
	}
	if srv.lastPath != "/version" {
		t.Errorf("path = %q, want /version", srv.lastPath)
	}
	if v.GitVersion != "v1.31.0" {
		t.Errorf("gitVersion = %q", v.GitVersion)
	}
}

func TestListNamespaces(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, `{"items":[
			{"metadata":{"name":"default"},"status":{"phase":"Active"}},
			{"metadata":{"name":"kube-system"},"status":{"phase":"Active"}}
		]}`)
	})

	c := NewClient(srv.URL, "tok", testLogger(t))
	namespaces, err := c.ListNamespaces(context.Background())
	if err != nil {
		t.Fatalf("ListNamespaces error: %v", err)
	}

	if srv.lastPath != "/api/v1/namespaces" {
		t.Errorf("path = %q", srv.lastPath)
	}
	if len(namespaces) != 2 || namespaces[0].Metadata.Name != "default" {
		t.Errorf("namespaces = %+v", namespaces)
	}
}

func TestListPodsNamespaceScoping(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, `{"items":[]}`)
	})

	c := NewClient(srv.URL, "tok", testLogger(t))
	ctx := context.Background()

	if _, err := c.ListPods(ctx, ""); err != nil {
		t.Fatalf("ListPods cluster-wide error: %v", err)
	}
	if srv.lastPath != "/api/v1/pods" {
		t.Errorf("cluster-wide path = %q, want /api/v1/pods", srv.lastPath)
	}

	if _, err := c.ListPods(ctx, "prod"); err != nil {
		t.Fatalf("ListPods scoped error: %v", err)
	}
	if srv.lastPath != "/api/v1/namespaces/prod/pods" {
		t.Errorf("scoped path = %q", srv.lastPath)
	}
}

func TestCreateNamespaceBody(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusCreated, `{}`)
	})

	c := NewClient(srv.URL, "tok", testLogger(t))
	if err := c.CreateNamespace(context.Background(), "staging"); err != nil {
		t.Fatalf("CreateNamespace error: %v", err)
	}

	if srv.lastMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", srv.lastMethod)
	}
	if srv.lastContentType != "application/json" {
		t.Errorf("content-type = %q", srv.lastContentType)
	}

	var sent Namespace
	if err := json.Unmarshal(srv.lastBody, &sent); err != nil {
		t.Fatalf("unmarshal sent body: %v", err)
	}
	if sent.Kind != "Namespace" || sent.APIVersion != "v1" {
		t.Errorf("typemeta = %s/%s, want v1/Namespace", sent.APIVersion, sent.Kind)
	}
	if sent.Metadata.Name != "staging" {
		t.Errorf("name = %q, want staging", sent.Metadata.Name)
	}
}

func TestPodLogs(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		// The log subresource returns plain text, not JSON.
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "line one\nline two\n")
	})

	c := NewClient(srv.URL, "tok", testLogger(t))
	logs, err := c.PodLogs(context.Background(), "default", "web-1", 50)
	if err != nil {
		t.Fatalf("PodLogs error: %v", err)
	}

	if srv.lastPath != "/api/v1/namespaces/default/pods/web-1/log" {
		t.Errorf("path = %q", srv.lastPath)
	}
	if srv.lastQuery != "tailLines=50" {
		t.Errorf("query = %q, want tailLines=50", srv.lastQuery)
	}
	if logs != "line one\nline two\n" {
		t.Errorf("logs = %q", logs)
	}
}

func TestScaleDeployment(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, `{}`)
	})

	c := NewClient(srv.URL, "tok", testLogger(t))
	if err := c.ScaleDeployment(context.Background(), "prod", "api", 5); err != nil {
		t.Fatalf("ScaleDeployment error: %v", err)
	}

	if srv.lastMethod != http.MethodPatch {
		t.Errorf("method = %q, want PATCH", srv.lastMethod)
	}
	if srv.lastPath != "/apis/apps/v1/namespaces/prod/deployments/api/scale" {
		t.Errorf("path = %q", srv.lastPath)
	}
	if srv.lastContentType != "application/merge-patch+json" {
		t.Errorf("content-type = %q", srv.lastContentType)
	}
	if got := strings.TrimSpace(string(srv.lastBody)); got != `{"spec":{"replicas":5}}` {
		t.Errorf("patch body = %s", got)
	}
}

func TestDeletePodAccepted(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		// Deletion often returns 202 Accepted with a Status body.
		respondJSON(w, http.StatusAccepted, `{"kind":"Status","status":"Success"}`)
	})

	c := NewClient(srv.URL, "tok", testLogger(t))
	if err := c.DeletePod(context.Background(), "default", "web-1"); err != nil {
		t.Fatalf("DeletePod error: %v", err)
	}
	if srv.lastMethod != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", srv.lastMethod)
	}
	if srv.lastPath != "/api/v1/namespaces/default/pods/web-1" {
		t.Errorf("path = %q", srv.lastPath)
	}
}

func TestStatusErrorMessage(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound,
			`{"kind":"Status","status":"Failure","message":"pods \"ghost\" not found","reason":"NotFound","code":404}`)
	})

	c := NewClient(srv.URL, "tok", testLogger(t))
	_, err := c.GetPod(context.Background(), "default", "ghost")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}

	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
	if !strings.Contains(err.Error(), `pods "ghost" not found`) {
		t.Errorf("error %q does not carry the server message", err)
	}
}

func TestStatusErrorPlainBody(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, "Unauthorized")
	})

	c := NewClient(srv.URL, "bad-token", testLogger(t))
	err := c.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error %q does not carry the status code", err)
	}
}

func TestNodeReady(t *testing.T) {
	tests := []struct {
		name       string
		conditions []NodeCondition
		want       bool
	}{
		{"ready", []NodeCondition{{Type: "Ready", Status: "True"}}, true},
		{"not ready", []NodeCondition{{Type: "Ready", Status: "False"}}, false},
		{"no ready condition", []NodeCondition{{Type: "DiskPressure", Status: "False"}}, false},
		{"no conditions", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Node{Status: NodeStatus{Conditions: tt.conditions}}
			if got := n.Ready(); got != tt.want {
				t.Errorf("Ready() = %v, want %v", got, tt.want)
			}
		})
	}
}
