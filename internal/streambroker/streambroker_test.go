package streambroker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/sreorch/internal/config"
	"github.com/nextlevelbuilder/sreorch/internal/fileproxy"
	"github.com/nextlevelbuilder/sreorch/internal/orcherr"
	"github.com/nextlevelbuilder/sreorch/internal/sandbox"
)

type fakeSandboxManager struct {
	mu          sync.Mutex
	created     map[string]bool
	createCalls int
	lastJWT     map[string]string
}

func newFakeSandboxManager() *fakeSandboxManager {
	return &fakeSandboxManager{created: make(map[string]bool), lastJWT: make(map[string]string)}
}

func (f *fakeSandboxManager) CreateSandbox(ctx context.Context, threadID, tenantID, teamID, jwtToken, teamToken string) (sandbox.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.created[threadID] {
		return sandbox.Info{}, fmt.Errorf("create: %w", orcherr.ErrAlreadyExists)
	}
	f.created[threadID] = true
	f.lastJWT[threadID] = jwtToken
	return sandbox.Info{ThreadID: threadID, Name: "investigation-" + threadID, State: sandbox.StatePending}, nil
}

func (f *fakeSandboxManager) GetSandbox(ctx context.Context, threadID string) (sandbox.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created[threadID] {
		return sandbox.Info{}, fmt.Errorf("get: %w", orcherr.ErrNotFound)
	}
	return sandbox.Info{ThreadID: threadID, Name: "investigation-" + threadID, State: sandbox.StateReady}, nil
}

func (f *fakeSandboxManager) WaitForReady(ctx context.Context, threadID string) (sandbox.Info, error) {
	return sandbox.Info{ThreadID: threadID, State: sandbox.StateReady}, nil
}

func (f *fakeSandboxManager) SendAnswer(ctx context.Context, threadID, questionID string, answer []byte) error {
	return nil
}

func (f *fakeSandboxManager) ExecuteStream(ctx context.Context, threadID string, body []byte) (io.ReadCloser, error) {
	sse := `data: {"type":"thought","data":{"text":"thinking"},"thread_id":"` + threadID + `"}
` + `
` + `data: {"type":"result","data":{"success":true},"thread_id":"` + threadID + `"}
` + `
`
	return io.NopCloser(strings.NewReader(sse)), nil
}

func (f *fakeSandboxManager) InterruptStream(ctx context.Context, threadID string) (io.ReadCloser, error) {
	sse := `data: {"type":"result","data":{"success":true},"thread_id":"` + threadID + `"}
` + `
`
	return io.NopCloser(strings.NewReader(sse)), nil
}

type fakeVault struct {
	mu     sync.Mutex
	issued map[string]string
}

func newFakeVault() *fakeVault { return &fakeVault{issued: make(map[string]string)} }

func (v *fakeVault) GetOrCreate(threadID, tenantID, teamID string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if tok, ok := v.issued[threadID]; ok {
		return tok, nil
	}
	tok := "jwt-" + threadID
	v.issued[threadID] = tok
	return tok, nil
}

func newTestServer() (*Server, *fakeSandboxManager, *fakeVault) {
	cfg := config.Default()
	cfg.FileProxy.BaseURL = "http://broker.local"
	sbm := newFakeSandboxManager()
	vault := newFakeVault()
	proxy := fileproxy.New(0, 0, nil)
	s := New(cfg, sbm, vault, proxy)
	return s, sbm, vault
}

func TestInvestigateColdStartCreatesSandboxAndStreams(t *testing.T) {
	s, sbm, _ := newTestServer()
	srv := httptest.NewServer(s.BuildMux())
	defer srv.Close()

	body := strings.NewReader(`{"prompt":"hi"}`)
	resp, err := http.Post(srv.URL+"/investigate", "application/json", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	threadID := resp.Header.Get("X-Thread-ID")
	if threadID == "" {
		t.Fatal("expected non-empty X-Thread-ID header")
	}
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", resp.Header.Get("Content-Type"))
	}

	out, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(out), `"type":"result"`) {
		t.Fatalf("expected a result event in stream, got %q", out)
	}
	if strings.Count(string(out), `"type":"error"`) != 0 {
		t.Fatalf("expected no synthesized error event on clean close, got %q", out)
	}
	if sbm.createCalls != 1 {
		t.Fatalf("expected exactly one create call, got %d", sbm.createCalls)
	}
}

func TestInvestigateFollowUpReusesSandbox(t *testing.T) {
	s, sbm, vault := newTestServer()
	srv := httptest.NewServer(s.BuildMux())
	defer srv.Close()

	reqBody := `{"prompt":"hi","thread_id":"abc123"}`
	resp1, err := http.Post(srv.URL+"/investigate", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("post 1: %v", err)
	}
	io.Copy(io.Discard, resp1.Body)
	resp1.Body.Close()

	resp2, err := http.Post(srv.URL+"/investigate", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("post 2: %v", err)
	}
	io.Copy(io.Discard, resp2.Body)
	resp2.Body.Close()

	if sbm.createCalls != 1 {
		t.Fatalf("expected create_sandbox called once across both requests, got %d", sbm.createCalls)
	}
	if vault.issued["abc123"] != sbm.lastJWT["abc123"] {
		t.Fatalf("expected identical JWT bytes reused across follow-up")
	}
}

func TestInterruptReturns404WithoutSandbox(t *testing.T) {
	s, _, _ := newTestServer()
	srv := httptest.NewServer(s.BuildMux())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/interrupt", "application/json", strings.NewReader(`{"thread_id":"ghost"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAnswerRequiresThreadAndAnswers(t *testing.T) {
	s, _, _ := newTestServer()
	srv := httptest.NewServer(s.BuildMux())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/answer", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAnswerSucceedsForExistingSandbox(t *testing.T) {
	s, sbm, _ := newTestServer()
	srv := httptest.NewServer(s.BuildMux())
	defer srv.Close()

	ctx := context.Background()
	if _, err := sbm.CreateSandbox(ctx, "t1", "tenant", "team", "jwt", ""); err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(map[string]any{"thread_id": "t1", "answers": map[string]string{"q1": "yes"}})
	resp, err := http.Post(srv.URL+"/answer", "application/json", strings.NewReader(string(payload)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHealthReportsOK(t *testing.T) {
	s, _, _ := newTestServer()
	srv := httptest.NewServer(s.BuildMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
