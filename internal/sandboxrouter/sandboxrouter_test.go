package sandboxrouter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/sreorch/internal/sandbox"
)

func TestExecuteAttachesIdentityHeaders(t *testing.T) {
	var gotID, gotPort, gotNS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Sandbox-ID")
		gotPort = r.Header.Get("X-Sandbox-Port")
		gotNS = r.Header.Get("X-Sandbox-Namespace")
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer srv.Close()

	c := New(srv.URL, "8080", srv.Client())
	info := sandbox.Info{Name: "inv-thread-1", Namespace: "sreorch-sandboxes"}

	out, err := c.Execute(context.Background(), info, "thread-1", []byte(`{"prompt":"why is latency up"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(out) != `{"prompt":"why is latency up"}` {
		t.Fatalf("unexpected echoed body: %s", out)
	}
	if gotID != "inv-thread-1" || gotPort != "8080" || gotNS != "sreorch-sandboxes" {
		t.Fatalf("missing or wrong identity headers: id=%q port=%q ns=%q", gotID, gotPort, gotNS)
	}
}

func TestCallReturnsUpstreamGatewayErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "8080", srv.Client())
	info := sandbox.Info{Name: "inv-thread-1", Namespace: "sreorch-sandboxes"}

	if err := c.Interrupt(context.Background(), info, "thread-1"); err == nil {
		t.Fatal("expected error for non-2xx upstream response")
	}
}
