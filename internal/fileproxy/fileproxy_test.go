package fileproxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMintAndRedeemServesUpstreamBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer upstream-secret" {
			t.Errorf("upstream request missing auth header, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte("report contents"))
	}))
	defer upstream.Close()

	p := New(time.Minute, 0, upstream.Client())
	token, err := p.Mint(Grant{
		UpstreamURL:  upstream.URL,
		UpstreamAuth: "Bearer upstream-secret",
		Filename:     "report.txt",
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/proxy/files/"+token, nil)
	rec := httptest.NewRecorder()
	if err := p.Redeem(rec, req, token); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if rec.Body.String() != "report contents" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="report.txt"` {
		t.Fatalf("unexpected content-disposition: %s", got)
	}
}

func TestRedeemIsSingleUse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer upstream.Close()

	p := New(time.Minute, 0, upstream.Client())
	token, err := p.Mint(Grant{UpstreamURL: upstream.URL, Filename: "f.txt"})
	if err != nil {
		t.Fatal(err)
	}

	req1 := httptest.NewRequest(http.MethodGet, "/proxy/files/"+token, nil)
	if err := p.Redeem(httptest.NewRecorder(), req1, token); err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/proxy/files/"+token, nil)
	if err := p.Redeem(httptest.NewRecorder(), req2, token); err == nil {
		t.Fatal("expected second redeem of the same token to fail")
	}
}

func TestRedeemRejectsExpiredToken(t *testing.T) {
	p := New(-time.Minute, 0, nil)
	token, err := p.Mint(Grant{UpstreamURL: "http://example.invalid", Filename: "f.txt"})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/proxy/files/"+token, nil)
	if err := p.Redeem(httptest.NewRecorder(), req, token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestGCRemovesOnlyExpired(t *testing.T) {
	p := New(time.Minute, 0, nil)
	live, err := p.Mint(Grant{UpstreamURL: "http://example.invalid", Filename: "live.txt"})
	if err != nil {
		t.Fatal(err)
	}
	_ = live

	expiredProxy := New(-time.Minute, 0, nil)
	if _, err := expiredProxy.Mint(Grant{UpstreamURL: "http://example.invalid", Filename: "expired.txt"}); err != nil {
		t.Fatal(err)
	}

	if n := p.GC(); n != 0 {
		t.Fatalf("expected 0 removed from unexpired proxy, got %d", n)
	}
	if n := expiredProxy.GC(); n != 1 {
		t.Fatalf("expected 1 removed from expired proxy, got %d", n)
	}
}
