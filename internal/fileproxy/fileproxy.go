// Package fileproxy lets a sandbox download a user-attached file without
// ever seeing the upstream credentials. StreamBroker mints a single-use
// token bound to the upstream URL and its auth header and hands the
// sandbox a proxy link; FileProxy redeems the token exactly once,
// streaming the upstream response straight through.
package fileproxy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nextlevelbuilder/sreorch/internal/orcherr"
)

// Grant is what StreamBroker registers for each file attachment of an
// /investigate request. UpstreamAuth is attached as the Authorization header on
// the proxy's own request to UpstreamURL; it is never exposed to the
// caller of /proxy/files/{token}.
type Grant struct {
	UpstreamURL  string
	UpstreamAuth string
	Filename     string
	SizeBytes    int64
}

type ticket struct {
	grant   Grant
	expires time.Time
}

// Proxy mints and redeems single-use download tokens. Tokens are
// looked up by the sha256 hash of the raw value, not the value itself —
// the same lookup idiom one-time registration links use, so a proxy
// instance compromised at rest never leaks live tokens.
type Proxy struct {
	ttl        time.Duration
	chunkBytes int
	httpClient *http.Client

	mu       sync.Mutex
	byHash   map[string]ticket
}

// New builds a Proxy. ttl bounds how long an unredeemed token stays
// valid; chunkBytes sizes the copy buffer used when streaming upstream
// responses through to the caller.
func New(ttl time.Duration, chunkBytes int, httpClient *http.Client) *Proxy {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if chunkBytes <= 0 {
		chunkBytes = 64 * 1024
	}
	return &Proxy{
		ttl:        ttl,
		chunkBytes: chunkBytes,
		httpClient: httpClient,
		byHash:     make(map[string]ticket),
	}
}

// Mint registers grant and returns an opaque token good for one
// download within the proxy's TTL.
func (p *Proxy) Mint(grant Grant) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("fileproxy: generate token: %w", err)
	}
	token := hex.EncodeToString(raw)

	p.mu.Lock()
	p.byHash[hashToken(token)] = ticket{grant: grant, expires: time.Now().Add(p.ttl)}
	p.mu.Unlock()

	return token, nil
}

// Redeem deletes token's ticket (making every subsequent call a miss,
// replay or not) and streams the corresponding upstream resource to w.
// The delete happens before the upstream fetch so a client that aborts
// mid-download can never retry with the same link.
func (p *Proxy) Redeem(w http.ResponseWriter, r *http.Request, token string) error {
	p.mu.Lock()
	t, ok := p.byHash[hashToken(token)]
	if ok {
		delete(p.byHash, hashToken(token))
	}
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("fileproxy: redeem: %w", orcherr.ErrNotFound)
	}
	if time.Now().After(t.expires) {
		return fmt.Errorf("fileproxy: redeem: %w", orcherr.ErrTokenExpired)
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, t.grant.UpstreamURL, nil)
	if err != nil {
		return fmt.Errorf("fileproxy: build upstream request: %w", err)
	}
	if t.grant.UpstreamAuth != "" {
		req.Header.Set("Authorization", t.grant.UpstreamAuth)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fileproxy: fetch upstream: %w", orcherr.ErrUpstreamGateway)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("fileproxy: upstream returned %d: %w", resp.StatusCode, orcherr.ErrUpstreamGateway)
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", t.grant.Filename))
	if t.grant.SizeBytes > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", t.grant.SizeBytes))
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)

	buf := make([]byte, p.chunkBytes)
	if _, err := io.CopyBuffer(w, resp.Body, buf); err != nil {
		return fmt.Errorf("fileproxy: stream body: %w", err)
	}
	return nil
}

// GC drops expired, never-redeemed tokens. Called periodically; it is
// not required for correctness (Redeem already checks expiry) but keeps
// the token map from growing unbounded when minted links are never
// fetched.
func (p *Proxy) GC() int {
	now := time.Now()
	removed := 0

	p.mu.Lock()
	for hash, t := range p.byHash {
		if now.After(t.expires) {
			delete(p.byHash, hash)
			removed++
		}
	}
	p.mu.Unlock()

	return removed
}

// ActiveCount reports how many unredeemed tokens are currently live,
// for /health's active_download_tokens field (§6.1). Expired-but-not-
// yet-GC'd tokens are excluded so the count reflects what a caller
// could still successfully redeem.
func (p *Proxy) ActiveCount() int {
	now := time.Now()
	n := 0

	p.mu.Lock()
	for _, t := range p.byHash {
		if now.Before(t.expires) {
			n++
		}
	}
	p.mu.Unlock()

	return n
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
