// Package sandboxrouter is the client view of a running sandbox: it
// forwards execute/interrupt/answer calls to the sandbox's fixed
// SandboxRouter address, attaching the identity headers that let the
// router multiplex many sandboxes behind one service.
package sandboxrouter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/nextlevelbuilder/sreorch/internal/orcherr"
	"github.com/nextlevelbuilder/sreorch/internal/sandbox"
)

const (
	headerSandboxID        = "X-Sandbox-ID"
	headerSandboxPort      = "X-Sandbox-Port"
	headerSandboxNamespace = "X-Sandbox-Namespace"
)

// Client forwards requests to the SandboxRouter service fronting every
// sandbox pod in the cluster. One Client instance is shared across all
// threads; sandbox identity is carried per-request via headers, not
// baked into the client.
type Client struct {
	baseURL string
	port    string
	http    *http.Client
}

// New builds a Client targeting baseURL (e.g.
// "http://sandbox-router.sreorch-sandboxes.svc:8080") with the fixed
// port every sandbox's agent process listens on.
func New(baseURL, port string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, port: port, http: httpClient}
}

// Execute forwards an investigation request to threadID's sandbox and
// returns its response body.
func (c *Client) Execute(ctx context.Context, info sandbox.Info, threadID string, body []byte) ([]byte, error) {
	return c.call(ctx, "/execute", info, threadID, body)
}

// Interrupt asks threadID's sandbox to stop its current turn.
func (c *Client) Interrupt(ctx context.Context, info sandbox.Info, threadID string) error {
	_, err := c.call(ctx, "/interrupt", info, threadID, nil)
	return err
}

// SendAnswer delivers a human's answer to a pending question in
// threadID's sandbox.
func (c *Client) SendAnswer(ctx context.Context, info sandbox.Info, threadID, questionID string, answer []byte) error {
	_, err := c.call(ctx, fmt.Sprintf("/answer?question_id=%s", questionID), info, threadID, answer)
	return err
}

// Claim asks the router to confirm a sandbox is still backing threadID
// before the caller trusts a cached Info.
func (c *Client) Claim(ctx context.Context, info sandbox.Info, threadID string) error {
	_, err := c.call(ctx, "/claim", info, threadID, nil)
	return err
}

// Health checks that threadID's sandbox is responsive.
func (c *Client) Health(ctx context.Context, info sandbox.Info, threadID string) error {
	_, err := c.call(ctx, "/health", info, threadID, nil)
	return err
}

// ExecuteStream forwards an investigation request to threadID's sandbox
// and returns the raw upstream response body unread, so the caller can
// forward its SSE framing line-by-line without buffering the whole
// turn in memory (§5's backpressure requirement). The caller owns
// closing the returned body.
func (c *Client) ExecuteStream(ctx context.Context, info sandbox.Info, threadID string, body []byte) (io.ReadCloser, error) {
	return c.openStream(ctx, "/execute", info, threadID, body)
}

// InterruptStream asks threadID's sandbox to stop its current turn and
// returns the upstream's own SSE acknowledgement stream unread.
func (c *Client) InterruptStream(ctx context.Context, info sandbox.Info, threadID string) (io.ReadCloser, error) {
	return c.openStream(ctx, "/interrupt", info, threadID, []byte("{}"))
}

func (c *Client) openStream(ctx context.Context, path string, info sandbox.Info, threadID string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sandboxrouter: build request: %w", err)
	}
	c.setIdentityHeaders(req, info)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandboxrouter: %s %s: %w", path, threadID, orcherr.ErrUpstreamGateway)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		out, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sandboxrouter: %s returned %d: %s: %w", path, resp.StatusCode, out, orcherr.ErrUpstreamGateway)
	}
	return resp.Body, nil
}

func (c *Client) setIdentityHeaders(req *http.Request, info sandbox.Info) {
	req.Header.Set(headerSandboxID, info.Name)
	req.Header.Set(headerSandboxPort, c.port)
	req.Header.Set(headerSandboxNamespace, info.Namespace)
}

func (c *Client) call(ctx context.Context, path string, info sandbox.Info, threadID string, body []byte) ([]byte, error) {
	var reader io.Reader
	method := http.MethodGet
	if body != nil {
		reader = bytes.NewReader(body)
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("sandboxrouter: build request: %w", err)
	}
	req.Header.Set(headerSandboxID, info.Name)
	req.Header.Set(headerSandboxPort, c.port)
	req.Header.Set(headerSandboxNamespace, info.Namespace)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandboxrouter: %s %s: %w", method, path, orcherr.ErrUpstreamGateway)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sandboxrouter: read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return out, fmt.Errorf("sandboxrouter: %s %s returned %d: %s: %w", method, path, resp.StatusCode, out, orcherr.ErrUpstreamGateway)
	}
	return out, nil
}
