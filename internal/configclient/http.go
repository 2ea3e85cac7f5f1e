package configclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nextlevelbuilder/sreorch/internal/orcherr"
	"github.com/nextlevelbuilder/sreorch/internal/store"
)

// HTTPClient talks to a real external ConfigClient service over plain
// net/http + encoding/json — there is no generated or third-party REST
// client anywhere in the retrieval pack for this kind of thin typed
// call, so a hand-rolled client matches how the teacher itself talks to
// its own upstream LLM providers.
type HTTPClient struct {
	baseURL    string
	adminToken string
	http       *http.Client
}

// NewHTTPClient builds an HTTPClient targeting baseURL, authenticating
// admin operations with adminToken (read from
// SREORCH_CONFIGCLIENT_ADMIN_TOKEN per internal/config).
func NewHTTPClient(baseURL, adminToken string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{baseURL: baseURL, adminToken: adminToken, http: httpClient}
}

func (c *HTTPClient) LookupRouting(ctx context.Context, serviceName string, ids store.Identifiers, tenantHint string) (store.RoutingResult, error) {
	q := url.Values{}
	q.Set("service_name", serviceName)
	q.Set("surface", ids.Surface)
	q.Set("channel_id", ids.ChannelID)
	q.Set("user_id", ids.UserID)
	q.Set("thread_anchor", ids.ThreadAnchor)
	if tenantHint != "" {
		q.Set("tenant_hint", tenantHint)
	}

	var out store.RoutingResult
	if err := c.doJSON(ctx, http.MethodGet, "/v1/routing?"+q.Encode(), nil, &out); err != nil {
		return store.RoutingResult{}, fmt.Errorf("configclient: lookup routing: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) IssueTeamImpersonationToken(ctx context.Context, adminToken, tenantID, teamID string) (string, time.Duration, error) {
	if adminToken == "" {
		return "", 0, fmt.Errorf("configclient: issue impersonation token: %w", orcherr.ErrAuthMissing)
	}
	req := struct {
		TenantID string `json:"tenant_id"`
		TeamID   string `json:"team_id"`
	}{tenantID, teamID}

	var resp struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in_seconds"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/impersonation-tokens", req, &resp); err != nil {
		return "", 0, fmt.Errorf("configclient: issue impersonation token: %w", err)
	}
	return resp.Token, time.Duration(resp.ExpiresIn) * time.Second, nil
}

func (c *HTTPClient) GetEffectiveConfig(ctx context.Context, teamToken string) (EffectiveConfig, error) {
	var out EffectiveConfig
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/effective-config", nil)
	if err != nil {
		return EffectiveConfig{}, fmt.Errorf("configclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+teamToken)
	if err := c.do(req, &out); err != nil {
		return EffectiveConfig{}, fmt.Errorf("configclient: get effective config: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) ProvisionAtomic(ctx context.Context, serviceName, matchKind, matchValue, tenantID, teamID string) error {
	if c.adminToken == "" {
		return fmt.Errorf("configclient: provision: %w", orcherr.ErrAuthMissing)
	}
	body := struct {
		ServiceName string `json:"service_name"`
		MatchKind   string `json:"match_kind"`
		MatchValue  string `json:"match_value"`
		TenantID    string `json:"tenant_id"`
		TeamID      string `json:"team_id"`
	}{serviceName, matchKind, matchValue, tenantID, teamID}

	if err := c.doJSON(ctx, http.MethodPost, "/v1/admin/provision", body, nil); err != nil {
		return fmt.Errorf("configclient: provision: %w", err)
	}
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, orcherr.ErrUpstreamGateway)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned %d: %w", req.Method, req.URL.Path, resp.StatusCode, orcherr.ErrUpstreamGateway)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
