package triggeradapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type httpFileAttachment struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	MediaType   string `json:"media_type"`
	DownloadURL string `json:"download_url"`
	AuthHeader  string `json:"auth_header"`
}

type httpInvestigateRequest struct {
	Prompt          string               `json:"prompt"`
	ThreadID        string               `json:"thread_id,omitempty"`
	TenantID        string               `json:"tenant_id,omitempty"`
	TeamID          string               `json:"team_id,omitempty"`
	TeamToken       string               `json:"team_token,omitempty"`
	FileAttachments []httpFileAttachment `json:"file_attachments,omitempty"`
}

// HTTPBroker drives StreamBroker's public HTTP surface, the same
// boundary a real chat-surface trigger crosses even when, as with the
// demo adapters, both sides run in the same process.
type HTTPBroker struct {
	BaseURL string
	HTTP    *http.Client
}

// Investigate satisfies Broker by POSTing to BaseURL+"/investigate" and
// returning the response body as the caller's SSE stream.
func (b HTTPBroker) Investigate(ctx context.Context, prompt, threadID, tenantID, teamID, teamToken string, attachments []Attachment) (io.ReadCloser, error) {
	client := b.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	fa := make([]httpFileAttachment, 0, len(attachments))
	for _, a := range attachments {
		fa = append(fa, httpFileAttachment{
			Filename:    a.Filename,
			Size:        a.Size,
			MediaType:   a.MediaType,
			DownloadURL: a.DownloadURL,
			AuthHeader:  a.AuthHeader,
		})
	}

	body, err := json.Marshal(httpInvestigateRequest{
		Prompt:          prompt,
		ThreadID:        threadID,
		TenantID:        tenantID,
		TeamID:          teamID,
		TeamToken:       teamToken,
		FileAttachments: fa,
	})
	if err != nil {
		return nil, fmt.Errorf("triggeradapter: marshal investigate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/investigate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("triggeradapter: build investigate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("triggeradapter: investigate request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		out, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("triggeradapter: investigate returned %d: %s", resp.StatusCode, out)
	}
	return resp.Body, nil
}
