package streambroker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/sreorch/internal/fileproxy"
	"github.com/nextlevelbuilder/sreorch/internal/orcherr"
	"github.com/nextlevelbuilder/sreorch/internal/telemetry"
	"github.com/nextlevelbuilder/sreorch/pkg/protocol"
)

const readyTimeout = 120 * time.Second

// imageAttachment is one element of the investigate request's images
// array (§6.1).
type imageAttachment struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
	Filename  string `json:"filename,omitempty"`
}

// fileAttachment is one element of the investigate request's
// file_attachments array (§6.1) — a credential-bearing reference the
// broker turns into a single-use FileProxy download link before the
// sandbox ever sees it.
type fileAttachment struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	MediaType   string `json:"media_type"`
	DownloadURL string `json:"download_url"`
	AuthHeader  string `json:"auth_header"`
}

// proxiedAttachment is what the sandbox actually receives in place of a
// fileAttachment: a token-bound link through this server, never the
// upstream URL or its credential.
type proxiedAttachment struct {
	Token     string `json:"token"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MediaType string `json:"media_type"`
	ProxyURL  string `json:"proxy_url"`
}

type investigateRequest struct {
	Prompt          string            `json:"prompt"`
	ThreadID        string            `json:"thread_id,omitempty"`
	TenantID        string            `json:"tenant_id,omitempty"`
	TeamID          string            `json:"team_id,omitempty"`
	TeamToken       string            `json:"team_token,omitempty"`
	Images          []imageAttachment `json:"images,omitempty"`
	FileAttachments []fileAttachment  `json:"file_attachments,omitempty"`
}

// sandboxExecuteBody is what the broker actually posts to the
// sandbox's /execute endpoint once attachments are rewritten to proxy
// links.
type sandboxExecuteBody struct {
	Prompt          string              `json:"prompt"`
	ThreadID        string              `json:"thread_id"`
	Images          []imageAttachment   `json:"images,omitempty"`
	FileDownloads   []proxiedAttachment `json:"file_downloads,omitempty"`
}

// handleInvestigate implements POST /investigate (§4.5).
func (s *Server) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req investigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}

	ctx, span := telemetry.Tracer().Start(r.Context(), "streambroker.investigate")
	defer span.End()

	threadID := req.ThreadID
	if threadID == "" {
		threadID = newThreadID()
	}
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = s.cfg.Tenant.DefaultTenantID
	}
	teamID := req.TeamID
	if teamID == "" {
		teamID = s.cfg.Tenant.DefaultTeamID
	}
	span.SetAttributes(
		attribute.String("sreorch.thread_id", threadID),
		attribute.String("sreorch.tenant_id", tenantID),
		attribute.String("sreorch.team_id", teamID),
	)

	_, err := s.sandboxes.GetSandbox(ctx, threadID)
	if err != nil {
		if !errorsIsNotFound(err) {
			slog.Error("streambroker.investigate.get_sandbox_failed", "thread_id", threadID, "error", err)
			http.Error(w, "sandbox lookup failed", http.StatusInternalServerError)
			return
		}

		jwtToken, jerr := s.vault.GetOrCreate(threadID, tenantID, teamID)
		if jerr != nil {
			slog.Error("streambroker.investigate.token_mint_failed", "thread_id", threadID, "error", jerr)
			http.Error(w, "token mint failed", http.StatusInternalServerError)
			return
		}

		if _, cerr := s.sandboxes.CreateSandbox(ctx, threadID, tenantID, teamID, jwtToken, req.TeamToken); cerr != nil && !errorsIsAlreadyExists(cerr) {
			slog.Error("streambroker.investigate.create_failed", "thread_id", threadID, "error", cerr)
			http.Error(w, "sandbox setup failed", http.StatusInternalServerError)
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, readyTimeout)
		_, werr := s.sandboxes.WaitForReady(waitCtx, threadID)
		cancel()
		if werr != nil {
			slog.Error("streambroker.investigate.wait_for_ready_failed", "thread_id", threadID, "error", werr)
			http.Error(w, "sandbox setup failed", http.StatusInternalServerError)
			return
		}
	}

	proxied := make([]proxiedAttachment, 0, len(req.FileAttachments))
	for _, fa := range req.FileAttachments {
		token, merr := s.proxy.Mint(fileproxy.Grant{
			UpstreamURL:  fa.DownloadURL,
			UpstreamAuth: fa.AuthHeader,
			Filename:     fa.Filename,
			SizeBytes:    fa.Size,
		})
		if merr != nil {
			slog.Error("streambroker.investigate.mint_token_failed", "thread_id", threadID, "error", merr)
			http.Error(w, "file attachment setup failed", http.StatusInternalServerError)
			return
		}
		proxied = append(proxied, proxiedAttachment{
			Token:     token,
			Filename:  fa.Filename,
			Size:      fa.Size,
			MediaType: fa.MediaType,
			ProxyURL:  s.proxyURL(token),
		})
	}

	body, merr := json.Marshal(sandboxExecuteBody{
		Prompt:        req.Prompt,
		ThreadID:      threadID,
		Images:        req.Images,
		FileDownloads: proxied,
	})
	if merr != nil {
		http.Error(w, "failed to build sandbox request", http.StatusInternalServerError)
		return
	}

	upstream, uerr := s.sandboxes.ExecuteStream(ctx, threadID, body)
	if uerr != nil {
		slog.Error("streambroker.investigate.execute_failed", "thread_id", threadID, "error", uerr)
		http.Error(w, "sandbox execute failed", http.StatusInternalServerError)
		return
	}
	defer upstream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Thread-ID", threadID)
	w.WriteHeader(http.StatusOK)

	streamSSE(ctx, w, upstream, threadID)
}

func (s *Server) proxyURL(token string) string {
	base := strings.TrimRight(s.cfg.FileProxy.BaseURL, "/")
	return fmt.Sprintf("%s/proxy/files/%s", base, token)
}

func newThreadID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, orcherr.ErrNotFound)
}

func errorsIsAlreadyExists(err error) bool {
	return errors.Is(err, orcherr.ErrAlreadyExists)
}

// streamSSE forwards upstream line-by-line to w, flushing after every
// line, per §4.5's passthrough rule: each non-empty line is rewritten
// to "{line}\n", with an extra "\n" appended when the line begins with
// "data:" (the SSE frame terminator). The payload itself is never
// parsed or mutated — only Type is peeked at, off the unmodified bytes,
// to decide whether the stream ended cleanly (§4.5 end-of-stream
// policy, P9).
func streamSSE(ctx context.Context, w http.ResponseWriter, upstream io.Reader, threadID string) {
	flusher, _ := w.(http.Flusher)
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sawTerminal := false
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}
		fmt.Fprintf(w, "%s\n", line)
		if strings.HasPrefix(line, "data:") {
			fmt.Fprint(w, "\n")
			if ev, ok := parseSSELine(line); ok && ev.Type.Terminal() {
				sawTerminal = true
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("streambroker.investigate.upstream_read_error", "thread_id", threadID, "error", err)
	}

	if !sawTerminal {
		ev := protocol.NewErrorEvent(threadID, "upstream stream ended before a terminal event", false)
		if err := protocol.WriteSSE(w, ev); err == nil && flusher != nil {
			flusher.Flush()
		}
	}
}

func parseSSELine(line string) (protocol.Event, bool) {
	data := strings.TrimPrefix(line, "data:")
	data = strings.TrimPrefix(data, " ")
	var ev protocol.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return protocol.Event{}, false
	}
	return ev, true
}
