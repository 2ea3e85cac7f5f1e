// Package streambroker is the StreamBroker: the public HTTP surface of
// the orchestration plane. It accepts /investigate, /interrupt, and
// /answer calls, drives SandboxManager and TokenVault to get a sandbox
// ready, and forwards SSE byte-for-byte between the sandbox's
// SandboxRouter connection and the caller.
package streambroker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/sreorch/internal/config"
	"github.com/nextlevelbuilder/sreorch/internal/fileproxy"
	"github.com/nextlevelbuilder/sreorch/internal/sandbox"
)

// SandboxManager is the subset of internal/sandbox.Manager's operations
// StreamBroker drives. Defined here, not imported as a concrete type,
// so tests can swap in a fake without building a fake Kubernetes client.
type SandboxManager interface {
	CreateSandbox(ctx context.Context, threadID, tenantID, teamID, jwtToken, teamToken string) (sandbox.Info, error)
	GetSandbox(ctx context.Context, threadID string) (sandbox.Info, error)
	WaitForReady(ctx context.Context, threadID string) (sandbox.Info, error)
	SendAnswer(ctx context.Context, threadID, questionID string, answer []byte) error
	ExecuteStream(ctx context.Context, threadID string, body []byte) (io.ReadCloser, error)
	InterruptStream(ctx context.Context, threadID string) (io.ReadCloser, error)
}

// TokenVault is the subset of internal/tokenvault.Vault StreamBroker
// needs to get a thread's sandbox-callback JWT.
type TokenVault interface {
	GetOrCreate(threadID, tenantID, teamID string) (string, error)
}

// FileProxy is the subset of internal/fileproxy.Proxy StreamBroker
// drives when an /investigate request carries file attachments, plus
// the GC hook /health calls.
type FileProxy interface {
	Mint(grant fileproxy.Grant) (string, error)
	GC() int
	ActiveCount() int
	Handler(prefix string) http.HandlerFunc
}

// Server is the StreamBroker.
type Server struct {
	cfg       *config.Config
	sandboxes SandboxManager
	vault     TokenVault
	proxy     FileProxy

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	httpServer *http.Server
	mux        *http.ServeMux
}

// New builds a Server. cfg is read per request where it matters (rate
// limit and allowed origins). The Server keeps the pointer it is given;
// cmd/serve passes a copy taken at startup, so a config.Watcher reload
// does not reach it.
func New(cfg *config.Config, sandboxes SandboxManager, vault TokenVault, proxy FileProxy) *Server {
	return &Server{
		cfg:       cfg,
		sandboxes: sandboxes,
		vault:     vault,
		proxy:     proxy,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// checkOrigin validates the Origin header against the configured
// allowlist. No configured origins means allow all — dev-mode default,
// matching the teacher's CORS fallback.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		next(w, r)
	}
}

// rateLimit enforces the gateway's per-caller RPM, keyed on remote IP.
// rate_limit_rpm <= 0 disables limiting entirely.
func (s *Server) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rpm := s.cfg.Gateway.RateLimitRPM
		if rpm <= 0 {
			next(w, r)
			return
		}
		key := clientIP(r)
		if !s.limiterFor(key, rpm).Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (s *Server) limiterFor(key string, rpm int) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
		s.limiters[key] = lim
	}
	return lim
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

// BuildMux constructs and caches the HTTP mux with every StreamBroker
// route registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/investigate", s.corsMiddleware(s.rateLimit(s.handleInvestigate)))
	mux.HandleFunc("/interrupt", s.corsMiddleware(s.rateLimit(s.handleInterrupt)))
	mux.HandleFunc("/answer", s.corsMiddleware(s.rateLimit(s.handleAnswer)))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/proxy/files/", s.proxy.Handler("/proxy/files/"))

	s.mux = mux
	return mux
}

// Start begins serving on cfg.Gateway.Host:Port until ctx is canceled,
// then shuts down within 5s.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("streambroker.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("streambroker: %w", err)
	}
	return nil
}

// handleHealth GCs expired download tokens and reports the active
// count, per §4.5.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	removed := s.proxy.GC()
	slog.Debug("streambroker.health.gc", "removed", removed)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","active_download_tokens":%d}`, s.proxy.ActiveCount())
}
