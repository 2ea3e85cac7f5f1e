package fileproxy

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/sreorch/internal/orcherr"
)

// Handler returns an http.HandlerFunc serving GET /proxy/files/{token},
// mounted by the StreamBroker's router under that prefix.
func (p *Proxy) Handler(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		token := strings.TrimPrefix(r.URL.Path, prefix)
		if token == "" {
			http.Error(w, "missing token", http.StatusBadRequest)
			return
		}

		if err := p.Redeem(w, r, token); err != nil {
			switch {
			case errors.Is(err, orcherr.ErrNotFound), errors.Is(err, orcherr.ErrTokenExpired):
				http.Error(w, "link expired or already used", orcherr.StatusFor(err))
			default:
				slog.Warn("proxy.download.failed", "token_prefix", safePrefix(token), "error", err)
				http.Error(w, "download failed", orcherr.StatusFor(err))
			}
			return
		}
		slog.Info("proxy.download.served", "token_prefix", safePrefix(token))
	}
}

func safePrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
