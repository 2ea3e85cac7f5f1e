// Package tokenvault mints and verifies the bearer tokens injected into
// a thread's sandbox (as SREORCH_SANDBOX_JWT). Tokens are
// capability-scoped to a thread rather than a user: anyone holding one
// can act as that thread's sandbox, nothing more.
package tokenvault

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/sreorch/internal/orcherr"
)

// Claims is the JWT payload minted for a thread's sandbox session.
type Claims struct {
	ThreadID   string `json:"thread_id"`
	TenantID   string `json:"tenant_id"`
	TeamID     string `json:"team_id"`
	SandboxName string `json:"sandbox_name"`
	jwt.RegisteredClaims
}

type entry struct {
	token   string
	claims  Claims
	expires time.Time
}

// Vault mints and verifies thread-scoped JWTs. State is an in-memory
// map keyed by thread ID; sessions are not persisted across restarts
// by design — after a restart, or once a token nears expiry, the next
// GetOrCreate for the thread simply mints a fresh one.
type Vault struct {
	signingKey        []byte
	ttl               time.Duration
	reuseThreshold    time.Duration

	mu      sync.RWMutex
	byThread map[string]entry
}

// New constructs a Vault. signingKey must be non-empty; ttl is how long
// a minted token is valid; reuseThreshold is how much life a cached
// token must still have left for GetOrCreate to hand it back — with
// that much or less left, GetOrCreate mints a replacement instead.
func New(signingKey string, ttl, reuseThreshold time.Duration) (*Vault, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("tokenvault: signing key required")
	}
	return &Vault{
		signingKey:     []byte(signingKey),
		ttl:            ttl,
		reuseThreshold: reuseThreshold,
		byThread:       make(map[string]entry),
	}, nil
}

// GetOrCreate returns a valid token for threadID, reusing the cached
// one if it still has more than reuseThreshold life left, and minting a
// fresh one otherwise.
func (v *Vault) GetOrCreate(threadID, tenantID, teamID string) (string, error) {
	v.mu.RLock()
	cached, ok := v.byThread[threadID]
	v.mu.RUnlock()

	if ok && time.Until(cached.expires) > v.reuseThreshold {
		return cached.token, nil
	}

	now := time.Now()
	claims := Claims{
		ThreadID:    threadID,
		TenantID:    tenantID,
		TeamID:      teamID,
		SandboxName: "investigation-" + threadID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.signingKey)
	if err != nil {
		return "", fmt.Errorf("tokenvault: sign token: %w", err)
	}

	v.mu.Lock()
	v.byThread[threadID] = entry{token: signed, claims: claims, expires: claims.ExpiresAt.Time}
	v.mu.Unlock()

	return signed, nil
}

// Verify parses and validates token, returning its claims. Returns
// orcherr.ErrTokenExpired for an expired token and orcherr.ErrNotFound
// for anything else that fails to parse or verify.
func (v *Vault) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("tokenvault verify: %w", orcherr.ErrTokenExpired)
		}
		return Claims{}, fmt.Errorf("tokenvault verify: %w", orcherr.ErrNotFound)
	}
	if !parsed.Valid {
		return Claims{}, fmt.Errorf("tokenvault verify: %w", orcherr.ErrNotFound)
	}
	return claims, nil
}

// Revoke drops the cached token for threadID, if any. A sandbox that
// has been interrupted or has finished its turn no longer needs a live
// token, but callers are not required to call this — GetOrCreate will
// silently re-mint regardless.
func (v *Vault) Revoke(threadID string) {
	v.mu.Lock()
	delete(v.byThread, threadID)
	v.mu.Unlock()
}
