package configclient

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nextlevelbuilder/sreorch/internal/orcherr"
	"github.com/nextlevelbuilder/sreorch/internal/store"
)

// impersonationClaims is the payload of a local team-impersonation
// token — scoped to a team, never a user, and short-lived by design
// (§2's control-flow: minted fresh per investigation trigger).
type impersonationClaims struct {
	TenantID string `json:"tenant_id"`
	TeamID   string `json:"team_id"`
	jwt.RegisteredClaims
}

// LocalClient answers ConfigClient operations from an in-process
// store.RoutingStore instead of a remote service — the "local" mode
// §6.5's ConfigClientConfig selects for standalone or single-tenant
// deployments that don't run a separate config service.
type LocalClient struct {
	routing      store.RoutingStore
	signingKey   []byte
	tokenTTL     time.Duration
	entranceAgent string
}

// NewLocalClient builds a LocalClient. signingKey signs impersonation
// tokens; entranceAgent is returned as GetEffectiveConfig's
// EntranceAgent for every team, since a local deployment has exactly
// one agent image configured (internal/config's SandboxConfig.Image).
func NewLocalClient(routing store.RoutingStore, signingKey string, tokenTTL time.Duration, entranceAgent string) *LocalClient {
	if tokenTTL <= 0 {
		tokenTTL = 10 * time.Minute
	}
	return &LocalClient{
		routing:       routing,
		signingKey:    []byte(signingKey),
		tokenTTL:      tokenTTL,
		entranceAgent: entranceAgent,
	}
}

func (c *LocalClient) LookupRouting(ctx context.Context, serviceName string, ids store.Identifiers, tenantHint string) (store.RoutingResult, error) {
	ids.ServiceName = serviceName
	return c.routing.LookupRouting(ctx, ids, tenantHint)
}

func (c *LocalClient) IssueTeamImpersonationToken(ctx context.Context, adminToken, tenantID, teamID string) (string, time.Duration, error) {
	if adminToken == "" {
		return "", 0, fmt.Errorf("configclient: issue impersonation token: %w", orcherr.ErrAuthMissing)
	}
	if len(c.signingKey) == 0 {
		return "", 0, fmt.Errorf("configclient: issue impersonation token: %w", orcherr.ErrAuthMissing)
	}

	now := time.Now()
	claims := impersonationClaims{
		TenantID: tenantID,
		TeamID:   teamID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
	if err != nil {
		return "", 0, fmt.Errorf("configclient: sign impersonation token: %w", err)
	}
	return signed, c.tokenTTL, nil
}

func (c *LocalClient) GetEffectiveConfig(ctx context.Context, teamToken string) (EffectiveConfig, error) {
	if _, err := c.verify(teamToken); err != nil {
		return EffectiveConfig{}, err
	}
	return EffectiveConfig{EntranceAgent: c.entranceAgent}, nil
}

func (c *LocalClient) ProvisionAtomic(ctx context.Context, serviceName, matchKind, matchValue, tenantID, teamID string) error {
	return c.routing.ProvisionAtomic(ctx, tenantID, teamID, serviceName, matchKind, matchValue)
}

func (c *LocalClient) verify(token string) (impersonationClaims, error) {
	var claims impersonationClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return impersonationClaims{}, fmt.Errorf("configclient: verify team token: %w", orcherr.ErrAuthMissing)
	}
	return claims, nil
}
