// Package configclient is the orchestration plane's view of the
// external configuration service (§6.3): a read-only window onto
// tenant/team routing plus a minter of short-lived team-impersonation
// tokens. The plane never stores this data long-term — ConfigClient is
// always either a local stand-in (internal/store.RoutingStore) or a
// real remote service, never both for the same deployment.
package configclient

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/sreorch/internal/store"
)

// EffectiveConfig is the subset of get_effective_config's response (§6.3)
// the orchestration plane actually consumes: which agent a sandbox
// should boot as its entrance point, and an optional dedicated service
// URL overriding the default SandboxRouter target for that team.
type EffectiveConfig struct {
	EntranceAgent       string            `json:"entrance_agent"`
	DedicatedServiceURL string            `json:"agent_dedicated_service_url,omitempty"`
	Integrations        map[string]string `json:"integrations,omitempty"`
}

// Client is the ConfigClient abstraction every TriggerAdapter and the
// StreamBroker depend on. It is intentionally small: routing lookup,
// impersonation-token issuance, effective-config fetch, and the admin
// operations an auto-provisioning adapter needs.
type Client interface {
	// LookupRouting resolves ids to a tenant/team under serviceName.
	LookupRouting(ctx context.Context, serviceName string, ids store.Identifiers, tenantHint string) (store.RoutingResult, error)

	// IssueTeamImpersonationToken mints a short-lived token scoped to
	// tenantID/teamID, authenticated by adminToken. Returns
	// orcherr.ErrAuthMissing if adminToken is empty.
	IssueTeamImpersonationToken(ctx context.Context, adminToken, tenantID, teamID string) (string, time.Duration, error)

	// GetEffectiveConfig resolves the config a team_token is allowed to
	// see — which agent image/entrance point and integration set apply.
	GetEffectiveConfig(ctx context.Context, teamToken string) (EffectiveConfig, error)

	// ProvisionAtomic creates a tenant, a default team, and registers one
	// routing entry as a single unit, for adapters that support
	// auto-provisioning (§4.6). Implementations must make this atomic:
	// either all three succeed, or the caller sees the original error
	// and no partial state persists.
	ProvisionAtomic(ctx context.Context, serviceName, matchKind, matchValue, tenantID, teamID string) error
}
