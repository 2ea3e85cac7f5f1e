// Package store holds the Tenant/Team/Routing persistence contract that
// backs ConfigClient's local/dev implementation (§6.3). It is
// deliberately narrow: this plane treats tenant and team identity as
// opaque (§3), so the store only needs to answer "which team does this
// identifier belong to" and "create a tenant/team/routing entry
// atomically," not model the rest of a tenant's configuration.
package store

import (
	"context"
	"time"
)

// Identifiers is what a TriggerAdapter resolved from an inbound message
// and wants mapped to a tenant/team. ServiceName scopes the lookup to
// one internal consumer (e.g. "sreorch-investigate") the way
// ConfigClient.lookup_routing's first argument does in §6.3.
type Identifiers struct {
	ServiceName  string
	Surface      string // "slack", "teams", "gchat", "discord", "telegram"
	ChannelID    string
	UserID       string
	ThreadAnchor string
}

// RoutingResult is ConfigClient's lookup_routing response shape (§6.3):
// Found reports whether any identifier matched; MatchedBy names which
// one did; Tried lists every identifier kind attempted, in order, for
// diagnostics when nothing matches.
type RoutingResult struct {
	Found     bool
	TenantID  string
	TeamID    string
	MatchedBy string
	Tried     []string
}

// RoutingStore is the persistence contract behind ConfigClient's local
// implementation. Both the Postgres-backed store (managed mode) and the
// in-memory store (standalone/local-dev mode) implement it, mirroring
// the teacher's dual file/pg SessionStore split.
type RoutingStore interface {
	// CreateTenant registers tenantID if it doesn't already exist.
	// Idempotent: creating an existing tenant is not an error.
	CreateTenant(ctx context.Context, tenantID string) error

	// CreateTeam registers teamNodeID under tenantID. Idempotent.
	CreateTeam(ctx context.Context, tenantID, teamNodeID string) error

	// RegisterRouting binds one identifier (channelID or userID,
	// whichever matchKind names) to a tenant/team under serviceName.
	// Used both by administrative provisioning and by an adapter's
	// auto-provision path.
	RegisterRouting(ctx context.Context, serviceName, matchKind, matchValue, tenantID, teamID string) error

	// LookupRouting tries each populated identifier on ids in a fixed
	// order (channel, then user) and returns the first match.
	LookupRouting(ctx context.Context, ids Identifiers, tenantHint string) (RoutingResult, error)

	// ProvisionAtomic creates a tenant, a default team under it, and
	// registers one routing entry as a single unit — per §4.6, an
	// adapter's auto-provision attempt must see all three succeed or
	// none did.
	ProvisionAtomic(ctx context.Context, tenantID, teamID, serviceName, matchKind, matchValue string) error
}

// RoutingEntry is a single persisted mapping, returned by admin listing
// endpoints (doctor, future CRUD surfaces) — not part of the lookup path.
type RoutingEntry struct {
	TenantID    string
	TeamID      string
	ServiceName string
	MatchKind   string
	MatchValue  string
	CreatedAt   time.Time
}
