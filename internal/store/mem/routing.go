// Package mem is the standalone-mode RoutingStore: an in-memory map
// guarded by a mutex, used when no SREORCH_POSTGRES_DSN is configured.
// Mirrors the teacher's internal/store/file fallback for SessionStore —
// same "no database needed for local dev" shape, different payload.
package mem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/sreorch/internal/store"
)

type routingKey struct {
	serviceName string
	matchKind   string
	matchValue  string
}

// Store is an in-memory store.RoutingStore.
type Store struct {
	mu       sync.RWMutex
	tenants  map[string]bool
	teams    map[string]bool // "tenantID/teamID"
	routings map[routingKey]store.RoutingEntry
}

// New builds an empty in-memory Store.
func New() *Store {
	return &Store{
		tenants:  make(map[string]bool),
		teams:    make(map[string]bool),
		routings: make(map[routingKey]store.RoutingEntry),
	}
}

func (s *Store) CreateTenant(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenantID] = true
	return nil
}

func (s *Store) CreateTeam(_ context.Context, tenantID, teamNodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tenants[tenantID] {
		return fmt.Errorf("mem routing store: create team: unknown tenant %q", tenantID)
	}
	s.teams[teamKey(tenantID, teamNodeID)] = true
	return nil
}

func (s *Store) RegisterRouting(_ context.Context, serviceName, matchKind, matchValue, tenantID, teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routings[routingKey{serviceName, matchKind, matchValue}] = store.RoutingEntry{
		TenantID: tenantID, TeamID: teamID, ServiceName: serviceName,
		MatchKind: matchKind, MatchValue: matchValue, CreatedAt: time.Now(),
	}
	return nil
}

func (s *Store) LookupRouting(_ context.Context, ids store.Identifiers, tenantHint string) (store.RoutingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tried []string
	tryMatch := func(kind, value string) (store.RoutingEntry, bool) {
		if value == "" {
			return store.RoutingEntry{}, false
		}
		tried = append(tried, kind)
		e, ok := s.routings[routingKey{ids.ServiceName, kind, value}]
		if !ok || (tenantHint != "" && e.TenantID != tenantHint) {
			return store.RoutingEntry{}, false
		}
		return e, true
	}

	if e, ok := tryMatch("channel_id", ids.ChannelID); ok {
		return store.RoutingResult{Found: true, TenantID: e.TenantID, TeamID: e.TeamID, MatchedBy: "channel_id", Tried: tried}, nil
	}
	if e, ok := tryMatch("user_id", ids.UserID); ok {
		return store.RoutingResult{Found: true, TenantID: e.TenantID, TeamID: e.TeamID, MatchedBy: "user_id", Tried: tried}, nil
	}
	return store.RoutingResult{Found: false, Tried: tried}, nil
}

func (s *Store) ProvisionAtomic(_ context.Context, tenantID, teamID, serviceName, matchKind, matchValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenantID] = true
	s.teams[teamKey(tenantID, teamID)] = true
	s.routings[routingKey{serviceName, matchKind, matchValue}] = store.RoutingEntry{
		TenantID: tenantID, TeamID: teamID, ServiceName: serviceName,
		MatchKind: matchKind, MatchValue: matchValue, CreatedAt: time.Now(),
	}
	return nil
}

func teamKey(tenantID, teamID string) string {
	return tenantID + "/" + teamID
}
