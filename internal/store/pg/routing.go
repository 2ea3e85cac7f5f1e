package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/sreorch/internal/store"
)

// RoutingStore implements store.RoutingStore backed by Postgres. Table
// shape and CRUD style (column-constant selects, ExecContext/
// QueryRowContext, ON CONFLICT upserts) follow the teacher's
// store/pg/teams.go almost verbatim; the schema itself is new — three
// narrow tables instead of the teacher's team/task/message trio.
type RoutingStore struct {
	db *sql.DB
}

// NewRoutingStore wraps db as a store.RoutingStore.
func NewRoutingStore(db *sql.DB) *RoutingStore {
	return &RoutingStore{db: db}
}

const routingSelectCols = `tenant_id, team_id, service_name, match_kind, match_value, created_at`

func (s *RoutingStore) CreateTenant(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (tenant_id, created_at) VALUES ($1, now())
		 ON CONFLICT (tenant_id) DO NOTHING`, tenantID)
	if err != nil {
		return fmt.Errorf("pg routing: create tenant %s: %w", tenantID, err)
	}
	return nil
}

func (s *RoutingStore) CreateTeam(ctx context.Context, tenantID, teamNodeID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (tenant_id, team_node_id, created_at) VALUES ($1, $2, now())
		 ON CONFLICT (tenant_id, team_node_id) DO NOTHING`, tenantID, teamNodeID)
	if err != nil {
		return fmt.Errorf("pg routing: create team %s/%s: %w", tenantID, teamNodeID, err)
	}
	return nil
}

func (s *RoutingStore) RegisterRouting(ctx context.Context, serviceName, matchKind, matchValue, tenantID, teamID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing_keys (service_name, match_kind, match_value, tenant_id, team_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (service_name, match_kind, match_value)
		 DO UPDATE SET tenant_id = EXCLUDED.tenant_id, team_id = EXCLUDED.team_id`,
		serviceName, matchKind, matchValue, tenantID, teamID)
	if err != nil {
		return fmt.Errorf("pg routing: register %s/%s=%s: %w", serviceName, matchKind, matchValue, err)
	}
	return nil
}

func (s *RoutingStore) LookupRouting(ctx context.Context, ids store.Identifiers, tenantHint string) (store.RoutingResult, error) {
	var tried []string

	tryMatch := func(kind, value string) (string, string, bool, error) {
		if value == "" {
			return "", "", false, nil
		}
		tried = append(tried, kind)
		row := s.db.QueryRowContext(ctx,
			`SELECT tenant_id, team_id FROM routing_keys WHERE service_name = $1 AND match_kind = $2 AND match_value = $3`,
			ids.ServiceName, kind, value)
		var tenantID, teamID string
		if err := row.Scan(&tenantID, &teamID); err != nil {
			if err == sql.ErrNoRows {
				return "", "", false, nil
			}
			return "", "", false, err
		}
		if tenantHint != "" && tenantID != tenantHint {
			return "", "", false, nil
		}
		return tenantID, teamID, true, nil
	}

	if tenantID, teamID, ok, err := tryMatch("channel_id", ids.ChannelID); err != nil {
		return store.RoutingResult{}, fmt.Errorf("pg routing: lookup channel_id: %w", err)
	} else if ok {
		return store.RoutingResult{Found: true, TenantID: tenantID, TeamID: teamID, MatchedBy: "channel_id", Tried: tried}, nil
	}

	if tenantID, teamID, ok, err := tryMatch("user_id", ids.UserID); err != nil {
		return store.RoutingResult{}, fmt.Errorf("pg routing: lookup user_id: %w", err)
	} else if ok {
		return store.RoutingResult{Found: true, TenantID: tenantID, TeamID: teamID, MatchedBy: "user_id", Tried: tried}, nil
	}

	return store.RoutingResult{Found: false, Tried: tried}, nil
}

func (s *RoutingStore) ProvisionAtomic(ctx context.Context, tenantID, teamID, serviceName, matchKind, matchValue string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pg routing: provision: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tenants (tenant_id, created_at) VALUES ($1, now()) ON CONFLICT (tenant_id) DO NOTHING`,
		tenantID); err != nil {
		return fmt.Errorf("pg routing: provision: tenant: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO teams (tenant_id, team_node_id, created_at) VALUES ($1, $2, now()) ON CONFLICT (tenant_id, team_node_id) DO NOTHING`,
		tenantID, teamID); err != nil {
		return fmt.Errorf("pg routing: provision: team: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO routing_keys (service_name, match_kind, match_value, tenant_id, team_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (service_name, match_kind, match_value)
		 DO UPDATE SET tenant_id = EXCLUDED.tenant_id, team_id = EXCLUDED.team_id`,
		serviceName, matchKind, matchValue, tenantID, teamID); err != nil {
		return fmt.Errorf("pg routing: provision: routing key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pg routing: provision: commit: %w", err)
	}
	return nil
}

// ListRouting returns every persisted routing key for doctor/admin
// listing surfaces. Not part of store.RoutingStore — callers that need
// it type-assert to *RoutingStore, matching the teacher's pattern of
// exposing extra methods beyond an interface for admin-only callers.
func (s *RoutingStore) ListRouting(ctx context.Context) ([]store.RoutingEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+routingSelectCols+` FROM routing_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("pg routing: list: %w", err)
	}
	defer rows.Close()

	var out []store.RoutingEntry
	for rows.Next() {
		var e store.RoutingEntry
		if err := rows.Scan(&e.TenantID, &e.TeamID, &e.ServiceName, &e.MatchKind, &e.MatchValue, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
