package triggeradapter

import (
	"context"
	"crypto/sha1"
	"encoding/hex"

	"github.com/nextlevelbuilder/sreorch/internal/configclient"
	"github.com/nextlevelbuilder/sreorch/internal/store"
)

// ConfigRouter adapts internal/configclient.Client to the Router
// interface, the default wiring cmd/serve.go gives the demo adapters.
type ConfigRouter struct {
	Client        configclient.Client
	AdminToken    string
	ServiceName   string
	AutoProvision bool
}

// LookupRouting satisfies Router by delegating to the ConfigClient.
func (r ConfigRouter) LookupRouting(ctx context.Context, serviceName string, ids Identifiers) (string, string, bool, error) {
	res, err := r.Client.LookupRouting(ctx, serviceName, store.Identifiers{
		ServiceName:  serviceName,
		Surface:      ids.Surface,
		ChannelID:    ids.ChannelID,
		UserID:       ids.UserID,
		ThreadAnchor: ids.ThreadAnchor,
	}, ids.TenantHint)
	if err != nil {
		return "", "", false, err
	}
	return res.TenantID, res.TeamID, res.Found, nil
}

// IssueTeamToken satisfies Router by minting an impersonation token
// through the ConfigClient, authenticated with the configured admin
// token.
func (r ConfigRouter) IssueTeamToken(ctx context.Context, tenantID, teamID string) (string, error) {
	token, _, err := r.Client.IssueTeamImpersonationToken(ctx, r.AdminToken, tenantID, teamID)
	return token, err
}

// ProvisionAtomic derives a deterministic tenant/team pair from ids and
// registers it, when AutoProvision is set. Returns found=false without
// error when auto-provisioning is disabled for this deployment.
func (r ConfigRouter) ProvisionAtomic(ctx context.Context, ids Identifiers) (string, string, bool, error) {
	if !r.AutoProvision {
		return "", "", false, nil
	}
	tenantID := "auto-" + ids.Surface
	teamID := "auto-" + shortHash(ids.Surface+":"+ids.ChannelID)
	if err := r.Client.ProvisionAtomic(ctx, r.ServiceName, "channel_id", ids.ChannelID, tenantID, teamID); err != nil {
		return "", "", false, err
	}
	return tenantID, teamID, true, nil
}

func shortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:6])
}
