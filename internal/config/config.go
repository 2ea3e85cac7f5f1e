// Package config holds the orchestration plane's configuration tree:
// one JSON5 file on disk plus environment-variable overrides for
// anything secret. The shape and loading discipline follow the
// teacher's config package — a single root struct, a Default(), a
// Load(path), env overrides applied after file parsing, and a Hash()
// for detecting concurrent edits.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Config is the root configuration tree for sreorchd.
type Config struct {
	Gateway      GatewayConfig      `json:"gateway"`
	Sandbox      SandboxConfig      `json:"sandbox"`
	TokenVault   TokenVaultConfig   `json:"token_vault"`
	FileProxy    FileProxyConfig    `json:"file_proxy"`
	Tenant       TenantConfig       `json:"tenant"`
	ConfigClient ConfigClientConfig `json:"config_client"`
	Telemetry    TelemetryConfig    `json:"telemetry"`
	Adapters     AdaptersConfig     `json:"adapters"`
}

// GatewayConfig controls the StreamBroker's own HTTP listener.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPM   int      `json:"rate_limit_rpm"`

	// AdminToken is only ever read from SREORCH_GATEWAY_ADMIN_TOKEN and
	// never persisted to disk. Nothing in sreorchd uses it; ConfigClient
	// admin calls authenticate with ConfigClientConfig.AdminToken.
	AdminToken string `json:"-"`
}

// SandboxConfig controls per-thread sandbox provisioning.
type SandboxConfig struct {
	Namespace       string `json:"namespace"`
	Image           string `json:"image"`
	CPUMillis       int64  `json:"cpu_millis"`
	MemoryBytes     int64  `json:"memory_bytes"`
	PollIntervalMS  int    `json:"poll_interval_ms"`
	ReadyTimeoutSec int    `json:"ready_timeout_sec"`
	IdleTTLMinutes  int    `json:"idle_ttl_minutes"`

	// RouterBaseURL is the fixed SandboxRouter endpoint every sandbox's
	// execute/interrupt/answer/claim/health calls are forwarded to.
	RouterBaseURL string `json:"router_base_url"`

	// Kubeconfig, if set, is the kubeconfig file used when in-cluster
	// config discovery fails — for local development against an
	// out-of-cluster context.
	Kubeconfig string `json:"kubeconfig,omitempty"`
}

// TokenVaultConfig controls capability-token minting for sandbox access.
type TokenVaultConfig struct {
	TTLMinutes            int `json:"ttl_minutes"`
	ReuseThresholdMinutes int `json:"reuse_threshold_minutes"`

	// SigningKey is the HMAC secret for minted JWTs. Only ever read from
	// SREORCH_TOKENVAULT_SIGNING_KEY; never written to the config file.
	SigningKey string `json:"-"`
}

// FileProxyConfig controls single-use download token behavior.
type FileProxyConfig struct {
	TTLMinutes    int    `json:"ttl_minutes"`
	BaseURL       string `json:"base_url"`
	ChunkBytes    int    `json:"chunk_bytes"`
	GCIntervalSec int    `json:"gc_interval_sec"`
}

// TenantConfig supplies local/dev fallback tenant and team identifiers
// when ConfigClient routing lookups are not backed by a real directory.
type TenantConfig struct {
	DefaultTenantID string `json:"default_tenant_id"`
	DefaultTeamID   string `json:"default_team_id"`
	AutoProvision   bool   `json:"auto_provision"`
}

// ConfigClientConfig controls how routing/impersonation lookups are
// served: either locally from an internal/store RoutingStore (Postgres
// when SREORCH_POSTGRES_DSN is set, in-memory otherwise), or by
// forwarding to an external ConfigClient HTTP service.
type ConfigClientConfig struct {
	Mode    string `json:"mode"` // "local" or "remote"
	BaseURL string `json:"base_url,omitempty"`

	// AdminToken authenticates admin tenant/team CRUD calls against a
	// remote ConfigClient. Only ever read from
	// SREORCH_CONFIGCLIENT_ADMIN_TOKEN.
	AdminToken string `json:"-"`

	// PostgresDSN backs the local store. Only ever read from
	// SREORCH_POSTGRES_DSN.
	PostgresDSN string `json:"-"`
}

// TelemetryConfig controls OpenTelemetry span export.
type TelemetryConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"service_name"`
	OTLPEndpoint string `json:"otlp_endpoint"`
	OTLPProtocol string `json:"otlp_protocol"` // "grpc" or "http"
}

// AdaptersConfig holds the demo TriggerAdapters' own settings. Each
// adapter is independently enabled; absence of a token disables it
// regardless of Enabled, since a bot session can't open without one.
type AdaptersConfig struct {
	Discord  DiscordAdapterConfig  `json:"discord"`
	Telegram TelegramAdapterConfig `json:"telegram"`
}

// DiscordAdapterConfig controls the Discord demo TriggerAdapter.
type DiscordAdapterConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allow_from,omitempty"`

	// Token authenticates the bot session. Only ever read from
	// SREORCH_ADAPTER_DISCORD_TOKEN.
	Token string `json:"-"`
}

// TelegramAdapterConfig controls the Telegram demo TriggerAdapter.
type TelegramAdapterConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allow_from,omitempty"`

	// Token authenticates the bot session. Only ever read from
	// SREORCH_ADAPTER_TELEGRAM_TOKEN.
	Token string `json:"-"`
}

// ReplaceFrom copies every field of other into c, used after a hot
// reload to atomically swap the live config under one lock acquisition
// rather than field-by-field.
func (c *Config) ReplaceFrom(other *Config) {
	*c = *other
}

// Hash returns a short hex digest of the config's JSON encoding,
// excluding secret fields (they're tagged json:"-" and never
// marshaled). Used to detect whether a reload actually changed
// anything worth logging.
func (c *Config) Hash() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("hash config: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8]), nil
}
