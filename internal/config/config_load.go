package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns the configuration used when no config file exists yet.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         8790,
			RateLimitRPM: 60,
		},
		Sandbox: SandboxConfig{
			Namespace:       "sreorch-sandboxes",
			Image:           "sreorch/investigator:latest",
			CPUMillis:       2000,
			MemoryBytes:     2 << 30,
			PollIntervalMS:  2000,
			ReadyTimeoutSec: 120,
			IdleTTLMinutes:  30,
			RouterBaseURL:   "http://sandbox-router.sreorch-sandboxes.svc:8080",
		},
		TokenVault: TokenVaultConfig{
			TTLMinutes:            60,
			ReuseThresholdMinutes: 5,
		},
		FileProxy: FileProxyConfig{
			TTLMinutes:    15,
			ChunkBytes:    64 * 1024,
			GCIntervalSec: 300,
		},
		Tenant: TenantConfig{
			DefaultTenantID: "default",
			DefaultTeamID:   "default",
			AutoProvision:   true,
		},
		ConfigClient: ConfigClientConfig{
			Mode: "local",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "sreorchd",
			OTLPProtocol: "grpc",
		},
	}
}

// Load reads path as JSON5, falling back to Default() if the file does
// not exist, then applies environment overrides for secrets and
// operator tunables — same two-step discipline the teacher's loader
// uses (file defines shape, env wins for anything sensitive).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No file yet: defaults plus env overrides below.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path as indented JSON. Secret fields are tagged
// json:"-" and are therefore never written, matching the rule that
// secrets live in the environment only.
func Save(path string, cfg *Config) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides reads SREORCH_* environment variables, overwriting
// whatever the file (or Default()) set. Secrets are env-only and have
// no file-side equivalent at all.
func applyEnvOverrides(cfg *Config) {
	envStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	envStr("SREORCH_GATEWAY_HOST", &cfg.Gateway.Host)
	envInt("SREORCH_GATEWAY_PORT", &cfg.Gateway.Port)
	envInt("SREORCH_GATEWAY_RATE_LIMIT_RPM", &cfg.Gateway.RateLimitRPM)
	envStr("SREORCH_GATEWAY_ADMIN_TOKEN", &cfg.Gateway.AdminToken)
	if v, ok := os.LookupEnv("SREORCH_GATEWAY_ALLOWED_ORIGINS"); ok {
		cfg.Gateway.AllowedOrigins = splitNonEmpty(v, ",")
	}

	envStr("SREORCH_SANDBOX_NAMESPACE", &cfg.Sandbox.Namespace)
	envStr("SREORCH_SANDBOX_IMAGE", &cfg.Sandbox.Image)
	envStr("SREORCH_SANDBOX_ROUTER_BASE_URL", &cfg.Sandbox.RouterBaseURL)
	envStr("SREORCH_SANDBOX_KUBECONFIG", &cfg.Sandbox.Kubeconfig)
	envInt("SREORCH_SANDBOX_READY_TIMEOUT_SEC", &cfg.Sandbox.ReadyTimeoutSec)
	envInt("SREORCH_SANDBOX_IDLE_TTL_MINUTES", &cfg.Sandbox.IdleTTLMinutes)

	envInt("SREORCH_TOKENVAULT_TTL_MINUTES", &cfg.TokenVault.TTLMinutes)
	envInt("SREORCH_TOKENVAULT_REUSE_THRESHOLD_MINUTES", &cfg.TokenVault.ReuseThresholdMinutes)
	envStr("SREORCH_TOKENVAULT_SIGNING_KEY", &cfg.TokenVault.SigningKey)

	envInt("SREORCH_FILEPROXY_TTL_MINUTES", &cfg.FileProxy.TTLMinutes)
	envStr("SREORCH_FILEPROXY_BASE_URL", &cfg.FileProxy.BaseURL)

	envStr("SREORCH_TENANT_DEFAULT_TENANT_ID", &cfg.Tenant.DefaultTenantID)
	envStr("SREORCH_TENANT_DEFAULT_TEAM_ID", &cfg.Tenant.DefaultTeamID)
	envBool("SREORCH_TENANT_AUTO_PROVISION", &cfg.Tenant.AutoProvision)

	envStr("SREORCH_CONFIGCLIENT_MODE", &cfg.ConfigClient.Mode)
	envStr("SREORCH_CONFIGCLIENT_BASE_URL", &cfg.ConfigClient.BaseURL)
	envStr("SREORCH_CONFIGCLIENT_ADMIN_TOKEN", &cfg.ConfigClient.AdminToken)
	envStr("SREORCH_POSTGRES_DSN", &cfg.ConfigClient.PostgresDSN)

	envBool("SREORCH_TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	envStr("SREORCH_TELEMETRY_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	envStr("SREORCH_TELEMETRY_OTLP_PROTOCOL", &cfg.Telemetry.OTLPProtocol)

	envBool("SREORCH_ADAPTER_DISCORD_ENABLED", &cfg.Adapters.Discord.Enabled)
	envStr("SREORCH_ADAPTER_DISCORD_TOKEN", &cfg.Adapters.Discord.Token)
	if v, ok := os.LookupEnv("SREORCH_ADAPTER_DISCORD_ALLOW_FROM"); ok {
		cfg.Adapters.Discord.AllowFrom = splitNonEmpty(v, ",")
	}
	envBool("SREORCH_ADAPTER_TELEGRAM_ENABLED", &cfg.Adapters.Telegram.Enabled)
	envStr("SREORCH_ADAPTER_TELEGRAM_TOKEN", &cfg.Adapters.Telegram.Token)
	if v, ok := os.LookupEnv("SREORCH_ADAPTER_TELEGRAM_ALLOW_FROM"); ok {
		cfg.Adapters.Telegram.AllowFrom = splitNonEmpty(v, ",")
	}
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
