package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sreorch/internal/config"
	"github.com/nextlevelbuilder/sreorch/internal/sandbox"
	"github.com/nextlevelbuilder/sreorch/internal/sandboxrouter"
	"github.com/nextlevelbuilder/sreorch/internal/store"
	"github.com/nextlevelbuilder/sreorch/internal/store/mem"
	"github.com/nextlevelbuilder/sreorch/internal/store/pg"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check orchestration-plane dependencies and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

// runDoctor reports, section by section, whether each of the
// orchestration plane's external dependencies is reachable: the
// Kubernetes cluster SandboxManager provisions against, the
// SandboxRouter gateway, the TokenVault signing key, and ConfigClient's
// backing store. It never mutates anything it checks.
func runDoctor() {
	fmt.Println("sreorchd doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (using defaults — file not found)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Println()
	fmt.Println("  Sandbox (Kubernetes):")
	fmt.Printf("    %-18s %s\n", "Namespace:", cfg.Sandbox.Namespace)
	fmt.Printf("    %-18s %s\n", "Router URL:", cfg.Sandbox.RouterBaseURL)
	checkSandboxCluster(cfg)

	fmt.Println()
	fmt.Println("  SandboxRouter:")
	checkSandboxRouter(ctx, cfg)

	fmt.Println()
	fmt.Println("  TokenVault:")
	if cfg.TokenVault.SigningKey == "" {
		fmt.Println("    Signing key: NOT SET (SREORCH_TOKENVAULT_SIGNING_KEY) — every /investigate will fail to mint a JWT")
	} else {
		fmt.Printf("    %-18s %d min (reuse threshold %d min)\n", "TTL:", cfg.TokenVault.TTLMinutes, cfg.TokenVault.ReuseThresholdMinutes)
		fmt.Println("    Signing key: configured (OK)")
	}

	fmt.Println()
	fmt.Println("  ConfigClient:")
	fmt.Printf("    %-18s %s\n", "Mode:", cfg.ConfigClient.Mode)
	checkConfigClient(ctx, cfg)

	fmt.Println()
	fmt.Println("  FileProxy:")
	fmt.Printf("    %-18s %s\n", "Base URL:", cfg.FileProxy.BaseURL)
	fmt.Printf("    %-18s %d min\n", "TTL:", cfg.FileProxy.TTLMinutes)

	fmt.Println()
	fmt.Println("  Telemetry:")
	if cfg.Telemetry.Enabled {
		fmt.Printf("    %-18s %s (%s, %s)\n", "Enabled:", cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPProtocol, cfg.Telemetry.OTLPEndpoint)
	} else {
		fmt.Println("    disabled")
	}

	fmt.Println()
	fmt.Println("  Adapters:")
	checkAdapter("Discord", cfg.Adapters.Discord.Enabled, cfg.Adapters.Discord.Token != "")
	checkAdapter("Telegram", cfg.Adapters.Telegram.Enabled, cfg.Adapters.Telegram.Token != "")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

// checkSandboxCluster attempts to build a SandboxManager and ping the
// cluster's discovery endpoint. Failure here means SandboxManager.New
// would fail the same way at serve startup.
func checkSandboxCluster(cfg *config.Config) {
	mgr, err := sandbox.NewManager(sandbox.Config{
		Namespace:  cfg.Sandbox.Namespace,
		Image:      cfg.Sandbox.Image,
		Kubeconfig: cfg.Sandbox.Kubeconfig,
	}, noopRouterClient{})
	if err != nil {
		fmt.Printf("    Cluster:           UNREACHABLE (%s)\n", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Ping(ctx); err != nil {
		fmt.Printf("    Cluster:           UNREACHABLE (%s)\n", err)
		return
	}
	fmt.Println("    Cluster:           reachable (OK)")
}

// checkSandboxRouter issues a best-effort health probe against the
// router's base URL. The router multiplexes by sandbox identity
// headers, so a generic /health call only confirms the service itself
// answers — per-sandbox routing is proven the first time a real
// investigation runs.
func checkSandboxRouter(ctx context.Context, cfg *config.Config) {
	client := sandboxrouter.New(cfg.Sandbox.RouterBaseURL, "8080", nil)
	if err := client.Health(ctx, sandbox.Info{Name: "doctor-probe", Namespace: cfg.Sandbox.Namespace}, "doctor-probe"); err != nil {
		fmt.Printf("    Status: UNREACHABLE (%s)\n", err)
		return
	}
	fmt.Println("    Status: reachable (OK)")
}

// checkConfigClient exercises the same routing-store construction path
// cmd/serve.go uses, then performs one harmless lookup. A RoutingMiss
// is expected and not reported as a failure; only a connectivity error
// is.
func checkConfigClient(ctx context.Context, cfg *config.Config) {
	if cfg.ConfigClient.Mode == "remote" {
		if cfg.ConfigClient.BaseURL == "" {
			fmt.Println("    Status: misconfigured — remote mode with no base_url")
			return
		}
		fmt.Printf("    %-18s %s\n", "Base URL:", cfg.ConfigClient.BaseURL)
		fmt.Println("    Status: remote mode — reachability proven on first adapter call")
		return
	}

	var routing store.RoutingStore
	var err error
	if cfg.ConfigClient.PostgresDSN != "" {
		fmt.Println("    Backing store:     postgres")
		routing, err = pg.NewRoutingStoreFromDSN(cfg.ConfigClient.PostgresDSN)
	} else {
		fmt.Println("    Backing store:     in-memory (local/dev)")
		routing = mem.New()
	}
	if err != nil {
		fmt.Printf("    Status: UNREACHABLE (%s)\n", err)
		return
	}

	_, lerr := routing.LookupRouting(ctx, store.Identifiers{
		ServiceName:  "sreorch-doctor",
		Surface:      "doctor",
		ThreadAnchor: "probe",
	}, "")
	if lerr != nil {
		fmt.Printf("    Status: UNREACHABLE (%s)\n", lerr)
		return
	}
	fmt.Println("    Status: reachable (OK)")
}

func checkAdapter(name string, enabled, hasToken bool) {
	status := "disabled"
	switch {
	case enabled && hasToken:
		status = "enabled"
	case enabled:
		status = "enabled (missing token)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

// noopRouterClient satisfies sandbox.RouterClient for doctor's
// cluster-reachability check, which never calls execute/interrupt/answer.
type noopRouterClient struct{}

func (noopRouterClient) Execute(context.Context, sandbox.Info, string, []byte) ([]byte, error) {
	return nil, fmt.Errorf("doctor: router not wired")
}
func (noopRouterClient) Interrupt(context.Context, sandbox.Info, string) error {
	return fmt.Errorf("doctor: router not wired")
}
func (noopRouterClient) SendAnswer(context.Context, sandbox.Info, string, string, []byte) error {
	return fmt.Errorf("doctor: router not wired")
}
func (noopRouterClient) ExecuteStream(context.Context, sandbox.Info, string, []byte) (io.ReadCloser, error) {
	return nil, fmt.Errorf("doctor: router not wired")
}
func (noopRouterClient) InterruptStream(context.Context, sandbox.Info, string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("doctor: router not wired")
}
