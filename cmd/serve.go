package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/sreorch/internal/config"
	"github.com/nextlevelbuilder/sreorch/internal/configclient"
	"github.com/nextlevelbuilder/sreorch/internal/fileproxy"
	"github.com/nextlevelbuilder/sreorch/internal/sandbox"
	"github.com/nextlevelbuilder/sreorch/internal/sandboxrouter"
	"github.com/nextlevelbuilder/sreorch/internal/store"
	"github.com/nextlevelbuilder/sreorch/internal/store/mem"
	"github.com/nextlevelbuilder/sreorch/internal/store/pg"
	"github.com/nextlevelbuilder/sreorch/internal/streambroker"
	"github.com/nextlevelbuilder/sreorch/internal/telemetry"
	"github.com/nextlevelbuilder/sreorch/internal/tokenvault"
	"github.com/nextlevelbuilder/sreorch/internal/triggeradapter"
	"github.com/nextlevelbuilder/sreorch/internal/triggeradapter/discord"
	"github.com/nextlevelbuilder/sreorch/internal/triggeradapter/telegram"
)

// adapterLifecycle is the subset of a demo TriggerAdapter's lifecycle
// runServe needs: something to start at boot and stop at shutdown.
type adapterLifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

const sandboxRouterPort = "8080"

// runServe wires every orchestration-plane component together and
// blocks until SIGINT/SIGTERM, mirroring the teacher's runGateway
// shape: structured logging first, then config, then components
// in dependency order, then the HTTP listener.
func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	watcher, err := config.NewWatcher(cfgPath)
	if err != nil {
		slog.Error("serve.config_load_failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	cfg := watcher.Current()

	shutdownTelemetry, err := telemetry.Init(context.Background(), cfg.Telemetry)
	if err != nil {
		slog.Error("serve.telemetry_init_failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("serve.telemetry_shutdown_failed", "error", err)
		}
	}()

	vault, err := tokenvault.New(
		cfg.TokenVault.SigningKey,
		time.Duration(cfg.TokenVault.TTLMinutes)*time.Minute,
		time.Duration(cfg.TokenVault.ReuseThresholdMinutes)*time.Minute,
	)
	if err != nil {
		slog.Error("serve.tokenvault_init_failed", "error", err)
		os.Exit(1)
	}

	proxy := fileproxy.New(
		time.Duration(cfg.FileProxy.TTLMinutes)*time.Minute,
		cfg.FileProxy.ChunkBytes,
		nil,
	)
	go runFileProxyGC(context.Background(), proxy, time.Duration(cfg.FileProxy.GCIntervalSec)*time.Second)

	router := sandboxrouter.New(cfg.Sandbox.RouterBaseURL, sandboxRouterPort, nil)
	sandboxes, err := sandbox.NewManager(sandbox.Config{
		Namespace:    cfg.Sandbox.Namespace,
		Image:        cfg.Sandbox.Image,
		CPUMillis:    cfg.Sandbox.CPUMillis,
		MemoryBytes:  cfg.Sandbox.MemoryBytes,
		PollInterval: time.Duration(cfg.Sandbox.PollIntervalMS) * time.Millisecond,
		ReadyTimeout: time.Duration(cfg.Sandbox.ReadyTimeoutSec) * time.Second,
		TTL:          time.Duration(cfg.Sandbox.IdleTTLMinutes) * time.Minute,
		Kubeconfig:   cfg.Sandbox.Kubeconfig,
	}, router)
	if err != nil {
		slog.Error("serve.sandbox_manager_init_failed", "error", err)
		os.Exit(1)
	}

	routing, err := newRoutingStore(cfg)
	if err != nil {
		slog.Error("serve.routing_store_init_failed", "error", err)
		os.Exit(1)
	}

	cfgClient := newConfigClient(cfg, routing)

	broker := streambroker.New(cfg, sandboxes, vault, proxy)
	httpBroker := triggeradapter.HTTPBroker{BaseURL: fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)}
	adapterRouter := triggeradapter.ConfigRouter{
		Client:        cfgClient,
		AdminToken:    cfg.ConfigClient.AdminToken,
		ServiceName:   "sreorch-adapters",
		AutoProvision: cfg.Tenant.AutoProvision,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("serve.shutdown_signal_received")
		cancel()
	}()

	go func() {
		if err := watcher.Run(ctx); err != nil {
			slog.Warn("serve.config_watcher_stopped", "error", err)
		}
	}()

	adapters := startAdapters(ctx, cfg, httpBroker, adapterRouter)
	defer stopAdapters(adapters)

	if err := broker.Start(ctx); err != nil {
		slog.Error("serve.server_failed", "error", err)
		os.Exit(1)
	}
}

// startAdapters starts every enabled demo TriggerAdapter. A missing
// bot token or construction failure is logged and skipped rather than
// aborting serve — the orchestration plane's HTTP surface works fine
// with zero chat adapters running.
func startAdapters(ctx context.Context, cfg *config.Config, broker triggeradapter.Broker, router triggeradapter.Router) []adapterLifecycle {
	var started []adapterLifecycle

	if cfg.Adapters.Discord.Enabled && cfg.Adapters.Discord.Token != "" {
		a, err := discord.New(cfg.Adapters.Discord, broker, router)
		if err != nil {
			slog.Error("serve.discord_adapter_init_failed", "error", err)
		} else if err := a.Start(ctx); err != nil {
			slog.Error("serve.discord_adapter_start_failed", "error", err)
		} else {
			started = append(started, a)
		}
	}

	if cfg.Adapters.Telegram.Enabled && cfg.Adapters.Telegram.Token != "" {
		a, err := telegram.New(cfg.Adapters.Telegram, broker, router)
		if err != nil {
			slog.Error("serve.telegram_adapter_init_failed", "error", err)
		} else if err := a.Start(ctx); err != nil {
			slog.Error("serve.telegram_adapter_start_failed", "error", err)
		} else {
			started = append(started, a)
		}
	}

	return started
}

func stopAdapters(adapters []adapterLifecycle) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, a := range adapters {
		if err := a.Stop(stopCtx); err != nil {
			slog.Warn("serve.adapter_stop_failed", "error", err)
		}
	}
}

// newRoutingStore selects the mem or pg backend per cfg.ConfigClient,
// the same standalone-vs-managed split the teacher's store/file vs
// store/pg selection uses for SessionStore.
func newRoutingStore(cfg *config.Config) (store.RoutingStore, error) {
	if cfg.ConfigClient.Mode == "remote" {
		return nil, nil
	}
	if cfg.ConfigClient.PostgresDSN != "" {
		return pg.NewRoutingStoreFromDSN(cfg.ConfigClient.PostgresDSN)
	}
	return mem.New(), nil
}

func newConfigClient(cfg *config.Config, routing store.RoutingStore) configclient.Client {
	if cfg.ConfigClient.Mode == "remote" {
		return configclient.NewHTTPClient(cfg.ConfigClient.BaseURL, cfg.ConfigClient.AdminToken, nil)
	}
	return configclient.NewLocalClient(
		routing,
		cfg.TokenVault.SigningKey,
		time.Duration(cfg.TokenVault.TTLMinutes)*time.Minute,
		cfg.Sandbox.Image,
	)
}

func runFileProxyGC(ctx context.Context, proxy *fileproxy.Proxy, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := proxy.GC(); n > 0 {
				slog.Debug("serve.fileproxy_gc", "removed", n)
			}
		}
	}
}
