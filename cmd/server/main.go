// Command server runs the cagekeep execution broker: it wires the runtime
// driver, session manager, screener, and principal store into an engine,
// then exposes it over HTTP and MCP.
//
// Configuration via -config flag (YAML file) and CAGEKEEP_-prefixed
// environment variable overrides; see pkg/config for the full layering
// order and pkg/config/config.go for every field and its default.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/auth"
	"github.com/cagekeep/broker/pkg/auth/apikey"
	"github.com/cagekeep/broker/pkg/auth/jwt"
	"github.com/cagekeep/broker/pkg/auth/noop"
	"github.com/cagekeep/broker/pkg/config"
	"github.com/cagekeep/broker/pkg/engine"
	"github.com/cagekeep/broker/pkg/observability"
	"github.com/cagekeep/broker/pkg/runtime"
	"github.com/cagekeep/broker/pkg/runtime/dockerdriver"
	"github.com/cagekeep/broker/pkg/runtime/k8sdriver"
	"github.com/cagekeep/broker/pkg/screener"
	"github.com/cagekeep/broker/pkg/session"
	"github.com/cagekeep/broker/pkg/storage/principal"
	"github.com/cagekeep/broker/pkg/transport"
	transporthttp "github.com/cagekeep/broker/pkg/transport/http"
	transportmcp "github.com/cagekeep/broker/pkg/transport/mcp"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file (also discovered via CAGEKEEP_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	driver, err := buildDriver(cfg.Runtime)
	if err != nil {
		return fmt.Errorf("building runtime driver: %w", err)
	}

	sessions := session.NewManager(session.Config{
		Driver:        driver,
		WorkspaceRoot: cfg.Session.WorkspaceRoot,
		IdleHorizon:   cfg.Session.IdleTimeout,
	})

	scr := screener.New(api.RiskLevel(cfg.Security.ScreenerBlockThreshold))

	principals, err := buildPrincipalStore(context.Background(), cfg.Storage)
	if err != nil {
		return fmt.Errorf("building principal store: %w", err)
	}
	defer principals.Close()

	eng, err := engine.New(driver, sessions, scr, principals, engine.Config{
		DefaultLimits: api.ResourceLimits{
			MemoryMB:     cfg.DefaultLimits.MemoryMB,
			CPUCores:     cfg.DefaultLimits.CPUCores,
			PIDs:         cfg.DefaultLimits.PIDs,
			DiskMB:       cfg.DefaultLimits.DiskMB,
			ExecTimeout:  cfg.DefaultLimits.ExecTimeout,
			NetworkAllow: cfg.DefaultLimits.NetworkAllow,
		},
		RateLimitCapacity:     cfg.RateLimit.Capacity,
		RateLimitRefillPerMin: cfg.RateLimit.RefillPerMin,
		ExecLockWait:          cfg.Session.ExecLockWait,
		ReplayEnabled:         cfg.Replay.MaxStored > 0,
		ReplayMaxStored:       cfg.Replay.MaxStored,
		ReplayDir:             cfg.Replay.StorageDir,
		AsyncQueueDepth:       cfg.Session.AsyncQueueDepth,
		AsyncWorkerCount:      cfg.Session.AsyncWorkerCount,
		ReadOnlyRootfs:        cfg.Security.ReadOnlyRootfs,
		DropAllCapabilities:   cfg.Security.DropAllCapabilities,
		SeccompProfilePath:    cfg.Runtime.SeccompProfile,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	eng.Start()
	defer eng.Shutdown()

	stopReaper := startSessionReaper(sessions, cfg.Session.ReapInterval)
	defer stopReaper()

	authChain, err := buildAuthChain(cfg.Auth)
	if err != nil {
		return fmt.Errorf("building auth chain: %w", err)
	}
	authMW := auth.Middleware(authChain, nil, auth.DefaultBypassEndpoints)
	// Metrics wraps outermost so it observes every response, including the
	// 401s auth.Middleware produces before a request ever reaches a route.
	chainedMW := func(h http.Handler) http.Handler {
		return observability.MetricsMiddleware(authMW(h))
	}

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithShutdownTimeout(30 * time.Second),
		transporthttp.WithHTTPMiddleware(chainedMW),
	}

	var executor transport.Executor = eng
	if cfg.MCP.Enabled {
		opts = append(opts, transporthttp.WithMountedHandler(cfg.MCP.Path, transportmcp.NewHandler(executor)))
	}

	srv := transporthttp.NewServer(executor, opts...)

	slog.Info("broker starting",
		"port", cfg.Server.Port,
		"runtime_backend", cfg.Runtime.Backend,
		"storage_type", cfg.Storage.Type,
		"auth_type", cfg.Auth.Type,
		"mcp_enabled", cfg.MCP.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
		return nil
	case err := <-errCh:
		return err
	}
}

// buildDriver constructs the runtime.Driver selected by cfg.Backend,
// applying default per-language images and letting cfg.Images override
// individual entries.
func buildDriver(cfg config.RuntimeConfig) (runtime.Driver, error) {
	images := defaultImages()
	for lang, image := range cfg.Images {
		images[api.Language(lang)] = image
	}

	switch cfg.Backend {
	case "docker":
		return dockerdriver.New(dockerdriver.Config{
			Images: images,
		}), nil
	case "kubernetes":
		restCfg, err := ctrl.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig: %w", err)
		}
		scheme, err := k8sdriver.NewScheme()
		if err != nil {
			return nil, err
		}
		cl, err := client.New(restCfg, client.Options{Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes client: %w", err)
		}
		templates := make(map[string]string, len(images))
		for _, image := range images {
			templates[image] = cfg.Kubernetes.SandboxTemplate
		}
		return k8sdriver.New(k8sdriver.Config{
			Client:       cl,
			RESTConfig:   restCfg,
			Namespace:    cfg.Kubernetes.Namespace,
			ClaimTimeout: cfg.Kubernetes.ClaimTimeout,
			Templates:    templates,
		})
	default:
		return nil, fmt.Errorf("unknown runtime backend %q", cfg.Backend)
	}
}

func defaultImages() map[api.Language]string {
	languages := []api.Language{
		api.LanguagePython, api.LanguageJavaScript, api.LanguageTypeScript,
		api.LanguageBash, api.LanguageGo, api.LanguageRuby, api.LanguageR, api.LanguageJulia,
	}
	images := make(map[api.Language]string, len(languages))
	for _, lang := range languages {
		if spec, ok := api.Launcher(lang); ok {
			images[lang] = spec.Image
		}
	}
	return images
}

func buildPrincipalStore(ctx context.Context, cfg config.StorageConfig) (principal.Store, error) {
	switch cfg.Type {
	case "postgres":
		return principal.NewPostgresStore(ctx, principal.PostgresStoreConfig{
			DSN: cfg.Postgres.DSN,
		})
	case "file":
		return principal.NewFileStore(cfg.FilePath)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// buildAuthChain assembles the AuthChain for cfg.Type. "none" accepts every
// request as an anonymous identity; "apikey" and "jwt" reject anything the
// configured authenticator doesn't recognize.
func buildAuthChain(cfg config.AuthConfig) (*auth.AuthChain, error) {
	switch cfg.Type {
	case "none":
		return &auth.AuthChain{
			Authenticators:  []auth.Authenticator{&noop.Authenticator{}},
			DefaultDecision: auth.No,
		}, nil
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					ServiceTier: k.ServiceTier,
					Metadata:    map[string]string{"tenant_id": k.TenantID},
				},
			})
		}
		return &auth.AuthChain{
			Authenticators:  []auth.Authenticator{apikey.New(entries)},
			DefaultDecision: auth.No,
		}, nil
	case "jwt":
		return &auth.AuthChain{
			Authenticators: []auth.Authenticator{jwt.New(jwt.Config{
				Issuer:      cfg.JWT.Issuer,
				Audience:    cfg.JWT.Audience,
				JWKSURL:     cfg.JWT.JWKSURL,
				UserClaim:   cfg.JWT.UserClaim,
				TenantClaim: cfg.JWT.TenantClaim,
				ScopesClaim: cfg.JWT.ScopesClaim,
				CacheTTL:    cfg.JWT.CacheTTL,
			})},
			DefaultDecision: auth.No,
		}, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}
}

// startSessionReaper runs Session Manager idle reaping on a fixed cadence
// until stopped.
func startSessionReaper(sessions *session.Manager, interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for _, principalID := range sessions.ReapIdle(ctx, now) {
					slog.Info("reaped idle session", "principal_id", principalID)
				}
			}
		}
	}()

	return cancel
}
