package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/rhuss/toolgate/pkg/auth"
	"github.com/rhuss/toolgate/pkg/auth/apikey"
	"github.com/rhuss/toolgate/pkg/auth/jwt"
	"github.com/rhuss/toolgate/pkg/auth/noop"
	"github.com/rhuss/toolgate/pkg/config"
	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/storage/memory"
	"github.com/rhuss/toolgate/pkg/storage/postgres"
	"github.com/rhuss/toolgate/pkg/tools/httptool"
	"github.com/rhuss/toolgate/pkg/tools/manager"
	"github.com/rhuss/toolgate/pkg/tools/mcp"
	"github.com/rhuss/toolgate/pkg/transport"
)

// loadConfig resolves the layered configuration for a subcommand and
// initializes logging from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if cat, _ := cmd.Flags().GetString("catalog"); cat != "" {
		if err := os.Setenv("TOOLGATE_TOOLS_CONFIG", cat); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	debug.Setup(debug.Options{
		Categories: cfg.Log.Debug,
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cmd.ErrOrStderr(),
	})
	return cfg, nil
}

// newManager builds an unstarted Manager and the catalog source it reads.
func newManager(cfg *config.Config) (*manager.Manager, manager.Source, error) {
	allow, err := httptool.NewAllowList(cfg.Tools.AllowedDomains)
	if err != nil {
		return nil, nil, fmt.Errorf("tools.allowed_domains: %w", err)
	}
	mgr := manager.New(manager.Options{
		MCP: mcp.Options{
			HandshakeTimeout:     cfg.Tools.HandshakeTimeout,
			CallTimeout:          cfg.Tools.CallTimeout,
			GracePeriod:          cfg.Tools.GracePeriod,
			TimeoutFlagThreshold: cfg.Tools.TimeoutFlagThreshold,
			ClientName:           "toolgate",
			ClientVersion:        version,
		},
		HTTP: httptool.Options{
			AllowList: allow,
			Timeout:   cfg.Tools.HTTPTimeout,
		},
		Disabled: !cfg.Tools.Enabled,
	})
	return mgr, manager.FromFile(cfg.Tools.ConfigFile), nil
}

// newAuthMiddleware builds the inbound authentication middleware. Auth
// type "none" admits every caller as an anonymous identity holding all
// scopes.
func newAuthMiddleware(cfg *config.Config) (func(http.Handler) http.Handler, error) {
	chain := &auth.Chain{DefaultDecision: auth.No}

	switch cfg.Auth.Type {
	case "none":
		chain.Authenticators = []auth.Authenticator{noop.Authenticator{}}
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					ServiceTier: k.ServiceTier,
					Scopes:      k.Scopes,
				},
			})
		}
		chain.Authenticators = []auth.Authenticator{apikey.New(entries)}
	case "jwt":
		chain.Authenticators = []auth.Authenticator{jwt.New(jwt.Config{
			Issuer:      cfg.Auth.JWT.Issuer,
			Audience:    cfg.Auth.JWT.Audience,
			JWKSURL:     cfg.Auth.JWT.JWKSURL,
			UserClaim:   cfg.Auth.JWT.UserClaim,
			ScopesClaim: cfg.Auth.JWT.ScopesClaim,
			TierClaim:   cfg.Auth.JWT.TierClaim,
		})}
	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.Auth.Type)
	}

	var limiter auth.RateLimiter
	if rl := cfg.Auth.RateLimit; rl.DefaultRPM > 0 || len(rl.Tiers) > 0 {
		limiter = auth.NewWindowLimiter(rl.DefaultRPM, rl.Tiers)
	}

	bypass := append([]string{}, auth.DefaultBypassEndpoints...)
	if cfg.Observability.Metrics.Enabled {
		bypass = append(bypass, cfg.Observability.Metrics.Path)
	}
	return auth.Middleware(chain, limiter, bypass), nil
}

// newHistoryStore opens the invocation history backend. It returns nil
// when history is disabled.
func newHistoryStore(ctx context.Context, cfg *config.Config) (transport.InvocationStore, error) {
	switch cfg.History.Type {
	case "none":
		slog.Info("invocation history disabled")
		return nil, nil
	case "memory":
		slog.Info("invocation history enabled", "type", "memory", "max_size", cfg.History.MaxSize)
		return memory.New(cfg.History.MaxSize), nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.History.Postgres.DSN,
			MaxConns:       cfg.History.Postgres.MaxConns,
			MigrateOnStart: cfg.History.Postgres.MigrateOnStart,
			Retention:      cfg.History.Postgres.Retention,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres history: %w", err)
		}
		slog.Info("invocation history enabled", "type", "postgres", "migrate_on_start", cfg.History.Postgres.MigrateOnStart)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported history type %q", cfg.History.Type)
	}
}
