package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/rhuss/toolgate/pkg/config"
	"github.com/rhuss/toolgate/pkg/observability"
	"github.com/rhuss/toolgate/pkg/tools/manager"
	"github.com/rhuss/toolgate/pkg/transport"
	transporthttp "github.com/rhuss/toolgate/pkg/transport/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Connect every enabled provider and serve the action catalog and
invocation API. The catalog is reloaded on SIGHUP, on POST /admin/reload,
and on tools.reload_schedule when set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.Tracing.Enabled {
		shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingOptions{
			Endpoint:    cfg.Observability.Tracing.Endpoint,
			Insecure:    cfg.Observability.Tracing.Insecure,
			ServiceName: cfg.Observability.Tracing.ServiceName,
			Version:     version,
		})
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				slog.Warn("flushing traces", "error", err)
			}
		}()
	}

	mgr, src, err := newManager(cfg)
	if err != nil {
		return err
	}
	if err := mgr.Start(ctx, src); err != nil {
		return fmt.Errorf("starting tool manager: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := mgr.Shutdown(closeCtx); err != nil {
			slog.Warn("tool manager shutdown", "error", err)
		}
	}()

	history, err := newHistoryStore(ctx, cfg)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
	}

	authMW, err := newAuthMiddleware(cfg)
	if err != nil {
		return err
	}

	reload := func(ctx context.Context) (*manager.ReloadSummary, error) {
		if !cfg.Tools.Enabled {
			return nil, errors.New("tool integration is disabled")
		}
		return mgr.Reload(ctx, src)
	}

	adapterCfg := transporthttp.DefaultConfig()
	adapterCfg.Auth = authMW
	adapterCfg.History = history
	adapterCfg.MetricsPath = ""
	if cfg.Observability.Metrics.Enabled {
		adapterCfg.MetricsPath = cfg.Observability.Metrics.Path
	}
	adapter := transporthttp.NewAdapter(mgr, mgr, transport.ReloaderFunc(reload), adapterCfg,
		transporthttp.DefaultMiddleware(slog.Default())...)

	srv := transporthttp.NewServer(adapter,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)

	stopReloads, err := startReloadTriggers(ctx, cfg.Tools.ReloadSchedule, reload)
	if err != nil {
		return err
	}
	defer stopReloads()

	slog.Info("toolgate starting",
		"port", cfg.Server.Port,
		"catalog", cfg.Tools.ConfigFile,
		"actions", len(mgr.Catalog()),
		"auth", cfg.Auth.Type,
		"history", cfg.History.Type,
	)
	return srv.Run(ctx)
}

// startReloadTriggers reloads the catalog on SIGHUP and, when schedule
// is non-empty, on that cron schedule. The returned function stops both.
func startReloadTriggers(ctx context.Context, schedule string, reload func(context.Context) (*manager.ReloadSummary, error)) (func(), error) {
	run := func(trigger string) {
		summary, err := reload(ctx)
		if err != nil {
			slog.Error("catalog reload failed", "trigger", trigger, "error", err)
			return
		}
		slog.Info("catalog reloaded",
			"trigger", trigger,
			"generation", summary.Generation,
			"added", len(summary.Added),
			"changed", len(summary.Changed),
			"removed", len(summary.Removed),
			"restarted", len(summary.Restarted),
			"failed", len(summary.Failed),
		)
	}

	var sched *cron.Cron
	if schedule != "" {
		sched = cron.New()
		if _, err := sched.AddFunc(schedule, func() { run("schedule") }); err != nil {
			return nil, fmt.Errorf("tools.reload_schedule: %w", err)
		}
		sched.Start()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-hup:
				run("signal")
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(hup)
		close(done)
		if sched != nil {
			<-sched.Stop().Done()
		}
	}, nil
}
