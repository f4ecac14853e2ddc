package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"toolgate/internal/audit"
	"toolgate/internal/bus"
	"toolgate/internal/config"
	"toolgate/internal/domain"
	"toolgate/internal/maintenance"
	"toolgate/internal/metrics"
	"toolgate/internal/tool"
	"toolgate/internal/trust"
)

// runtime wires the core components from config: registry with builtins,
// trust gateway, event bus, metrics, optional audit store.
type runtime struct {
	Config   *config.Config
	Registry *tool.Registry
	Gateway  *trust.Gateway
	Events   *bus.EventBus
	Recorder *metrics.Recorder
	Audit    *audit.Store
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	setupLogLevel(cfg.General.LogLevel)

	rt := &runtime{
		Config: cfg,
		Events: bus.NewEventBus(logger),
	}
	if cfg.Metrics.Enabled {
		rt.Recorder = metrics.NewRecorder()
	}

	var regOpts []tool.Option
	if rt.Recorder != nil {
		regOpts = append(regOpts, tool.WithRecorder(rt.Recorder))
	}
	rt.Registry = tool.NewRegistry(logger, regOpts...)

	for _, t := range builtinTools(cfg) {
		if err := rt.Registry.RegisterTool(t); err != nil {
			return nil, err
		}
	}

	gwOpts := []trust.Option{trust.WithEventBus(rt.Events)}
	if rt.Recorder != nil {
		gwOpts = append(gwOpts, trust.WithRecorder(rt.Recorder))
	}
	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.DBPath, logger)
		if err != nil {
			return nil, err
		}
		rt.Audit = store
		gwOpts = append(gwOpts, trust.WithAuditLogger(store))
	}

	rt.Gateway = trust.NewGateway(rt.Registry, trust.Classification{
		Safe:        cfg.Trust.SafeTools,
		Destructive: cfg.Trust.DestructiveTools,
	}, logger, gwOpts...)

	if cfg.Trust.VerifyOnStartup {
		promoted := rt.Gateway.VerifyCapabilities()
		logger.Info("capabilities verified on startup", "promoted", len(promoted))
	}
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.Audit != nil {
		rt.Audit.Close()
	}
}

// maintenanceScheduler builds the recurring-task scheduler from config.
// The audit_prune task is bound here; unknown task names are skipped.
func (rt *runtime) maintenanceScheduler() *maintenance.Scheduler {
	sched := maintenance.New(logger, maintenance.WithEventBus(rt.Events))
	for _, tc := range rt.Config.Maintenance.Tasks {
		action := rt.maintenanceAction(tc.Name)
		if action == nil {
			logger.Warn("unknown maintenance task, skipping", "name", tc.Name)
			continue
		}
		err := sched.Add(maintenance.Task{
			Name:         tc.Name,
			Interval:     time.Duration(tc.IntervalSeconds) * time.Second,
			Spec:         tc.Cron,
			RunOnStartup: tc.RunOnStartup,
			Action:       action,
		})
		if err != nil {
			logger.Warn("maintenance task rejected", "name", tc.Name, "err", err)
		}
	}
	return sched
}

func (rt *runtime) maintenanceAction(name string) func(context.Context) error {
	switch name {
	case "audit_prune":
		if rt.Audit == nil {
			return nil
		}
		retention := time.Duration(rt.Config.Audit.RetentionDays) * 24 * time.Hour
		return func(ctx context.Context) error {
			n, err := rt.Audit.Prune(ctx, retention)
			if err != nil {
				return err
			}
			logger.Debug("audit log pruned", "removed", n)
			return nil
		}
	default:
		return nil
	}
}

func builtinTools(cfg *config.Config) []domain.Tool {
	return []domain.Tool{
		&tool.EchoTool{},
		&tool.SysinfoTool{},
		&tool.FileWriteTool{Workspace: cfg.General.Workspace},
	}
}

func setupLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
