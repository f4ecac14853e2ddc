package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"toolgate/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin server and maintenance scheduler",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDefaults()
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := rt.maintenanceScheduler()
	go sched.Start(ctx)
	defer sched.Stop()

	if !cfg.API.Enabled {
		logger.Info("API disabled, running scheduler only; Ctrl-C to exit")
		<-ctx.Done()
		return nil
	}

	srv := server.New(server.Config{
		Host:   cfg.API.Host,
		Port:   cfg.API.Port,
		APIKey: cfg.API.APIKey,
	}, rt.Registry, rt.Gateway, rt.Recorder, rt.Audit, logger)

	return srv.Start(ctx)
}
