package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"toolgate/internal/workflow"
)

func runCmd() *cobra.Command {
	var trustAll, verify bool

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Run a workflow definition through the gated tool path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			if verify {
				rt.Gateway.VerifyCapabilities()
			}
			if trustAll {
				rt.Gateway.TrustAll()
			}

			opts := []workflow.Option{
				workflow.WithLogger(logger),
				workflow.WithEventBus(rt.Events),
				workflow.WithMaxConcurrency(cfg.Workflow.MaxConcurrency),
				workflow.WithFailFast(cfg.Workflow.FailFast),
			}
			if rt.Recorder != nil {
				opts = append(opts, workflow.WithRecorder(rt.Recorder))
			}

			w, err := workflow.LoadFile(args[0], rt.Gateway, opts...)
			if err != nil {
				return err
			}

			results, err := w.Run(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if !results.Success() {
				return fmt.Errorf("workflow finished with failures")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&trustAll, "trust-all", false, "promote every tool to TRUSTED before the run")
	cmd.Flags().BoolVar(&verify, "verify", false, "verify capabilities (promote safe tools) before the run")
	return cmd
}
