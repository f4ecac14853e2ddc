package main

import (
	"github.com/spf13/cobra"
)

func trustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Inspect and modify tool trust tiers",
	}
	cmd.AddCommand(
		trustReportCmd(),
		trustVerifyCmd(),
		trustGrantCmd(),
		trustAllCmd(),
		trustResetCmd(),
	)
	return cmd
}

func trustReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print tool names grouped by trust tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(loadConfigOrDefaults())
			if err != nil {
				return err
			}
			defer rt.Close()
			return printJSON(cmd.OutOrStdout(), rt.Gateway.Report())
		},
	}
}

func trustVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Promote all safe tools to VERIFIED",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(loadConfigOrDefaults())
			if err != nil {
				return err
			}
			defer rt.Close()
			return printJSON(cmd.OutOrStdout(), map[string]any{"promoted": rt.Gateway.VerifyCapabilities()})
		},
	}
}

func trustGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <tool>",
		Short: "Promote a single tool to TRUSTED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(loadConfigOrDefaults())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.Gateway.TrustTool(args[0]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"trusted": args[0]})
		},
	}
}

func trustAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Promote every known tool to TRUSTED",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(loadConfigOrDefaults())
			if err != nil {
				return err
			}
			defer rt.Close()
			return printJSON(cmd.OutOrStdout(), map[string]any{"promoted": rt.Gateway.TrustAll()})
		},
	}
}

func trustResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset every tool back to UNTRUSTED",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(loadConfigOrDefaults())
			if err != nil {
				return err
			}
			defer rt.Close()
			rt.Gateway.ResetTrust()
			return printJSON(cmd.OutOrStdout(), map[string]string{"status": "reset"})
		},
	}
}
