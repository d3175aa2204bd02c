// Package app provides the toolgate command-line application.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/toolgate/toolgate/pkg/authz"
	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "toolgate",
	DisableAutoGenTag: true,
	Short:             "Role-based authorization gateway for MCP servers",
	Long: `toolgate sits in front of an MCP (Model Context Protocol) server and
enforces role-based access to its tools. It provides:

- Tool catalog filtering based on directory roles from bearer token claims
- Per-invocation authorization with an admin-prefix gate
- Redis-backed credential, exchange code, and session storage
- Audit logging and Prometheus metrics

Clients connect to toolgate as if it were the MCP server itself; requests
are authorized and then proxied to the configured backend.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates the root command for the toolgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to toolgate configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newValidateCmd())

	rootCmd.SilenceUsage = true

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("toolgate version: %s", getVersion())
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		Long: `Validate the toolgate configuration file, and any referenced role
mapping override, without starting the gateway.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			configPath := viper.GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("configuration loading failed: %w", err)
			}

			if cfg.AuthzConfigPath != "" {
				if _, err := authz.LoadConfig(cfg.AuthzConfigPath); err != nil {
					return fmt.Errorf("authorization configuration invalid: %w", err)
				}
			}

			logger.Infof("Configuration is valid")
			logger.Infof("  Listen: %s", cfg.Server.ListenAddr)
			logger.Infof("  Backend: %s", cfg.Server.BackendURL)
			logger.Infof("  Redis: %s", cfg.Redis.Addr)
			logger.Infof("  Catalog: %d tools", len(cfg.Catalog))
			return nil
		},
	}
}

// getVersion returns the version string, set at build time via ldflags.
func getVersion() string {
	return version
}

var version = "dev"
