package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  "View and update Sen Alerte agent configuration settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long:  "Display the current effective configuration including environment variable overrides",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cmd.Printf("Server:\n")
		cmd.Printf("  URL: %s\n", cfg.Server.URL)
		cmd.Printf("\n")
		cmd.Printf("Session:\n")
		cmd.Printf("  Refresh lead: %s\n", cfg.Session.RefreshLead)
		cmd.Printf("  Request timeout: %s\n", cfg.Session.RequestTimeout)
		cmd.Printf("  Require expiry: %t\n", cfg.Session.RequireExpiry)
		cmd.Printf("\n")
		cmd.Printf("Storage:\n")
		cmd.Printf("  Backend: %s\n", cfg.Storage.Backend)
		if cfg.Storage.Backend == config.BackendFile {
			cmd.Printf("  Path: %s\n", cfg.StoragePath())
		}
		cmd.Printf("\n")
		cmd.Printf("Logging:\n")
		cmd.Printf("  Level: %s\n", cfg.Logging.Level)

		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:               "set <key> <value>",
	Short:             "Update configuration value",
	Long:              "Update a configuration value in the config file. Example: sen-alerte config set server.url https://auth.sen-alerte.sn",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: configKeyCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := cfg.Set(key, value); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		cmd.Printf("Updated %s to: %s\n", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

// configKeyCompletion provides tab completion for config keys
func configKeyCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) >= 1 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return config.Keys(), cobra.ShellCompDirectiveNoFileComp
}
