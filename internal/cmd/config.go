package cmd

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/callsched/internal/home"
	"github.com/TechnicallyShaun/callsched/internal/schedule"
)

// NewConfigCmd creates the config command group. Without a subcommand it
// prints the effective configuration.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Print the configuration the service would run with: config.toml merged with
.env and CALLSCHED_* environment overrides, with defaults applied. The API
key is masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.AnalysisAPIKey != "" {
				cfg.AnalysisAPIKey = "********"
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := home.Resolve()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), l.ConfigPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration in %s: %w", l.ConfigPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", l.ConfigPath)
			return nil
		},
	})

	return cmd
}

// loadConfig finds the home directory and loads its configuration with
// defaults applied.
func loadConfig() (*schedule.Config, home.Layout, error) {
	l, err := home.Find()
	if err != nil {
		return nil, home.Layout{}, err
	}
	cfg, err := schedule.Load(l)
	if err != nil {
		return nil, l, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, l, nil
}
