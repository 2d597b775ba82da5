// Command gantryd serves the gantry instruments over HTTP
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yimuchen/GantryMQ/config"
)

const (
	ConfigOptionName   = "config"
	LogLevelOptionName = "log-level"

	DefaultConfigPath = "/etc/gantrymq/gantryd.yaml"
)

func newRootCommand() *cobra.Command {
	var configPath, logLevel string

	cmd := &cobra.Command{
		Use:          "gantryd",
		Short:        "Hardware control daemon for the gantry instruments",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, ConfigOptionName, DefaultConfigPath, "Configuration file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&logLevel, LogLevelOptionName, "", "Log level, overrides the configuration. One of: debug, info, warn, error")

	cmd.AddCommand(newServeCommand(&configPath, &logLevel))
	cmd.AddCommand(newConfigCommand(&configPath))
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
