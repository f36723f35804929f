package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"opsbot/internal/shared/config"
	"opsbot/internal/shared/utils/id"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "opsbot",
		Short:         "Chat operations bot for Lark and WeChat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (default $OPSBOT_CONFIG_PATH or ~/.opsbot/config.yaml)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newIssueCodeCommand(opts))
	return cmd
}

// loadConfig reads and validates the configuration, and points the file
// loggers at the configured log directory before any logger is created.
func (o *rootOptions) loadConfig() (config.Config, error) {
	var loadOpts []config.Option
	if path := strings.TrimSpace(o.configPath); path != "" {
		loadOpts = append(loadOpts, config.WithConfigPath(path))
	}
	cfg, path, err := config.Load(loadOpts...)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	strategy, err := id.ParseStrategy(cfg.Storage.IDStrategy)
	if err != nil {
		return config.Config{}, err
	}
	id.SetStrategy(strategy)
	if dir := strings.TrimSpace(cfg.Observability.LogDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return config.Config{}, fmt.Errorf("create log dir: %w", err)
		}
		_ = os.Setenv("OPSBOT_LOG_DIR", dir)
	}
	return cfg, nil
}
