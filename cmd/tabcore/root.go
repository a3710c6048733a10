package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/tabcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/tabcore/internal/infrastructure/logging"
)

type rootOptions struct {
	configPath string
	dev        bool
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "tabcore",
		Short:         "Memory-bounded multi-tab host",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML or TOML config file")
	cmd.PersistentFlags().BoolVar(&opts.dev, "dev", false, "development logging")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(newServeCmd(opts), newStorageCmd(opts))
	return cmd
}

// load resolves configuration and applies the global flags on top
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

func (o *rootOptions) logger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return logger, nil
}
