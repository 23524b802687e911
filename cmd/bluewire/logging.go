package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kmw/bluewire/config"
)

// configureLogger creates a logger from the effective config, with the
// --log-level flag taking precedence over the file value. Commands
// without an explicit level stay essentially silent.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	flagLevel, _ := cmd.Flags().GetString("log-level")
	configPath, _ := cmd.Flags().GetString("config")
	if flagLevel == "" && configPath == "" {
		logger := logrus.New()
		logger.SetLevel(logrus.PanicLevel)
		return logger, nil
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	return cfg.NewLogger()
}
