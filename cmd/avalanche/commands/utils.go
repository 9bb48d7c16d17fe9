/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Shared utilities for the avalanche-driver commands:
configuration loading and logging setup.
*/

package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/kleascm/avalanche-driver/pkg/logging"
)

// LoadConfig loads configuration from a file (if given) and the
// AVALANCHE_-prefixed environment.
func LoadConfig() error {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	viper.SetEnvPrefix("AVALANCHE")
	viper.AutomaticEnv()
	return nil
}

// SetupLogging builds the structured logger from the bound
// --log-level/--log-format flags, writing timestamped log files under the
// work directory.
func SetupLogging() (*logging.Logger, error) {
	cfg := &logging.LoggerConfig{
		Level:     logging.LogLevel(viper.GetString("log_level")),
		Format:    logging.LogFormat(viper.GetString("log_format")),
		OutputDir: filepath.Join(viper.GetString("work-dir"), "logs"),
		MaxFiles:  10,
		MaxSize:   100 * 1024 * 1024,
		Timestamp: true,
		Caller:    false,
		Colors:    viper.GetString("log_format") == "text",
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	return logger, nil
}
