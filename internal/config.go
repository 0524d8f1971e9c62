package internal

import (
	"errors"
	"fmt"
	"os"

	"github.com/hbomb79/Marquee/internal/api"
	"github.com/hbomb79/Marquee/internal/catalog"
	"github.com/hbomb79/Marquee/internal/database"
	"github.com/hbomb79/Marquee/internal/refresh"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

const DefaultConfigPath = "~/.marquee/config.yaml"

// MarqueeConfig is the struct used to contain the
// various user config supplied by file or environment.
type MarqueeConfig struct {
	Database   database.DatabaseConfig `yaml:"database"`
	Catalog    catalog.Config          `yaml:"catalog"`
	Refresh    refresh.Config          `yaml:"refresh"`
	RestConfig api.RestConfig          `yaml:"api"`
	LogLevel   string                  `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
}

// LoadFromFile loads a configuration file formatted in YAML in to the
// config, with environment variables taking precedence. If the file
// does not exist, the configuration is loaded from the environment alone.
func (config *MarqueeConfig) LoadFromFile(configPath string) error {
	path, err := homedir.Expand(configPath)
	if err != nil {
		return fmt.Errorf("failed to expand config path %q: %w", configPath, err)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Warnf("Config file %s not found, using environment and defaults\n", path)
		if err := cleanenv.ReadEnv(config); err != nil {
			return fmt.Errorf("failed to load configuration from environment: %w", err)
		}

		return nil
	}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}

	return nil
}
