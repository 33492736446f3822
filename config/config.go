// Package config loads server settings from the environment and optional
// .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config is the server configuration.
type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DBPath      string `env:"FUEL_DB_PATH" envDefault:"fuel.db"`
	CatalogPath string `env:"FUEL_CATALOG"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	// StrictShiftOrder refuses closes while the previous shift is open.
	StrictShiftOrder bool `env:"STRICT_SHIFT_ORDER" envDefault:"true"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	// OpenShiftCheckInterval is how often stale open shifts are reported.
	// Zero disables the check.
	OpenShiftCheckInterval time.Duration `env:"OPEN_SHIFT_CHECK_INTERVAL" envDefault:"15m"`
}

// Load reads the given .env files, skipping ones that do not exist, then
// parses the environment. Variables already set win over file values.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges env tags cannot express.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("FUEL_DB_PATH is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid REQUEST_TIMEOUT %s", c.RequestTimeout)
	}
	if c.OpenShiftCheckInterval < 0 {
		return fmt.Errorf("invalid OPEN_SHIFT_CHECK_INTERVAL %s", c.OpenShiftCheckInterval)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid LOG_FORMAT %q, want text or json", c.LogFormat)
	}
	return nil
}

// NewLogger builds the logrus logger the config describes.
func (c Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
