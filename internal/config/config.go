package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server daemon configuration.
type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Refresh struct {
		// Cron spec for re-running the current session when the source
		// publishes new data. Empty disables the refresher.
		Cron string `yaml:"cron"`
	} `yaml:"refresh"`
	Analysis struct {
		LookbackYears int `yaml:"lookback_years"`
	} `yaml:"analysis"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Database.SQLitePath = "comexlens.db"
	cfg.Analysis.LookbackYears = 5

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("COMEXLENS_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("COMEXLENS_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("COMEXLENS_REFRESH_CRON"); v != "" {
		cfg.Refresh.Cron = v
	}

	return cfg, nil
}
