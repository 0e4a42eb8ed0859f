// Package config loads flowfunc settings.
// Priority: FLOWFUNC_* env vars > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. FLOWFUNC_LOG_LEVEL.
const EnvPrefix = "FLOWFUNC"

// DefaultRunsDirectory is where run directories are created.
const DefaultRunsDirectory = ".flowfunc_runs"

// Config holds all flowfunc configuration.
type Config struct {
	RunsDirectory     string        `mapstructure:"runs_directory"`
	LogLevel          string        `mapstructure:"log_level"`
	LogFormat         string        `mapstructure:"log_format"`
	DBPath            string        `mapstructure:"db_path"`
	History           bool          `mapstructure:"history"`
	Workers           int           `mapstructure:"workers"`
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval"`
}

// HistoryPath returns the run-history database path, or "" when history
// is disabled.
func (c *Config) HistoryPath() string {
	if !c.History {
		return ""
	}
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.RunsDirectory, "flowfunc.db")
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RunsDirectory) == "" {
		return errors.New("config: runs_directory must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	}
	if c.SchedulerInterval < time.Second {
		return fmt.Errorf("config: scheduler_interval must be at least 1s, got %s", c.SchedulerInterval)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runs_directory", DefaultRunsDirectory)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("db_path", "")
	v.SetDefault("history", true)
	v.SetDefault("workers", 8)
	v.SetDefault("scheduler_interval", time.Minute)
}

// Load reads the configuration. With an explicit path the file must exist;
// otherwise flowfunc.{yaml,toml,json} is looked up in searchDirs and a
// missing file is not an error.
func Load(path string, searchDirs ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flowfunc")
		if len(searchDirs) == 0 {
			searchDirs = []string{"."}
		}
		for _, dir := range searchDirs {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
