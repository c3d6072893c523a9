// Package config loads the service configuration from a YAML file with
// RDB_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/erazemk/rdb/internal/model"
)

// Config is the service configuration.
type Config struct {
	DB              string        `yaml:"db"`
	Addr            string        `yaml:"addr"`
	Log             string        `yaml:"log"`
	AdminUser       string        `yaml:"admin_user"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	Labels          model.Labels  `yaml:"labels"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DB:              "rdb.sqlite3",
		Addr:            ":8080",
		AdminUser:       "Admin",
		JanitorInterval: 10 * time.Minute,
		Workers:         2,
		QueueSize:       64,
	}
}

// Load reads path on top of the defaults and then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"RDB_DB":         &c.DB,
		"RDB_ADDR":       &c.Addr,
		"RDB_LOG":        &c.Log,
		"RDB_ADMIN_USER": &c.AdminUser,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	if v := getenv("RDB_JANITOR_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RDB_JANITOR_INTERVAL: %w", err)
		}
		c.JanitorInterval = d
	}
	if v := getenv("RDB_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RDB_WORKERS: %w", err)
		}
		c.Workers = n
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.DB == "" {
		errs = append(errs, errors.New("db path is empty"))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.JanitorInterval < time.Second {
		errs = append(errs, fmt.Errorf("janitor_interval %s is shorter than a second", c.JanitorInterval))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
