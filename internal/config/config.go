package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort          = 8080
	defaultDataDir       = "data"
	defaultPollInterval  = 3 * time.Second
	defaultMaxAge        = 24 * time.Hour
	defaultMaxTasks      = 1000
	defaultSweepInterval = 10 * time.Minute
	defaultRedisKey      = "kbtasks:tasks"
)

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config describes runtime configuration for the service.
type Config struct {
	Port      int       `yaml:"port"`
	DataDir   string    `yaml:"data_dir"`
	LogLevel  string    `yaml:"log_level"`
	Storage   Storage   `yaml:"storage"`
	Poller    Poller    `yaml:"poller"`
	Retention Retention `yaml:"retention"`
}

type Storage struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisKey   string `yaml:"redis_key"`
}

type Poller struct {
	Interval          time.Duration `yaml:"interval"`
	StatusBaseURL     string        `yaml:"status_base_url"`
	APIToken          string        `yaml:"api_token"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type Retention struct {
	MaxAge        time.Duration `yaml:"max_age"`
	MaxTasks      int           `yaml:"max_tasks"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:     defaultPort,
		DataDir:  defaultDataDir,
		LogLevel: "info",
		Storage: Storage{
			Driver:   DriverFile,
			RedisKey: defaultRedisKey,
		},
		Poller: Poller{
			Interval:      defaultPollInterval,
			StatusBaseURL: "http://localhost:9380",
		},
		Retention: Retention{
			MaxAge:        defaultMaxAge,
			MaxTasks:      defaultMaxTasks,
			SweepInterval: defaultSweepInterval,
		},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = DriverFile
	case DriverFile, DriverSQLite:
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q (want file, sqlite or redis)", c.Storage.Driver)
	}
	if c.Storage.RedisKey == "" {
		c.Storage.RedisKey = defaultRedisKey
	}

	// the poller floors tiny intervals itself; negative values are a typo
	if c.Poller.Interval < 0 {
		return fmt.Errorf("invalid poller.interval: %s", c.Poller.Interval)
	}
	if c.Poller.Interval == 0 {
		c.Poller.Interval = defaultPollInterval
	}
	if c.Poller.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid poller.requests_per_second: %v", c.Poller.RequestsPerSecond)
	}
	c.Poller.StatusBaseURL = strings.TrimRight(strings.TrimSpace(c.Poller.StatusBaseURL), "/")
	if c.Poller.StatusBaseURL == "" {
		return errors.New("poller.status_base_url must not be empty")
	}

	if c.Retention.MaxAge <= 0 {
		c.Retention.MaxAge = defaultMaxAge
	}
	if c.Retention.MaxTasks < 1 {
		return fmt.Errorf("invalid retention.max_tasks: %d (must be >= 1)", c.Retention.MaxTasks)
	}
	if c.Retention.SweepInterval <= 0 {
		c.Retention.SweepInterval = defaultSweepInterval
	}
	return nil
}
