package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"chatrelay/internal/kv"
)

// ClientConfig represents chatctl configuration loaded from YAML.
type ClientConfig struct {
	RelayURL      string `yaml:"relayURL"`
	LogLevel      string `yaml:"logLevel"`
	LogFile       string `yaml:"logFile"`
	Storage       string `yaml:"storage"`
	StatePath     string `yaml:"statePath"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisPrefix   string `yaml:"redisPrefix"`
	DatabaseURL   string `yaml:"databaseURL"`
	RestoreAll    bool   `yaml:"restoreAll"`
}

// DefaultClientConfigPath returns ~/.config/chatctl/config.yaml, or a
// relative chatctl.yaml when the home directory is unknown.
func DefaultClientConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "chatctl.yaml"
	}
	return filepath.Join(dir, "chatctl", "config.yaml")
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".chatctl"
	}
	return filepath.Join(dir, "chatctl", "state")
}

// LoadClient reads chatctl config from path. Every command runs in its own
// process, so restoreAll defaults to true; false keeps only the first stored
// conversation on each start.
func LoadClient(path string) (ClientConfig, error) {
	cfg := ClientConfig{
		RelayURL:   "http://localhost:8080",
		LogLevel:   "warn",
		Storage:    kv.BackendFile,
		StatePath:  defaultStatePath(),
		RestoreAll: true,
	}
	if path == "" {
		path = DefaultClientConfigPath()
	}
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	envString("CHATCTL_RELAY_URL", &cfg.RelayURL)
	envString("CHATCTL_LOG_LEVEL", &cfg.LogLevel)
	envString("CHATCTL_LOG_FILE", &cfg.LogFile)
	envString("CHATCTL_STORAGE", &cfg.Storage)
	envString("CHATCTL_STATE_PATH", &cfg.StatePath)
	envString("CHATCTL_REDIS_PREFIX", &cfg.RedisPrefix)
	envString("REDIS_ADDR", &cfg.RedisAddr)
	envString("REDIS_PASSWORD", &cfg.RedisPassword)
	envString("DATABASE_URL", &cfg.DatabaseURL)
	envBool("CHATCTL_RESTORE_ALL", &cfg.RestoreAll)
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	if err := validateClient(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// KV returns the storage settings for kv.Open. The bolt backend keeps its
// database file inside the state directory.
func (c ClientConfig) KV() kv.Config {
	path := c.StatePath
	if c.Storage == kv.BackendBolt {
		path = filepath.Join(c.StatePath, "chatctl.db")
	}
	return kv.Config{
		Backend:       c.Storage,
		Path:          path,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisPrefix:   c.RedisPrefix,
		DatabaseURL:   c.DatabaseURL,
	}
}

func validateClient(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.RelayURL) == "" {
		return errors.New("config: relayURL is required (set in config.yaml or CHATCTL_RELAY_URL)")
	}
	switch cfg.Storage {
	case kv.BackendMemory:
	case kv.BackendFile, kv.BackendBolt:
		if strings.TrimSpace(cfg.StatePath) == "" {
			return errors.New("config: statePath is required for file and bolt storage")
		}
	case kv.BackendRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for redis storage")
		}
	case kv.BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for postgres storage (or DATABASE_URL)")
		}
	default:
		return errors.New("config: storage must be one of memory, file, bolt, redis, postgres")
	}
	return nil
}
