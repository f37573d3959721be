package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// RelayConfigPath is the default relay config file.
const RelayConfigPath = "config.yaml"

// Providers understood by the relay.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// RelayConfig represents relay configuration loaded from YAML.
type RelayConfig struct {
	Port                   string   `yaml:"port"`
	LogLevel               string   `yaml:"logLevel"`
	LogFile                string   `yaml:"logFile"`
	Provider               string   `yaml:"provider"`
	OpenAIAPIKey           string   `yaml:"openaiAPIKey"`
	OpenAIBaseURL          string   `yaml:"openaiBaseURL"`
	OllamaURL              string   `yaml:"ollamaURL"`
	Model                  string   `yaml:"model"`
	Temperature            float32  `yaml:"temperature"`
	MaxTokens              int      `yaml:"maxTokens"`
	StreamTimeout          string   `yaml:"streamTimeout"`
	RedisAddr              string   `yaml:"redisAddr"`
	RedisPassword          string   `yaml:"redisPassword"`
	TrustedProxyCIDRs      []string `yaml:"trustedProxyCidrs"`
	ChatRateLimitPerMinute int      `yaml:"chatRateLimitPerMinute"`
}

// LoadRelay reads relay config from path (defaults to config.yaml). The API
// key is optional here; requests fail individually while it is unset.
func LoadRelay(path string) (RelayConfig, error) {
	cfg := RelayConfig{
		Port:          "8080",
		LogLevel:      "info",
		Provider:      ProviderOpenAI,
		OllamaURL:     "http://localhost:11434",
		StreamTimeout: "5m",
	}
	if path == "" {
		path = RelayConfigPath
	}
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	envString("RELAY_PORT", &cfg.Port)
	envString("RELAY_LOG_LEVEL", &cfg.LogLevel)
	envString("RELAY_LOG_FILE", &cfg.LogFile)
	envString("RELAY_PROVIDER", &cfg.Provider)
	envString("RELAY_MODEL", &cfg.Model)
	envFloat("RELAY_TEMPERATURE", &cfg.Temperature)
	envInt("RELAY_MAX_TOKENS", &cfg.MaxTokens)
	envString("RELAY_STREAM_TIMEOUT", &cfg.StreamTimeout)
	envInt("RELAY_CHAT_RATE_LIMIT_PER_MINUTE", &cfg.ChatRateLimitPerMinute)
	envString("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	envString("OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	envString("OLLAMA_URL", &cfg.OllamaURL)
	envString("REDIS_ADDR", &cfg.RedisAddr)
	envString("REDIS_PASSWORD", &cfg.RedisPassword)
	if v := os.Getenv("RELAY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if err := validateRelay(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateRelay(cfg RelayConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required (set in config.yaml or RELAY_PORT)")
	}
	switch cfg.Provider {
	case ProviderOpenAI:
	case ProviderOllama:
		if strings.TrimSpace(cfg.OllamaURL) == "" {
			return errors.New("config: ollamaURL is required for the ollama provider")
		}
	default:
		return fmt.Errorf("config: unsupported provider %q", cfg.Provider)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return errors.New("config: temperature must be between 0 and 2")
	}
	if cfg.MaxTokens < 0 {
		return errors.New("config: maxTokens must be >= 0")
	}
	if cfg.ChatRateLimitPerMinute < 0 {
		return errors.New("config: chatRateLimitPerMinute must be >= 0")
	}
	if cfg.ChatRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when chatRateLimitPerMinute is set")
	}
	if _, err := ParseStreamTimeout(cfg.StreamTimeout); err != nil {
		return err
	}
	return nil
}

// ParseStreamTimeout parses the server write timeout for streamed responses.
func ParseStreamTimeout(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid streamTimeout duration: %w", err)
	}
	if dur < 0 {
		return 0, errors.New("config: streamTimeout must be >= 0")
	}
	return dur, nil
}
