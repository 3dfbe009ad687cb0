package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Primary  ModelConfig
	Fallback ModelConfig
	Gateway  GatewayConfig
	Quota    QuotaConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

// ModelConfig points at one chat-completions provider.
type ModelConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type GatewayConfig struct {
	// BudgetPerMinute is the trailing 60-second cost ceiling above which
	// calls are routed to the fallback model.
	BudgetPerMinute int
}

type QuotaConfig struct {
	// UserLimit caps total consumed cost per authenticated user;
	// AnonLimit caps it per anonymous network address.
	UserLimit int
	AnonLimit int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Primary: ModelConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "anthropic/claude-sonnet-4",
		},
		Fallback: ModelConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-4o-mini",
		},
		Gateway: GatewayConfig{
			BudgetPerMinute: 50000,
		},
		Quota: QuotaConfig{
			UserLimit: 10000,
			AnonLimit: 4000,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.traduki.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/traduki/config.json
// and secrets fall back to a secrets file next to the data directory.
//
// Environment variables (TRADUKI_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for API keys still empty.
	if cfg.Primary.APIKey == "" {
		if key, err := kc.Get("traduki", "primary_api_key"); err == nil && key != "" {
			cfg.Primary.APIKey = key
		}
	}
	if cfg.Fallback.APIKey == "" {
		if key, err := kc.Get("traduki", "fallback_api_key"); err == nil && key != "" {
			cfg.Fallback.APIKey = key
		}
	}

	if cfg.Primary.APIKey == "" {
		msg := "missing required config: primary model API key. " +
			"Set it via environment variable TRADUKI_PRIMARY_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	// A single-provider setup only needs the primary key.
	if cfg.Fallback.APIKey == "" {
		cfg.Fallback.APIKey = cfg.Primary.APIKey
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
