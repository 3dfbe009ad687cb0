package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TRADUKI_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "primary.base_url", typ: kString, env: "TRADUKI_PRIMARY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Primary.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Primary.BaseURL },
	},
	{
		key: "primary.api_key", typ: kString, env: "TRADUKI_PRIMARY_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Primary.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Primary.APIKey },
	},
	{
		key: "primary.model", typ: kString, env: "TRADUKI_PRIMARY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Primary.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Primary.Model },
	},
	{
		key: "fallback.base_url", typ: kString, env: "TRADUKI_FALLBACK_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Fallback.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Fallback.BaseURL },
	},
	{
		key: "fallback.api_key", typ: kString, env: "TRADUKI_FALLBACK_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Fallback.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Fallback.APIKey },
	},
	{
		key: "fallback.model", typ: kString, env: "TRADUKI_FALLBACK_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Fallback.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Fallback.Model },
	},
	{
		key: "gateway.budget_per_minute", typ: kInt, env: "TRADUKI_GATEWAY_BUDGET_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Gateway.BudgetPerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Gateway.BudgetPerMinute },
	},
	{
		key: "quota.user_limit", typ: kInt, env: "TRADUKI_QUOTA_USER_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Quota.UserLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Quota.UserLimit },
	},
	{
		key: "quota.anon_limit", typ: kInt, env: "TRADUKI_QUOTA_ANON_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Quota.AnonLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Quota.AnonLimit },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TRADUKI_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "TRADUKI_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
