package config

import (
	"strings"
	"testing"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
	err    error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.values[account], nil
}

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend map[string]any

func (b mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (b mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (b mapBackend) SetString(key, val string) error { b[key] = val; return nil }
func (b mapBackend) SetInt(key string, val int) error { b[key] = val; return nil }
func (b mapBackend) Delete(key string) error          { delete(b, key); return nil }

func TestDefaults(t *testing.T) {
	t.Setenv("TRADUKI_PRIMARY_API_KEY", "test-key")

	cfg, err := loadWith(mapBackend{}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Gateway.BudgetPerMinute != 50000 {
		t.Errorf("Gateway.BudgetPerMinute = %d, want 50000", cfg.Gateway.BudgetPerMinute)
	}
	if cfg.Quota.UserLimit != 10000 {
		t.Errorf("Quota.UserLimit = %d, want 10000", cfg.Quota.UserLimit)
	}
	if cfg.Quota.AnonLimit != 4000 {
		t.Errorf("Quota.AnonLimit = %d, want 4000", cfg.Quota.AnonLimit)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	// Fallback inherits the primary key when unset.
	if cfg.Fallback.APIKey != "test-key" {
		t.Errorf("Fallback.APIKey = %q, want inherited primary key", cfg.Fallback.APIKey)
	}
}

func TestBackendValues(t *testing.T) {
	t.Setenv("TRADUKI_PRIMARY_API_KEY", "test-key")

	b := mapBackend{
		"server.port":               5000,
		"primary.model":             "custom-model",
		"quota.anon_limit":          123,
		"gateway.budget_per_minute": 777,
	}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Primary.Model != "custom-model" {
		t.Errorf("Primary.Model = %q", cfg.Primary.Model)
	}
	if cfg.Quota.AnonLimit != 123 {
		t.Errorf("Quota.AnonLimit = %d", cfg.Quota.AnonLimit)
	}
	if cfg.Gateway.BudgetPerMinute != 777 {
		t.Errorf("Gateway.BudgetPerMinute = %d", cfg.Gateway.BudgetPerMinute)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TRADUKI_PRIMARY_API_KEY", "env-key")
	t.Setenv("TRADUKI_SERVER_PORT", "6000")

	b := mapBackend{"server.port": 5000}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want env override 6000", cfg.Server.Port)
	}
	if cfg.Primary.APIKey != "env-key" {
		t.Errorf("Primary.APIKey = %q", cfg.Primary.APIKey)
	}
}

func TestMissingRequiredField(t *testing.T) {
	t.Setenv("TRADUKI_PRIMARY_API_KEY", "")

	_, err := loadWith(mapBackend{}, mockKeychain{err: errPlain("no secret store")})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to mention missing required config", err)
	}
}

func TestKeychainFallback(t *testing.T) {
	t.Setenv("TRADUKI_PRIMARY_API_KEY", "")

	kc := mockKeychain{values: map[string]string{
		"primary_api_key":  "keychain-primary",
		"fallback_api_key": "keychain-fallback",
	}}
	cfg, err := loadWith(mapBackend{}, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Primary.APIKey != "keychain-primary" {
		t.Errorf("Primary.APIKey = %q", cfg.Primary.APIKey)
	}
	if cfg.Fallback.APIKey != "keychain-fallback" {
		t.Errorf("Fallback.APIKey = %q", cfg.Fallback.APIKey)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
