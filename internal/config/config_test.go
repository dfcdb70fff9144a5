package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Errorf("expected default env development, got %s", cfg.Env)
	}
	if cfg.AWSRegion != "us-east-1" {
		t.Errorf("expected default region us-east-1, got %s", cfg.AWSRegion)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CHATWOOT_INBOX_ID", "7")
	t.Setenv("REDIS_TLS", "true")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.ChatwootInboxID != 7 {
		t.Errorf("expected inbox id 7, got %d", cfg.ChatwootInboxID)
	}
	if !cfg.RedisTLS {
		t.Error("expected redis tls enabled")
	}
}
