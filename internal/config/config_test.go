package config

import (
	"strings"
	"testing"
	"time"
)

func setValidSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_ACCESS_SECRET", strings.Repeat("a", 32))
	t.Setenv("JWT_REFRESH_SECRET", strings.Repeat("b", 32))
}

func TestLoadDefaults(t *testing.T) {
	setValidSecrets(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected HTTPAddr %q", cfg.HTTPAddr)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected access TTL %v", cfg.AccessTokenTTL)
	}
	if cfg.PublishRetryAttempts != 3 {
		t.Fatalf("unexpected retry attempts %d", cfg.PublishRetryAttempts)
	}
}

func TestLoadRejectsShortSecrets(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "short")
	t.Setenv("JWT_REFRESH_SECRET", strings.Repeat("b", 32))
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for short access secret")
	}
}

func TestLoadRejectsEqualSecrets(t *testing.T) {
	secret := strings.Repeat("a", 32)
	t.Setenv("JWT_ACCESS_SECRET", secret)
	t.Setenv("JWT_REFRESH_SECRET", secret)
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for identical secrets")
	}
}

func TestLoadRejectsInvertedTTLs(t *testing.T) {
	setValidSecrets(t)
	t.Setenv("JWT_ACCESS_TTL", "2h")
	t.Setenv("JWT_REFRESH_TTL", "1h")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error when refresh TTL <= access TTL")
	}
}

func TestLoadRequiresDatabaseURLInProduction(t *testing.T) {
	setValidSecrets(t)
	t.Setenv("APP_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for missing DATABASE_URL in production")
	}
}

func TestClassifyConfigLoadError(t *testing.T) {
	if got := classifyConfigLoadError(nil); got != "none" {
		t.Fatalf("nil error class = %q", got)
	}
	cfg := &Config{}
	err := cfg.validate()
	if err == nil {
		t.Fatal("expected empty config to fail validation")
	}
	if got := classifyConfigLoadError(err); got != "validation" {
		t.Fatalf("validation error class = %q", got)
	}
}
