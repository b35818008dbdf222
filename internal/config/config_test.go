package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("RECONCILE_LOCK_SECONDS", "zero")
	t.Setenv("LOW_STOCK_ALERT_LIMIT", "-4")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "0")

	cfg := Load()
	if cfg.ReconcileLockSeconds != 15 {
		t.Fatalf("expected default lock seconds 15, got %d", cfg.ReconcileLockSeconds)
	}
	if cfg.LowStockAlertLimit != 20 {
		t.Fatalf("expected default alert limit 20, got %d", cfg.LowStockAlertLimit)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestLoadReadsNotifyChannelAndEnv(t *testing.T) {
	t.Setenv("NOTIFY_CHANNEL", "bar:events")
	t.Setenv("APP_ENV", "Development")

	cfg := Load()
	if cfg.NotifyChannel != "bar:events" {
		t.Fatalf("expected notify channel from env, got %q", cfg.NotifyChannel)
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("expected development mode for APP_ENV=Development")
	}
	if cfg.Address() != ":"+cfg.Port {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}
