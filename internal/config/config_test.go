package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CLIENT_STATE_DRIVER", "")
	t.Setenv("ORDER_RATE_PER_MINUTE", "")
	t.Setenv("INDICATOR_DURATION", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg := Load()
	if cfg.Port != "8081" {
		t.Errorf("expected default port 8081, got %s", cfg.Port)
	}
	if cfg.ClientStateDriver != "redis" {
		t.Errorf("expected redis driver, got %s", cfg.ClientStateDriver)
	}
	if cfg.OrderRatePerMin != 6 {
		t.Errorf("expected 6 orders/min, got %d", cfg.OrderRatePerMin)
	}
	if cfg.IndicatorDuration != 10*time.Second {
		t.Errorf("expected 10s indicator, got %s", cfg.IndicatorDuration)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("ORDER_RATE_PER_MINUTE", "30")
	t.Setenv("INDICATOR_DURATION", "3s")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Errorf("expected port 9000, got %s", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.OrderRatePerMin != 30 {
		t.Errorf("expected 30 orders/min, got %d", cfg.OrderRatePerMin)
	}
	if cfg.IndicatorDuration != 3*time.Second {
		t.Errorf("expected 3s, got %s", cfg.IndicatorDuration)
	}
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("ORDER_RATE_PER_MINUTE", "-1")
	t.Setenv("INDICATOR_DURATION", "soon")

	cfg := Load()
	if cfg.OrderRatePerMin != 6 || cfg.IndicatorDuration != 10*time.Second {
		t.Errorf("expected defaults, got %d and %s", cfg.OrderRatePerMin, cfg.IndicatorDuration)
	}
}
