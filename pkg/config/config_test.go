package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidate_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate, got: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "signal address must not be empty",
			mutate: func(c *Config) {
				c.Signal.Address = ""
			},
		},
		{
			name: "ping interval must be > 0",
			mutate: func(c *Config) {
				c.Signal.PingInterval = 0
			},
		},
		{
			name: "port range needs both bounds",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 10000
				c.WebRTC.PortRange.Max = 0
			},
		},
		{
			name: "port range min below max",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 20000
				c.WebRTC.PortRange.Max = 10000
			},
		},
		{
			name: "limit percentage over 100",
			mutate: func(c *Config) {
				c.Bandwidth.LimitPercentage = 120
			},
		},
		{
			name: "limit percentage zero",
			mutate: func(c *Config) {
				c.Bandwidth.LimitPercentage = 0
			},
		},
		{
			name: "window length zero",
			mutate: func(c *Config) {
				c.Bandwidth.WindowLength = 0
			},
		},
		{
			name: "closed debounce over 10ms",
			mutate: func(c *Config) {
				c.Quirks["gecko"] = QuirkProfile{ClosedDebounce: 20 * time.Millisecond}
			},
		},
		{
			name: "negative closed debounce",
			mutate: func(c *Config) {
				c.Quirks["gecko"] = QuirkProfile{ClosedDebounce: -time.Millisecond}
			},
		},
		{
			name: "jwt secret must not be empty",
			mutate: func(c *Config) {
				c.Auth.JWTSecret = ""
			},
		},
		{
			name: "redis enabled needs address",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
		},
		{
			name: "tracing sample rate bounded",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidate_BandwidthDisabledAllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bandwidth.Enabled = false
	cfg.Bandwidth.LimitPercentage = 0
	cfg.Bandwidth.WindowLength = 0
	cfg.Bandwidth.SampleInterval = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config when bandwidth disabled, got: %v", err)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such-config.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Signal.Address != ":8081" {
		t.Errorf("signal address = %q, want default :8081", cfg.Signal.Address)
	}
	if !cfg.Negotiation.TrickleICE {
		t.Error("trickle ICE should default to enabled")
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
signal:
  address: ":9999"
bandwidth:
  enabled: true
  limit_percentage: 75
  window_length: 3
  sample_interval: 10s
quirks:
  custom-agent:
    spurious_new: true
    closed_debounce: 5ms
    signal_remap:
      connecting: checking
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Signal.Address != ":9999" {
		t.Errorf("signal address = %q, want :9999", cfg.Signal.Address)
	}
	if cfg.Bandwidth.LimitPercentage != 75 {
		t.Errorf("limit percentage = %d, want 75", cfg.Bandwidth.LimitPercentage)
	}
	quirk, ok := cfg.Quirks["custom-agent"]
	if !ok {
		t.Fatal("custom-agent quirk profile missing")
	}
	if !quirk.SpuriousNew {
		t.Error("spurious_new not parsed")
	}
	if quirk.ClosedDebounce != 5*time.Millisecond {
		t.Errorf("closed_debounce = %v, want 5ms", quirk.ClosedDebounce)
	}
	if quirk.SignalRemap["connecting"] != "checking" {
		t.Errorf("signal_remap = %v", quirk.SignalRemap)
	}
	// Untouched sections keep their defaults.
	if cfg.API.Address != ":8080" {
		t.Errorf("api address = %q, want default :8080", cfg.API.Address)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PEERLINK_SIGNAL_ADDRESS", ":7777")
	t.Setenv("PEERLINK_JWT_SECRET", "env-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Signal.Address != ":7777" {
		t.Errorf("signal address = %q, want :7777", cfg.Signal.Address)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("jwt secret = %q, want env-secret", cfg.Auth.JWTSecret)
	}
}
