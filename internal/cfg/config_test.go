package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9876 || cfg.Server.Symbols != 100 || cfg.Server.TickRate != 100_000 {
		t.Errorf("unexpected server defaults: %+v", cfg.Server)
	}
	if !cfg.Client.ValidateChecksum || !cfg.Client.ValidateSequence {
		t.Error("validation must default to enabled")
	}
}

func TestConfig_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedsim.yaml")
	data := []byte("server:\n  port: 4000\n  symbols: 250\n  tick_rate: 5000\nlogging:\n  level: debug\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 4000 || cfg.Server.Symbols != 250 || cfg.Server.TickRate != 5000 {
		t.Errorf("file values not applied: %+v", cfg.Server)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Client.TopSymbols != 20 {
		t.Errorf("client top symbols = %d, want default 20", cfg.Client.TopSymbols)
	}
}

func TestConfig_EnvOverride(t *testing.T) {
	t.Setenv("FEEDSIM_PORT", "7777")
	t.Setenv("FEEDSIM_TICK_RATE", "123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7777 || cfg.Server.TickRate != 123 {
		t.Errorf("env overrides not applied: %+v", cfg.Server)
	}
}

func TestConfig_ValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"no symbols", func(c *Config) { c.Server.Symbols = 0 }},
		{"too many symbols", func(c *Config) { c.Server.Symbols = 70000 }},
		{"zero tick rate", func(c *Config) { c.Server.TickRate = 0 }},
		{"empty addr", func(c *Config) { c.Client.Addr = "" }},
		{"zero interval", func(c *Config) { c.Client.UpdateIntervalMS = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfig_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/feedsim.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
