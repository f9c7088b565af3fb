package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Scrimzay/rtsim/internal/world"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Sim.TickInterval() != 100*time.Millisecond {
		t.Errorf("got tick %v, want 100ms", cfg.Sim.TickInterval())
	}
	opts := cfg.Sim.WorldOptions(nil)
	if opts.CombatInterval != 500*time.Millisecond || opts.GatherInterval != time.Second {
		t.Errorf("got combat %v gather %v", opts.CombatInterval, opts.GatherInterval)
	}
	if cfg.Client.MinBackoff() != 250*time.Millisecond || cfg.Client.MaxBackoff() != 8*time.Second {
		t.Errorf("got backoff %v..%v", cfg.Client.MinBackoff(), cfg.Client.MaxBackoff())
	}
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := writeFile(t, "rtsim.toml", `
[server]
port = "9100"

[sim]
layout = "plains"
max_queue = 8

[log]
level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9100" || cfg.Sim.Layout != "plains" || cfg.Sim.MaxQueue != 8 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Sim.TickMs != 100 || cfg.Server.IntentBurst != 10 {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "rtsim.toml", "[sim]\nticks_per_second = 10\n")
	if _, err := Load(path); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"PORT":              "7000",
		"RTSIM_JOURNAL_DIR": "/var/lib/rtsim",
		"RTSIM_LOG_LEVEL":   "WARN",
		"RTSIM_LAYOUT":      "plains",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Server.Port != "7000" || cfg.Journal.Dir != "/var/lib/rtsim" || cfg.Sim.Layout != "plains" {
		t.Errorf("got %+v", cfg)
	}
	if cfg.Log.SlogLevel().String() != "WARN" {
		t.Errorf("got level %v, want WARN", cfg.Log.SlogLevel())
	}
}

func TestValidateNamesBadFields(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"tick too fast", func(c *Config) { c.Sim.TickMs = 1 }, "TickMs"},
		{"combat faster than tick", func(c *Config) { c.Sim.CombatMs = 50 }, "CombatMs"},
		{"non numeric port", func(c *Config) { c.Server.Port = "http" }, "Port"},
		{"unknown level", func(c *Config) { c.Log.Level = "loud" }, "Level"},
		{"backoff inverted", func(c *Config) { c.Client.MaxBackoffMs = 10 }, "MaxBackoffMs"},
		{"zero tolerance", func(c *Config) { c.Sim.Tolerance = 0 }, "Tolerance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.edit(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("got %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestLoadLayout(t *testing.T) {
	l, err := SimConfig{Layout: "plains"}.LoadLayout()
	if err != nil || l.Name != "plains" {
		t.Fatalf("got %v, %v", l.Name, err)
	}
	if _, err := (SimConfig{Layout: "atlantis"}).LoadLayout(); !errors.Is(err, world.ErrUnknownLayout) {
		t.Errorf("got %v, want ErrUnknownLayout", err)
	}

	custom := world.Plains()
	custom.Name = "generated"
	raw, err := json.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := writeFile(t, "map.json", string(raw))
	got, err := SimConfig{Layout: path}.LoadLayout()
	if err != nil {
		t.Fatalf("LoadLayout: %v", err)
	}
	if got.Name != "generated" || len(got.Players) != 2 || got.Size != custom.Size {
		t.Errorf("got %+v", got)
	}
}
