// Package config loads runtime settings: defaults, then an optional TOML file,
// then environment overrides, then validation.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Scrimzay/rtsim/internal/world"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Sim     SimConfig     `toml:"sim"`
	Journal JournalConfig `toml:"journal"`
	Client  ClientConfig  `toml:"client"`
	Log     LogConfig     `toml:"log"`
}

type ServerConfig struct {
	Port        string  `toml:"port" validate:"required,numeric"`
	IntentRate  float64 `toml:"intent_rate" validate:"gte=0"` // Per connection per second, 0 is unlimited
	IntentBurst int     `toml:"intent_burst" validate:"gte=1"`
}

type SimConfig struct {
	// Built-in layout name, or a path to a JSON layout from a map generator
	Layout          string  `toml:"layout" validate:"required"`
	TickMs          int     `toml:"tick_ms" validate:"min=10,max=1000"`
	CombatMs        int     `toml:"combat_ms" validate:"gtefield=TickMs"`
	GatherMs        int     `toml:"gather_ms" validate:"gtefield=TickMs"`
	MaxQueue        int     `toml:"max_queue" validate:"min=1,max=50"`
	StealthTicks    int     `toml:"stealth_ticks" validate:"min=1"`
	StealthCooldown int     `toml:"stealth_cooldown" validate:"gtefield=StealthTicks"`
	Tolerance       float64 `toml:"tolerance" validate:"gt=0,lte=4"`
}

type JournalConfig struct {
	Dir           string `toml:"dir"` // Empty keeps the journal in memory
	KeyframeEvery uint64 `toml:"keyframe_every" validate:"min=1"`
}

type ClientConfig struct {
	URL          string `toml:"url" validate:"required,url"`
	Player       string `toml:"player"`
	HandshakeMs  int    `toml:"handshake_ms" validate:"min=100"`
	MinBackoffMs int    `toml:"min_backoff_ms" validate:"min=1"`
	MaxBackoffMs int    `toml:"max_backoff_ms" validate:"gtefield=MinBackoffMs"`
}

type LogConfig struct {
	Level string `toml:"level" validate:"oneof=debug info warn error"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8000", IntentRate: 20, IntentBurst: 10},
		Sim: SimConfig{
			Layout:          "riverford",
			TickMs:          100,
			CombatMs:        500,
			GatherMs:        1000,
			MaxQueue:        5,
			StealthTicks:    50,
			StealthCooldown: 200,
			Tolerance:       0.5,
		},
		Journal: JournalConfig{KeyframeEvery: 50},
		Client: ClientConfig{
			URL:          "ws://localhost:8000/ws",
			HandshakeMs:  5000,
			MinBackoffMs: 250,
			MaxBackoffMs: 8000,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path means defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment. getenv is os.Getenv
// outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := getenv("RTSIM_JOURNAL_DIR"); v != "" {
		c.Journal.Dir = v
	}
	if v := getenv("RTSIM_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv("RTSIM_LAYOUT"); v != "" {
		c.Sim.Layout = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

// FromEnv is the process entry point: RTSIM_CONFIG names the file.
func FromEnv() (Config, error) {
	cfg, err := Load(os.Getenv("RTSIM_CONFIG"))
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func (s SimConfig) TickInterval() time.Duration {
	return ms(s.TickMs)
}

func (s SimConfig) WorldOptions(logger *slog.Logger) world.Options {
	return world.Options{
		TickInterval:    ms(s.TickMs),
		CombatInterval:  ms(s.CombatMs),
		GatherInterval:  ms(s.GatherMs),
		MaxQueue:        s.MaxQueue,
		StealthTicks:    s.StealthTicks,
		StealthCooldown: s.StealthCooldown,
		Logger:          logger,
	}
}

// LoadLayout resolves Layout as a built-in name, or reads it as a JSON file
// when it ends in .json.
func (s SimConfig) LoadLayout() (world.Layout, error) {
	if !strings.HasSuffix(s.Layout, ".json") {
		return world.LayoutByName(s.Layout)
	}
	raw, err := os.ReadFile(s.Layout)
	if err != nil {
		return world.Layout{}, fmt.Errorf("read layout: %w", err)
	}
	var l world.Layout
	if err := json.Unmarshal(raw, &l); err != nil {
		return l, fmt.Errorf("parse layout %s: %w", s.Layout, err)
	}
	return l, nil
}

func (c ClientConfig) Handshake() time.Duration  { return ms(c.HandshakeMs) }
func (c ClientConfig) MinBackoff() time.Duration { return ms(c.MinBackoffMs) }
func (c ClientConfig) MaxBackoff() time.Duration { return ms(c.MaxBackoffMs) }

func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
