package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func load(t *testing.T, yaml string) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if yaml != "" {
		v.SetConfigType("yaml")
		if err := v.ReadConfig(strings.NewReader(yaml)); err != nil {
			t.Fatalf("failed to read config: %v", err)
		}
	}
	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("failed to decode config: %v", err)
	}
	return cfg
}

func TestDefaults(t *testing.T) {
	t.Setenv("HOME", "/Users/me")
	cfg := load(t, "")

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.HdiutilPath != "/usr/bin/hdiutil" {
		t.Errorf("hdiutil-path = %q", cfg.HdiutilPath)
	}
	if cfg.VolumeMarker != "/Volumes/" {
		t.Errorf("volume-marker = %q", cfg.VolumeMarker)
	}
	if cfg.LaunchGrace != 0 {
		t.Errorf("launch-grace = %v", cfg.LaunchGrace)
	}
	if !strings.HasPrefix(cfg.BottlesDir, "/Users/me/") {
		t.Errorf("bottles-dir not expanded: %q", cfg.BottlesDir)
	}
	if len(cfg.ImageExtensions) != 4 {
		t.Errorf("image-extensions = %v", cfg.ImageExtensions)
	}
}

func TestConfigFile(t *testing.T) {
	cfg := load(t, `
bottles-dir: /srv/bottles
launch-grace: 2s
image-extensions: iso,dmg
fsm-max-retries: 0
log-level: debug
`)

	if cfg.BottlesDir != "/srv/bottles" {
		t.Errorf("bottles-dir = %q", cfg.BottlesDir)
	}
	if cfg.LaunchGrace != 2*time.Second {
		t.Errorf("launch-grace = %v", cfg.LaunchGrace)
	}
	if len(cfg.ImageExtensions) != 2 || cfg.ImageExtensions[1] != "dmg" {
		t.Errorf("image-extensions = %v", cfg.ImageExtensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty sqlite path", func(c *Config) { c.SQLitePath = "" }},
		{"empty fsm path", func(c *Config) { c.FSMDBPath = "" }},
		{"empty bottles dir", func(c *Config) { c.BottlesDir = "" }},
		{"empty marker", func(c *Config) { c.VolumeMarker = "" }},
		{"negative grace", func(c *Config) { c.LaunchGrace = -time.Second }},
		{"zero image size", func(c *Config) { c.MaxImageSize = 0 }},
		{"negative retries", func(c *Config) { c.FSMMaxRetries = -1 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := load(t, "")
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level.String() != "WARN" {
		t.Errorf("level = %v", level)
	}
}
