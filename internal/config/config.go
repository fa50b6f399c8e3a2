package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Working directory (downloads, locks)
	WorkDir string `mapstructure:"work-dir"`

	// Where Wine bottles live
	BottlesDir string `mapstructure:"bottles-dir"`

	// External tools
	HdiutilPath  string `mapstructure:"hdiutil-path"`
	VolumeMarker string `mapstructure:"volume-marker"`
	WinePath     string `mapstructure:"wine-path"`

	// Delay between launch dispatch and detach
	LaunchGrace time.Duration `mapstructure:"launch-grace"`

	// Image limits
	MaxImageSize    int64    `mapstructure:"max-image-size"`
	ImageExtensions []string `mapstructure:"image-extensions"`

	// S3 configuration
	S3Region string `mapstructure:"s3-region"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`

	LogLevel string `mapstructure:"log-level"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	SetDefaults(viper.GetViper())

	// Environment variables (will be ISODROP_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("ISODROP")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.isodrop")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	return Decode(viper.GetViper())
}

// SetDefaults registers the default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("sqlite-path", ".artifacts/isodrop.db")
	v.SetDefault("fsm-db-path", ".artifacts/fsm.db")
	v.SetDefault("work-dir", "/tmp/isodrop")
	v.SetDefault("bottles-dir", "$HOME/Library/Containers/com.isaacmarovitz.Whisky/Bottles")
	v.SetDefault("hdiutil-path", "/usr/bin/hdiutil")
	v.SetDefault("volume-marker", "/Volumes/")
	v.SetDefault("wine-path", "wine")
	v.SetDefault("launch-grace", "0s")
	v.SetDefault("max-image-size", 16*1024*1024*1024)
	v.SetDefault("image-extensions", []string{"iso", "cdr", "dmg", "img"})
	v.SetDefault("s3-region", "us-east-1")
	v.SetDefault("fsm-max-retries", 2)
	v.SetDefault("log-level", "info")
}

// Decode unmarshals v into a Config and expands environment variables in
// path settings.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper leaves comma separated env values as a single element
	if len(cfg.ImageExtensions) == 1 && strings.Contains(cfg.ImageExtensions[0], ",") {
		cfg.ImageExtensions = strings.Split(cfg.ImageExtensions[0], ",")
	}

	cfg.BottlesDir = os.ExpandEnv(cfg.BottlesDir)
	cfg.WorkDir = os.ExpandEnv(cfg.WorkDir)
	cfg.SQLitePath = os.ExpandEnv(cfg.SQLitePath)
	cfg.FSMDBPath = os.ExpandEnv(cfg.FSMDBPath)

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if c.BottlesDir == "" {
		return fmt.Errorf("bottles-dir cannot be empty")
	}
	if c.HdiutilPath == "" {
		return fmt.Errorf("hdiutil-path cannot be empty")
	}
	if c.VolumeMarker == "" {
		return fmt.Errorf("volume-marker cannot be empty")
	}
	if c.WinePath == "" {
		return fmt.Errorf("wine-path cannot be empty")
	}
	if c.LaunchGrace < 0 {
		return fmt.Errorf("launch-grace must be non-negative")
	}
	if c.MaxImageSize <= 0 {
		return fmt.Errorf("max-image-size must be positive")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a log-level setting to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log-level %q", s)
	}
	return level, nil
}
