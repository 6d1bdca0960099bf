package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/ptyjig/pkg/terminal"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a jig session
type Config struct {
	// Pacing
	StartWait      time.Duration `yaml:"start_wait" env:"JIG_WAIT"`
	KeystrokeDelay time.Duration `yaml:"keystroke_delay" env:"JIG_DELAY"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"JIG_TIMEOUT"`

	// GracePeriod is how long a target gets to exit on its own after an
	// idle timeout or pty EOF before it is killed.
	GracePeriod time.Duration `yaml:"grace_period"`

	// Behavior flags
	NoEOF     bool `yaml:"no_eof" env:"JIG_NO_EOF"`
	NoSignals bool `yaml:"no_signals" env:"JIG_NO_SIGNALS"`
	NoStdout  bool `yaml:"no_stdout" env:"JIG_NO_STDOUT"`

	// LineMode is "raw" or "canonical", see terminal.LineMode.
	LineMode string `yaml:"line_mode" env:"JIG_LINE_MODE"`

	// Capture files, empty means discard
	InputCapture  string `yaml:"input_capture"`
	OutputCapture string `yaml:"output_capture"`

	Debug bool `yaml:"debug" env:"JIG_DEBUG"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		IdleTimeout: 2 * time.Second,
		GracePeriod: 1 * time.Second,
		LineMode:    string(terminal.Raw),
	}
}

// Load loads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Try to load from config file
	configPath := getConfigPath()
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if path := os.Getenv("JIG_CONFIG"); path != "" {
		return path
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ptyjig", "config.yaml")
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "ptyjig", "config.yaml")
	}

	return ""
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, path string) error {
	// #nosec G304 - The config file path comes from trusted sources (env var or standard locations)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) error {
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"JIG_WAIT", &cfg.StartWait},
		{"JIG_DELAY", &cfg.KeystrokeDelay},
		{"JIG_TIMEOUT", &cfg.IdleTimeout},
	}
	for _, d := range durations {
		if v := os.Getenv(d.env); v != "" {
			parsed, err := ParseSeconds(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", d.env, err)
			}
			*d.dst = parsed
		}
	}

	if mode := os.Getenv("JIG_LINE_MODE"); mode != "" {
		cfg.LineMode = mode
	}

	flags := []struct {
		env string
		dst *bool
	}{
		{"JIG_NO_EOF", &cfg.NoEOF},
		{"JIG_NO_SIGNALS", &cfg.NoSignals},
		{"JIG_NO_STDOUT", &cfg.NoStdout},
		{"JIG_DEBUG", &cfg.Debug},
	}
	for _, f := range flags {
		if v := os.Getenv(f.env); v != "" {
			b, err := parseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s value: %q (use true/false)", f.env, v)
			}
			*f.dst = b
		}
	}

	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

// ParseSeconds parses a duration given either as (fractional) seconds,
// "0.05", or as a Go duration string, "50ms".
func ParseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.StartWait < 0 {
		return fmt.Errorf("start_wait must be non-negative")
	}
	if c.KeystrokeDelay < 0 {
		return fmt.Errorf("keystroke_delay must be non-negative")
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must be non-negative")
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace_period must be non-negative")
	}
	if _, err := terminal.ParseLineMode(c.LineMode); err != nil {
		return err
	}
	if c.InputCapture != "" && c.InputCapture == c.OutputCapture {
		return fmt.Errorf("input and output capture must be different files")
	}
	return nil
}
