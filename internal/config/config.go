package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the smartbin home directory.
const FileName = "config.yaml"

// DefaultDBName is the store file created in the home directory when db_path is unset.
const DefaultDBName = "waste_items.db"

// Config holds application configuration.
type Config struct {
	// DBPath is the classification store file. Relative paths resolve against the home directory.
	DBPath string `yaml:"db_path"`

	// SerialPort is the device the sorting actuator is attached to (check with `smartbin ports`).
	SerialPort string `yaml:"serial_port"`

	// BaudRate is the serial line speed.
	BaudRate int `yaml:"baud_rate"`

	// SerialTimeout bounds reads on the serial port.
	SerialTimeout time.Duration `yaml:"serial_timeout"`

	// SettleDelay is how long to wait after opening the port for the device to boot.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// SortDuration is the length of one physical sort cycle.
	SortDuration time.Duration `yaml:"sort_duration"`

	// SimulationDelay replaces SortDuration when no device is attached.
	SimulationDelay time.Duration `yaml:"simulation_delay"`

	// Simulate skips opening the serial port entirely.
	Simulate bool `yaml:"simulate,omitempty"`

	// StatsTopN is the length of the most-sorted ranking in reports.
	StatsTopN int `yaml:"stats_top_n"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format"`

	// WebBind and WebPort address the read-only dashboard.
	WebBind string `yaml:"web_bind"`
	WebPort int    `yaml:"web_port"`

	// MetricsAddr exposes loop metrics during `run` when set (e.g. "127.0.0.1:9420").
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `yaml:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SerialPort:      "/dev/ttyACM0",
		BaudRate:        9600,
		SerialTimeout:   time.Second,
		SettleDelay:     2 * time.Second,
		SortDuration:    10 * time.Second,
		SimulationDelay: time.Second,
		StatsTopN:       5,
		LogLevel:        "info",
		LogFormat:       "text",
		WebBind:         "127.0.0.1",
		WebPort:         8420,
	}
}

// Load loads configuration from baseDir/config.yaml and applies SMARTBIN_* environment overrides.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.smartbin.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, FileName))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.DBPath = ResolveDBPath(baseDir, cfg.DBPath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveDBPath returns the absolute store path for a configured value.
func ResolveDBPath(baseDir, dbPath string) string {
	if dbPath == "" {
		return filepath.Join(baseDir, DefaultDBName)
	}
	if filepath.IsAbs(dbPath) {
		return dbPath
	}
	return filepath.Join(baseDir, dbPath)
}

// loadFile decodes configPath on top of the defaults.
// Keys absent from the file keep their default; keys present keep their value, zero included.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}
	cfg.DisabledTools = cleanStringSlice(cfg.DisabledTools)

	return cfg, nil
}

// cleanStringSlice trims whitespace and removes empty entries and duplicates.
func cleanStringSlice(in []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(in))

	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

// ApplyEnv overrides cfg with SMARTBIN_* environment variables.
func ApplyEnv(cfg *Config) error {
	envOverride(&cfg.DBPath, "SMARTBIN_DB_PATH")
	envOverride(&cfg.SerialPort, "SMARTBIN_SERIAL_PORT")
	envOverride(&cfg.LogLevel, "SMARTBIN_LOG_LEVEL")
	envOverride(&cfg.LogFormat, "SMARTBIN_LOG_FORMAT")
	envOverride(&cfg.WebBind, "SMARTBIN_WEB_BIND")
	envOverride(&cfg.MetricsAddr, "SMARTBIN_METRICS_ADDR")

	var errs []error
	errs = append(errs,
		envOverrideInt(&cfg.BaudRate, "SMARTBIN_BAUD_RATE"),
		envOverrideInt(&cfg.StatsTopN, "SMARTBIN_STATS_TOP_N"),
		envOverrideInt(&cfg.WebPort, "SMARTBIN_WEB_PORT"),
		envOverrideDuration(&cfg.SerialTimeout, "SMARTBIN_SERIAL_TIMEOUT"),
		envOverrideDuration(&cfg.SettleDelay, "SMARTBIN_SETTLE_DELAY"),
		envOverrideDuration(&cfg.SortDuration, "SMARTBIN_SORT_DURATION"),
		envOverrideDuration(&cfg.SimulationDelay, "SMARTBIN_SIMULATION_DELAY"),
		envOverrideBool(&cfg.Simulate, "SMARTBIN_SIMULATE"),
	)
	return errors.Join(errs...)
}

func envOverride(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envOverrideInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func envOverrideDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}

func envOverrideBool(dst *bool, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}

// Validate rejects values the actuator or store cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("baud_rate must be positive, got %d", c.BaudRate))
	}
	for name, d := range map[string]time.Duration{
		"serial_timeout":   c.SerialTimeout,
		"settle_delay":     c.SettleDelay,
		"sort_duration":    c.SortDuration,
		"simulation_delay": c.SimulationDelay,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	if c.StatsTopN < 0 {
		errs = append(errs, fmt.Errorf("stats_top_n must not be negative, got %d", c.StatsTopN))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.WebPort < 0 || c.WebPort > 65535 {
		errs = append(errs, fmt.Errorf("web_port out of range: %d", c.WebPort))
	}
	return errors.Join(errs...)
}
