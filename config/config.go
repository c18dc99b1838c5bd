// Package config loads the boot configuration and the simulated machine
// profiles used by the vmxboot command.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	"gvisor.dev/gvisor/pkg/log"
)

// Environment variables that override file settings.
const (
	EnvMode     = "VMXBOOT_ENV"
	EnvDebug    = "VMXBOOT_DEBUG"
	EnvLogLevel = "VMXBOOT_LOG_LEVEL"
)

// Failure policies.
const (
	PolicyContinue = "continue"
	PolicyFailFast = "fail-fast"
)

// maxFileSize bounds configuration and profile files.
const maxFileSize = 1 << 20

// Config is the boot configuration.
type Config struct {
	LogLevel      string `yaml:"log_level"`
	Serial        Serial `yaml:"serial"`
	FailurePolicy string `yaml:"failure_policy"`
	// Production sanitizes error messages.
	Production bool `yaml:"production"`
}

// Serial configures the 16550 UART used after boot services exit.
type Serial struct {
	Port    uint16 `yaml:"port"`
	Divisor uint16 `yaml:"divisor"`
}

// Default returns the configuration used when no file is given: debug
// logging to COM1 at 115200 baud, continuing past per-processor failures.
func Default() Config {
	return Config{
		LogLevel:      "debug",
		Serial:        Serial{Port: 0x3f8, Divisor: 1},
		FailurePolicy: PolicyContinue,
	}
}

// Parse decodes data over the defaults.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return c, c.Validate()
}

// Load reads the configuration at path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config: %s is %d bytes, limit is %d", path, info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return data, nil
}

// ApplyEnv applies environment overrides read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	switch getenv(EnvMode) {
	case "production", "prod":
		c.Production = true
	}
	if debug := getenv(EnvDebug); debug != "" {
		if v, err := strconv.ParseBool(debug); err == nil && !v {
			c.Production = true
		}
	}
	if level := getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}
}

// Validate checks that every setting has a known value.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.FailurePolicy {
	case PolicyContinue, PolicyFailFast:
	default:
		return fmt.Errorf("config: unknown failure policy %q", c.FailurePolicy)
	}
	if c.Serial.Divisor == 0 {
		return fmt.Errorf("config: serial divisor must be non-zero")
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() log.Level {
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return log.Debug
	}
	return l
}

// FailFast reports whether a failed processor fails the whole bring-up.
func (c Config) FailFast() bool { return c.FailurePolicy == PolicyFailFast }

// ParseLevel maps a level name to a log level.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(s) {
	case "warning", "warn", "error":
		return log.Warning, nil
	case "info":
		return log.Info, nil
	case "debug", "trace":
		return log.Debug, nil
	default:
		return log.Debug, fmt.Errorf("config: unknown log level %q", s)
	}
}
