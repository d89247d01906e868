// Package config loads the daemon's YAML configuration.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/solamagic/internal/ble"
	"github.com/chaz8081/solamagic/internal/heater"
)

// Config holds all application configuration.
type Config struct {
	// Address is the heater's MAC address.
	Address string `yaml:"address"`
	// UnlockPayload overrides the built-in unlock bytes for handle 0x001F,
	// as a hex string. The value is firmware-specific.
	UnlockPayload string `yaml:"unlock_payload"`
	// GATTHandles adds handle-to-UUID mappings for transports that cannot
	// address raw ATT handles. Keys are hex handles ("0x001f").
	GATTHandles map[string]string `yaml:"gatt_handles"`

	IdleTimeoutSeconds    int `yaml:"idle_timeout_seconds"`    // 180 = 3 min; yields the link to the vendor app
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"` //
	WriteTimeoutSeconds   int `yaml:"write_timeout_seconds"`   //
	OffRepeat             int `yaml:"off_repeat"`
	OffDelayMillis        int `yaml:"off_delay_ms"`

	// DefaultOnLevel is the level used by the bridge's bare "on" command.
	DefaultOnLevel int `yaml:"default_on_level"`
	// RSSIPollSeconds is how often the daemon scans for the heater's
	// advertisement to refresh signal strength. 0 disables polling.
	RSSIPollSeconds int `yaml:"rssi_poll_seconds"`

	Redis    RedisConfig `yaml:"redis"`
	LogLevel string      `yaml:"log_level"`
}

// RedisConfig holds the status/command bridge settings. An empty Addr
// disables the bridge.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"` // hash key and pub/sub channel
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "solamagic")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		IdleTimeoutSeconds:    180,
		ConnectTimeoutSeconds: 10,
		WriteTimeoutSeconds:   5,
		OffRepeat:             heater.DefaultOffRepeat,
		OffDelayMillis:        int(heater.DefaultOffDelay / time.Millisecond),
		DefaultOnLevel:        heater.Level100,
		RSSIPollSeconds:       60,
		Redis: RedisConfig{
			Key: "heater",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address must not be empty")
	}
	if len(strings.Split(c.Address, ":")) != 6 {
		return fmt.Errorf("address must be a MAC address, got %q", c.Address)
	}

	if c.UnlockPayload != "" {
		if _, err := hex.DecodeString(strings.ReplaceAll(c.UnlockPayload, " ", "")); err != nil {
			return fmt.Errorf("unlock_payload must be hex: %w", err)
		}
	}

	for k := range c.GATTHandles {
		if _, err := parseHandle(k); err != nil {
			return fmt.Errorf("gatt_handles: %w", err)
		}
	}

	if c.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("idle_timeout_seconds must be > 0")
	}
	if c.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("connect_timeout_seconds must be > 0")
	}
	if c.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("write_timeout_seconds must be > 0")
	}
	if c.OffRepeat <= 0 {
		return fmt.Errorf("off_repeat must be > 0")
	}
	if c.OffDelayMillis < 0 {
		return fmt.Errorf("off_delay_ms must be >= 0")
	}

	switch c.DefaultOnLevel {
	case heater.Level33, heater.Level66, heater.Level100:
	default:
		return fmt.Errorf("default_on_level must be 33, 66 or 100, got %d", c.DefaultOnLevel)
	}

	if c.RSSIPollSeconds < 0 {
		return fmt.Errorf("rssi_poll_seconds must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// SessionOptions converts the config to session options.
func (c *Config) SessionOptions() heater.Options {
	opts := heater.Options{
		ConnectTimeout: time.Duration(c.ConnectTimeoutSeconds) * time.Second,
		WriteTimeout:   time.Duration(c.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:    time.Duration(c.IdleTimeoutSeconds) * time.Second,
		OffRepeat:      c.OffRepeat,
		OffDelay:       time.Duration(c.OffDelayMillis) * time.Millisecond,
	}
	if c.UnlockPayload != "" {
		payload, err := hex.DecodeString(strings.ReplaceAll(c.UnlockPayload, " ", ""))
		if err == nil {
			opts.UnlockPayload = payload
		}
	}
	return opts
}

// Profile returns the built-in GATT profile extended with any configured
// handle mappings.
func (c *Config) Profile() (ble.GATTProfile, error) {
	profile := heater.Profile()
	for k, uuid := range c.GATTHandles {
		handle, err := parseHandle(k)
		if err != nil {
			return ble.GATTProfile{}, err
		}
		profile.Characteristics[handle] = strings.ToLower(uuid)
	}
	return profile, nil
}

func parseHandle(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	return uint16(v), nil
}
