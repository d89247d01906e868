package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/solamagic/internal/heater"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Address = "D0:65:4C:8B:6C:36"
	return cfg
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.IdleTimeoutSeconds != 180 {
		t.Errorf("IdleTimeoutSeconds = %d, want 180", cfg.IdleTimeoutSeconds)
	}
	if cfg.DefaultOnLevel != heater.Level100 {
		t.Errorf("DefaultOnLevel = %d, want 100", cfg.DefaultOnLevel)
	}
	if cfg.Redis.Key != "heater" {
		t.Errorf("Redis.Key = %q, want heater", cfg.Redis.Key)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `address: "D0:65:4C:8B:6C:36"
idle_timeout_seconds: 60
redis:
  addr: "localhost:6379"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Address != "D0:65:4C:8B:6C:36" {
		t.Errorf("Address = %q", cfg.Address)
	}
	if cfg.IdleTimeoutSeconds != 60 {
		t.Errorf("IdleTimeoutSeconds = %d, want 60", cfg.IdleTimeoutSeconds)
	}
	// Unset fields keep their defaults.
	if cfg.ConnectTimeoutSeconds != 10 {
		t.Errorf("ConnectTimeoutSeconds = %d, want default 10", cfg.ConnectTimeoutSeconds)
	}
	if cfg.OffRepeat != heater.DefaultOffRepeat {
		t.Errorf("OffRepeat = %d, want default %d", cfg.OffRepeat, heater.DefaultOffRepeat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of missing file should error")
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty address", func(c *Config) { c.Address = "" }, "address"},
		{"malformed address", func(c *Config) { c.Address = "not-a-mac" }, "address"},
		{"bad unlock hex", func(c *Config) { c.UnlockPayload = "zz" }, "unlock_payload"},
		{"bad handle key", func(c *Config) { c.GATTHandles = map[string]string{"xyz": "uuid"} }, "gatt_handles"},
		{"zero idle", func(c *Config) { c.IdleTimeoutSeconds = 0 }, "idle_timeout"},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeoutSeconds = 0 }, "connect_timeout"},
		{"zero write timeout", func(c *Config) { c.WriteTimeoutSeconds = 0 }, "write_timeout"},
		{"zero off repeat", func(c *Config) { c.OffRepeat = 0 }, "off_repeat"},
		{"negative off delay", func(c *Config) { c.OffDelayMillis = -1 }, "off_delay"},
		{"bad on level", func(c *Config) { c.DefaultOnLevel = 50 }, "default_on_level"},
		{"negative rssi poll", func(c *Config) { c.RSSIPollSeconds = -1 }, "rssi_poll"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
	}

	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: Validate() should fail", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := validConfig()
	cfg.IdleTimeoutSeconds = 60
	cfg.UnlockPayload = "ff ff ff fd 94 34 00 00 00"

	opts := cfg.SessionOptions()
	if opts.IdleTimeout != time.Minute {
		t.Errorf("IdleTimeout = %v, want 1m", opts.IdleTimeout)
	}
	if !bytes.Equal(opts.UnlockPayload, heater.DefaultUnlockPayload) {
		t.Errorf("UnlockPayload = %x", opts.UnlockPayload)
	}
}

func TestSessionOptionsNoUnlockOverride(t *testing.T) {
	opts := validConfig().SessionOptions()
	// Empty override leaves the payload to the session default.
	if opts.UnlockPayload != nil {
		t.Errorf("UnlockPayload = %x, want nil", opts.UnlockPayload)
	}
}

func TestProfileMergesConfiguredHandles(t *testing.T) {
	cfg := validConfig()
	cfg.GATTHandles = map[string]string{
		"0x001f": "0000F00F-0000-1000-8000-00805F9B34FB",
	}

	profile, err := cfg.Profile()
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}

	// Built-ins survive the merge.
	if profile.Characteristics[heater.HandleCmd] != heater.CmdCharUUID {
		t.Errorf("built-in command mapping lost: %q", profile.Characteristics[heater.HandleCmd])
	}
	// Configured mappings are added, lowercased.
	if got := profile.Characteristics[0x001F]; got != "0000f00f-0000-1000-8000-00805f9b34fb" {
		t.Errorf("configured mapping = %q", got)
	}
}
