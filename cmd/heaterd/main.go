package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/solamagic/internal/ble"
	"github.com/chaz8081/solamagic/internal/bridge"
	"github.com/chaz8081/solamagic/internal/config"
	"github.com/chaz8081/solamagic/internal/heater"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/solamagic/config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	setupLogging(cfg.LogLevel)
	printBanner(cfg)

	profile, err := cfg.Profile()
	if err != nil {
		log.Fatalf("gatt profile: %v", err)
	}

	adapter := ble.NewBlueZAdapter(profile)
	session := heater.NewSession(adapter, cfg.Address, cfg.SessionOptions())
	defer session.Close()

	if cfg.Redis.Addr == "" {
		log.Fatal("redis.addr must be set; heaterd is the Redis bridge daemon (use heaterctl for one-shot control)")
	}

	br, err := bridge.New(session, bridge.Options{
		Addr:           cfg.Redis.Addr,
		Password:       cfg.Redis.Password,
		DB:             cfg.Redis.DB,
		Key:            cfg.Redis.Key,
		DefaultOnLevel: cfg.DefaultOnLevel,
	})
	if err != nil {
		log.Fatalf("bridge: %v", err)
	}
	log.Printf("Connected to Redis at %s (key %q)", cfg.Redis.Addr, cfg.Redis.Key)

	go br.Run()

	stopPoll := make(chan struct{})
	if cfg.RSSIPollSeconds > 0 {
		go pollRSSI(adapter, session, time.Duration(cfg.RSSIPollSeconds)*time.Second, stopPoll)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("Ready. Push commands to %s:command; Ctrl+C to quit.", cfg.Redis.Key)
	sig := <-sigCh
	log.Printf("Received %s, shutting down...", sig)

	close(stopPoll)
	br.Stop()
}

// pollRSSI rescans for the heater's advertisement so the published status
// carries a fresh signal strength reading.
func pollRSSI(adapter ble.Adapter, session *heater.Session, every time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		devices, err := heater.Discover(adapter, 5*time.Second)
		if err != nil {
			slog.Debug("rssi scan failed", "error", err)
			continue
		}
		for _, d := range devices {
			if strings.EqualFold(d.MAC, session.Address()) {
				session.ObserveRSSI(d.RSSI)
			}
		}
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== heaterd ===")
	fmt.Printf("  Heater:  %s\n", cfg.Address)
	fmt.Printf("  Idle:    %ds\n", cfg.IdleTimeoutSeconds)
	fmt.Printf("  Redis:   %s\n", cfg.Redis.Addr)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("===============")
}
