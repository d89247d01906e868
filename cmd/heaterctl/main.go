// heaterctl is a one-shot CLI for the heater: discovery, level control and
// raw GATT writes for protocol exploration.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chaz8081/solamagic/internal/ble"
	"github.com/chaz8081/solamagic/internal/config"
	"github.com/chaz8081/solamagic/internal/heater"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: heaterctl <command> [flags]

Commands:
  scan                       discover heaters
  level <0|33|66|100>        set power level
  off                        turn the heater off
  status                     connect and report last known status
  raw -handle H -payload HEX [-response] [-repeat N] [-delay MS]
                             write raw bytes to an ATT handle
  uuid -uuid UUID -payload HEX [-response]
                             write raw bytes to a characteristic by UUID

Global flags (before the command):
  -config PATH               config file (default: ~/.config/solamagic/config.yaml)
  -verbose                   debug logging
`)
	os.Exit(2)
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}

	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "scan" {
		runScan(cfg)
		return
	}

	// Everything else needs a configured heater address.
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	profile, err := cfg.Profile()
	if err != nil {
		log.Fatalf("gatt profile: %v", err)
	}
	session := heater.NewSession(ble.NewBlueZAdapter(profile), cfg.Address, cfg.SessionOptions())
	defer session.Close()

	switch cmd {
	case "level":
		runLevel(session, args)
	case "off":
		if err := session.Off(); err != nil {
			log.Fatalf("off: %v", err)
		}
		fmt.Println("off sequence sent")
	case "status":
		runStatus(session)
	case "raw":
		runRaw(session, args)
	case "uuid":
		runUUID(session, args)
	default:
		usage()
	}
}

func runScan(cfg *config.Config) {
	profile, err := cfg.Profile()
	if err != nil {
		log.Fatalf("gatt profile: %v", err)
	}
	fmt.Println("Scanning for heaters (10s)...")
	devices, err := heater.Discover(ble.NewBlueZAdapter(profile), 10*time.Second)
	if err != nil {
		log.Fatalf("scan: %v", err)
	}
	if len(devices) == 0 {
		fmt.Println("No heaters found.")
		return
	}
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %s  %s  %d dBm\n", d.MAC, name, d.RSSI)
	}
}

func runLevel(session *heater.Session, args []string) {
	if len(args) != 1 {
		log.Fatal("level: expected one argument (0, 33, 66 or 100)")
	}
	pct, err := strconv.Atoi(args[0])
	if err != nil {
		log.Fatalf("level: bad value %q", args[0])
	}
	if err := session.SetLevel(pct); err != nil {
		log.Fatalf("level: %v", err)
	}
	fmt.Printf("level set to %d%%\n", pct)
}

func runStatus(session *heater.Session) {
	if err := session.Connect(); err != nil {
		log.Fatalf("connect: %v", err)
	}
	// Give the heater a moment to push a status frame.
	time.Sleep(2 * time.Second)
	st := session.Status()
	fmt.Printf("state: %s\nlevel: %d%%\n", st.State, st.Level)
	if st.RSSI != 0 {
		fmt.Printf("rssi:  %d dBm\n", st.RSSI)
	}
	session.Disconnect()
}

func runRaw(session *heater.Session, args []string) {
	fs := flag.NewFlagSet("raw", flag.ExitOnError)
	handleStr := fs.String("handle", "", "ATT handle, e.g. 0x0028")
	payloadStr := fs.String("payload", "", "payload as hex, e.g. 0121")
	response := fs.Bool("response", false, "use write-with-response")
	repeat := fs.Int("repeat", 1, "number of writes")
	delayMs := fs.Int("delay", 100, "delay between repeats in ms")
	fs.Parse(args)

	handle, err := parseHandle(*handleStr)
	if err != nil {
		log.Fatalf("raw: %v", err)
	}
	payload, err := parsePayload(*payloadStr)
	if err != nil {
		log.Fatalf("raw: %v", err)
	}

	err = session.WriteRaw(handle, payload, *response, *repeat, time.Duration(*delayMs)*time.Millisecond)
	if err != nil {
		log.Fatalf("raw: %v", err)
	}
	fmt.Printf("wrote %s to %#06x (x%d)\n", hex.EncodeToString(payload), handle, *repeat)
}

func runUUID(session *heater.Session, args []string) {
	fs := flag.NewFlagSet("uuid", flag.ExitOnError)
	uuid := fs.String("uuid", "", "characteristic UUID")
	payloadStr := fs.String("payload", "", "payload as hex")
	response := fs.Bool("response", false, "use write-with-response")
	fs.Parse(args)

	if *uuid == "" {
		log.Fatal("uuid: -uuid is required")
	}
	payload, err := parsePayload(*payloadStr)
	if err != nil {
		log.Fatalf("uuid: %v", err)
	}

	if err := session.WriteByUUID(strings.ToLower(*uuid), payload, *response); err != nil {
		log.Fatalf("uuid: %v", err)
	}
	fmt.Printf("wrote %s to %s\n", hex.EncodeToString(payload), *uuid)
}

func parseHandle(s string) (uint16, error) {
	if s == "" {
		return 0, fmt.Errorf("-handle is required")
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	return uint16(v), nil
}

func parsePayload(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("-payload is required")
	}
	payload, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid payload %q: %w", s, err)
	}
	return payload, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return config.Load(defaultPath)
	}
	return config.Default(), nil
}
