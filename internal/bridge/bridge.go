// Package bridge exposes a heater session over Redis, so dashboards and
// home-automation glue can read status and push commands without linking
// against the Bluetooth stack.
//
// Status is mirrored into a hash and published on a channel of the same
// name; commands are consumed from the "<key>:command" list.
package bridge

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chaz8081/solamagic/internal/heater"
)

// Options configures the bridge.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Key is the status hash and pub/sub channel; commands arrive on
	// Key + ":command".
	Key string
	// DefaultOnLevel is the level a bare "on" command maps to.
	DefaultOnLevel int
}

// Bridge mirrors one session's status record into Redis and feeds queued
// commands into it.
type Bridge struct {
	sess   *heater.Session
	rc     *redisClient
	key    string
	onLvl  int
	stopCh chan struct{}
	done   chan struct{}
}

// New connects to Redis and wires the bridge to the session. Call Run to
// start consuming commands.
func New(sess *heater.Session, opts Options) (*Bridge, error) {
	if opts.Key == "" {
		opts.Key = "heater"
	}
	if opts.DefaultOnLevel == 0 {
		opts.DefaultOnLevel = heater.Level100
	}

	rc, err := newRedisClient(opts.Addr, opts.Password, opts.DB)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		sess:   sess,
		rc:     rc,
		key:    opts.Key,
		onLvl:  opts.DefaultOnLevel,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	sess.SetOnChange(b.publishStatus)
	b.publishStatus(sess.Status())

	return b, nil
}

// Run blocks consuming commands until Stop is called.
func (b *Bridge) Run() {
	defer close(b.done)
	commandKey := b.key + ":command"
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		// Bounded blocking pop so Stop is honored promptly.
		raw, err := b.rc.brPop(time.Second, commandKey)
		if err != nil {
			slog.Error("command pop failed", "key", commandKey, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if raw == "" {
			continue
		}

		slog.Info("bridge command", "raw", raw)
		if err := b.dispatch(raw); err != nil {
			slog.Error("bridge command failed", "raw", raw, "error", err)
			if perr := b.rc.writeAndPublish(b.key, "last-error", err.Error()); perr != nil {
				slog.Error("publish failed", "field", "last-error", "error", perr)
			}
		}
	}
}

// Stop halts the command loop and releases the Redis connection. The
// session itself is left to its owner.
func (b *Bridge) Stop() {
	close(b.stopCh)
	<-b.done
	b.sess.SetOnChange(nil)
	b.rc.close()
}

func (b *Bridge) dispatch(raw string) error {
	cmd, err := parseCommand(raw, b.onLvl)
	if err != nil {
		return err
	}
	switch cmd.name {
	case "set-level":
		return b.sess.SetLevel(cmd.level)
	case "connect":
		return b.sess.Connect()
	case "disconnect":
		return b.sess.Disconnect()
	default:
		return fmt.Errorf("bridge: unhandled command %q", cmd.name)
	}
}

func (b *Bridge) publishStatus(st heater.Status) {
	fields := map[string]string{
		"level": strconv.Itoa(st.Level),
		"state": st.State.String(),
		"rssi":  strconv.Itoa(st.RSSI),
	}
	for field, value := range fields {
		if err := b.rc.writeAndPublish(b.key, field, value); err != nil {
			slog.Error("publish failed", "field", field, "error", err)
		}
	}
}

type command struct {
	name  string
	level int
}

// parseCommand understands "on", "off", "set-level:<pct>", "connect" and
// "disconnect".
func parseCommand(raw string, defaultOnLevel int) (command, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(raw), ":")
	switch name {
	case "on":
		return command{name: "set-level", level: defaultOnLevel}, nil
	case "off":
		return command{name: "set-level", level: heater.LevelOff}, nil
	case "set-level":
		if !hasArg {
			return command{}, fmt.Errorf("bridge: set-level requires a level")
		}
		level, err := strconv.Atoi(arg)
		if err != nil {
			return command{}, fmt.Errorf("bridge: bad level %q: %w", arg, err)
		}
		return command{name: "set-level", level: level}, nil
	case "connect", "disconnect":
		return command{name: name}, nil
	default:
		return command{}, fmt.Errorf("bridge: unknown command %q", raw)
	}
}
