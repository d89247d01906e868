// Package heater implements the Solamagic BT2000 BLE protocol and the
// session manager that owns the single connection to a heater.
//
// All wire constants come from Bluetooth sniffing of the xHeatlink app;
// the heater's GATT surface is otherwise undocumented.
package heater

import (
	"fmt"
	"time"

	"github.com/chaz8081/solamagic/internal/ble"
)

// Known UUIDs on the BT2000.
const (
	ServiceUUID = "0000f000-0000-1000-8000-00805f9b34fb"
	CmdCharUUID = "0000f001-0000-1000-8000-00805f9b34fb" // handle 0x0028
	AltCharUUID = "0000f002-0000-1000-8000-00805f9b34fb" // handle 0x0032
)

// ATT handles on the BT2000.
const (
	HandleUnlock uint16 = 0x001F // unlock characteristic, written once per connection
	HandleCmd    uint16 = 0x0028 // command characteristic; echoes each command back
	HandleNtf1   uint16 = 0x002F // auxiliary status byte (3-byte frames)
	HandleStatus uint16 = 0x0032 // status frames carrying the current level
)

// CCCD handles, enabled after the unlock write in exactly this order.
// The command channel's CCCD must be last or the heater ignores commands.
const (
	CCCDNtf1   uint16 = 0x0030 // for 0x002F
	CCCDStatus uint16 = 0x0033 // for 0x0032
	CCCDCmd    uint16 = 0x0029 // for 0x0028
)

// EnableNotify is the CCCD value that turns notifications on.
var EnableNotify = []byte{0x01, 0x00}

// DefaultUnlockPayload is the reverse-engineered unlock value for handle
// 0x001F. It is firmware-specific and can be overridden from config.
var DefaultUnlockPayload = []byte{0xFF, 0xFF, 0xFF, 0xFD, 0x94, 0x34, 0x00, 0x00, 0x00}

// Power levels accepted by SetLevel, in percent.
const (
	LevelOff = 0
	Level33  = 33
	Level66  = 66
	Level100 = 100
)

// Command frames are two bytes: [power, level].
var (
	cmdOff   = []byte{0x00, 0x21}
	cmdOn33  = []byte{0x01, 0x21}
	cmdOn66  = []byte{0x01, 0x42}
	cmdOn100 = []byte{0x01, 0x64}
)

// Off is latched by repetition: the vendor app sends the off frame 21
// times roughly 16ms apart, and a single frame does not reliably turn the
// heater off.
const (
	DefaultOffRepeat = 21
	DefaultOffDelay  = 16 * time.Millisecond
)

// Command is a single handle write, optionally repeated.
type Command struct {
	Handle       uint16
	Payload      []byte
	WithResponse bool
	Repeat       int           // total writes, minimum 1
	Delay        time.Duration // pause between repeats
}

// CommandForLevel returns the wire command for a power level. Off uses the
// repeated-write quirk; the on levels are single writes without response.
func CommandForLevel(pct int) (Command, error) {
	switch pct {
	case LevelOff:
		return Command{
			Handle:  HandleCmd,
			Payload: cmdOff,
			Repeat:  DefaultOffRepeat,
			Delay:   DefaultOffDelay,
		}, nil
	case Level33:
		return Command{Handle: HandleCmd, Payload: cmdOn33, Repeat: 1}, nil
	case Level66:
		return Command{Handle: HandleCmd, Payload: cmdOn66, Repeat: 1}, nil
	case Level100:
		return Command{Handle: HandleCmd, Payload: cmdOn100, Repeat: 1}, nil
	default:
		return Command{}, fmt.Errorf("%w: got %d", ErrInvalidLevel, pct)
	}
}

// Status frame layout for handle 0x0032. Frames are 20 bytes; the pair at
// bytes 15-16 mirrors the command encoding:
//
//	byte15=0x00 byte16=0x21  off
//	byte15=0x01 byte16=0x21  33%
//	byte15=0x01 byte16=0x42  66%
//	byte15=0x01 byte16=0x64  100%
const (
	statusPowerIdx = 15
	statusLevelIdx = 16
	statusMinLen   = statusLevelIdx + 1
)

// DecodeStatus parses a status frame from handle 0x0032 into a power level
// in percent. ok is false for frames that don't carry a known level.
func DecodeStatus(frame []byte) (level int, ok bool) {
	if len(frame) < statusMinLen {
		return 0, false
	}
	power := frame[statusPowerIdx]
	switch {
	case power == 0x00:
		return LevelOff, true
	case power == 0x01:
		switch frame[statusLevelIdx] {
		case 0x21:
			return Level33, true
		case 0x42:
			return Level66, true
		case 0x64:
			return Level100, true
		}
	}
	return 0, false
}

// Profile returns the handle-to-UUID table for the characteristics whose
// UUIDs are known. Handles 0x001F and 0x002F have no published UUID; they
// must be sniffed per firmware and supplied through config for transports
// that can't address raw handles.
func Profile() ble.GATTProfile {
	return ble.GATTProfile{
		Services: []string{ServiceUUID},
		Characteristics: map[uint16]string{
			HandleCmd:    CmdCharUUID,
			HandleStatus: AltCharUUID,
		},
	}
}
