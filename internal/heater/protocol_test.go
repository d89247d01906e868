package heater

import (
	"bytes"
	"errors"
	"testing"
)

func TestCommandForLevel(t *testing.T) {
	cases := []struct {
		pct          int
		payload      []byte
		repeat       int
		withResponse bool
	}{
		{0, []byte{0x00, 0x21}, DefaultOffRepeat, false},
		{33, []byte{0x01, 0x21}, 1, false},
		{66, []byte{0x01, 0x42}, 1, false},
		{100, []byte{0x01, 0x64}, 1, false},
	}

	for _, tc := range cases {
		cmd, err := CommandForLevel(tc.pct)
		if err != nil {
			t.Fatalf("CommandForLevel(%d) error = %v", tc.pct, err)
		}
		if cmd.Handle != HandleCmd {
			t.Errorf("CommandForLevel(%d).Handle = %#06x, want %#06x", tc.pct, cmd.Handle, HandleCmd)
		}
		if !bytes.Equal(cmd.Payload, tc.payload) {
			t.Errorf("CommandForLevel(%d).Payload = %x, want %x", tc.pct, cmd.Payload, tc.payload)
		}
		if cmd.Repeat != tc.repeat {
			t.Errorf("CommandForLevel(%d).Repeat = %d, want %d", tc.pct, cmd.Repeat, tc.repeat)
		}
		if cmd.WithResponse != tc.withResponse {
			t.Errorf("CommandForLevel(%d).WithResponse = %v", tc.pct, cmd.WithResponse)
		}
	}
}

func TestCommandForLevelInvalid(t *testing.T) {
	for _, pct := range []int{-1, 1, 34, 50, 101} {
		if _, err := CommandForLevel(pct); !errors.Is(err, ErrInvalidLevel) {
			t.Errorf("CommandForLevel(%d) error = %v, want ErrInvalidLevel", pct, err)
		}
	}
}

func TestDecodeStatus(t *testing.T) {
	frame := func(power, level byte) []byte {
		f := make([]byte, 20)
		f[0], f[1], f[2], f[3] = 0x14, 0x20, 0x03, 0x7E
		f[statusPowerIdx] = power
		f[statusLevelIdx] = level
		return f
	}

	cases := []struct {
		name  string
		frame []byte
		level int
		ok    bool
	}{
		{"off", frame(0x00, 0x21), 0, true},
		{"33", frame(0x01, 0x21), 33, true},
		{"66", frame(0x01, 0x42), 66, true},
		{"100", frame(0x01, 0x64), 100, true},
		{"unknown level byte", frame(0x01, 0x55), 0, false},
		{"unknown power byte", frame(0x02, 0x21), 0, false},
		{"short frame", []byte{0x01, 0x21}, 0, false},
		{"empty", nil, 0, false},
	}

	for _, tc := range cases {
		level, ok := DecodeStatus(tc.frame)
		if ok != tc.ok || level != tc.level {
			t.Errorf("%s: DecodeStatus = (%d, %v), want (%d, %v)", tc.name, level, ok, tc.level, tc.ok)
		}
	}
}

func TestProfileCoversCommandAndStatus(t *testing.T) {
	p := Profile()
	if p.Characteristics[HandleCmd] != CmdCharUUID {
		t.Errorf("profile maps %#06x to %q", HandleCmd, p.Characteristics[HandleCmd])
	}
	if p.Characteristics[HandleStatus] != AltCharUUID {
		t.Errorf("profile maps %#06x to %q", HandleStatus, p.Characteristics[HandleStatus])
	}
}
