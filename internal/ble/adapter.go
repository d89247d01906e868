// Package ble abstracts the Bluetooth LE transport used to reach the
// heater. It handles scanning, connection management, and handle-addressed
// GATT writes; the heater protocol itself lives in internal/heater.
package ble

import "context"

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string
	MAC  string
	RSSI int // dBm at scan time
}

// ScanFilter selects advertisements during discovery. Zero values match
// everything.
type ScanFilter struct {
	ManufacturerID uint16 // company identifier in the advertisement
	AddressPrefix  string // e.g. "D0:65:4C:"
}

// NotificationHandler receives characteristic notifications together with
// the value handle they arrived on.
type NotificationHandler func(handle uint16, value []byte)

// Connection represents an active BLE connection to a peripheral.
//
// The heater protocol is handle-addressed (the handles come from sniffing
// the vendor app), so the connection speaks ATT handles rather than UUIDs.
type Connection interface {
	// WriteHandle writes value to the characteristic at the given handle.
	// withResponse selects Write Request over Write Command.
	WriteHandle(handle uint16, value []byte, withResponse bool) error
	// Subscribe enables notifications on the characteristic at the given
	// value handle and routes them to h. On the real transport this writes
	// the characteristic's CCCD.
	Subscribe(handle uint16, h NotificationHandler) error
	// FindHandle resolves a characteristic UUID to its value handle.
	FindHandle(charUUID string) (uint16, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers peripherals matching the filter until ctx is done.
	Scan(ctx context.Context, filter ScanFilter) ([]Device, error)
	// Connect establishes a connection to the device with the given MAC.
	Connect(ctx context.Context, mac string) (Connection, error)
}
