package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// GATTProfile maps sniffed ATT value handles to characteristic UUIDs.
//
// BlueZ (via tinygo.org/x/bluetooth) addresses characteristics by UUID
// only, while the heater protocol is documented in terms of raw handles.
// The handle numbers are stable per firmware (they came from sniffing the
// vendor app), so the mapping is part of the device profile and can be
// extended from configuration for handles whose UUID has been identified.
type GATTProfile struct {
	// Services to discover on connect.
	Services []string
	// Characteristics maps value handle to characteristic UUID.
	Characteristics map[uint16]string
}

// BlueZAdapter wraps tinygo-org/bluetooth for Linux.
type BlueZAdapter struct {
	adapter *bluetooth.Adapter
	profile GATTProfile

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*bluezConnection // keyed by device address
}

// NewBlueZAdapter creates a BLE adapter using the platform's default
// Bluetooth stack.
func NewBlueZAdapter(profile GATTProfile) *BlueZAdapter {
	return &BlueZAdapter{
		adapter:     bluetooth.DefaultAdapter,
		profile:     profile,
		connections: make(map[string]*bluezConnection),
	}
}

func (a *BlueZAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler fires with connected=false when a
	// peripheral drops the link (the heater does this itself when the
	// vendor app takes over).
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[addr]
		a.mu.Unlock()
		if ok && conn.disconnectCb != nil {
			conn.disconnectCb()
		}
	})

	return nil
}

func (a *BlueZAdapter) Scan(ctx context.Context, filter ScanFilter) ([]Device, error) {
	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		mac := result.Address.String()
		if !filter.MatchAddress(mac) {
			return
		}
		var ids []uint16
		for _, elem := range result.ManufacturerData() {
			ids = append(ids, elem.CompanyID)
		}
		if !filter.MatchManufacturer(ids) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if seen[mac] {
			return
		}
		seen[mac] = true
		devices = append(devices, Device{
			Name: result.LocalName(),
			MAC:  mac,
			RSSI: int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

func (a *BlueZAdapter) Connect(ctx context.Context, mac string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(mac)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect will eventually time out or succeed on
		// its own. We can't cancel it from here, but we return immediately.
		return nil, fmt.Errorf("ble: connect to %s: %w", mac, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", mac, result.err)
		}
		conn := &bluezConnection{device: &result.device, profile: a.profile}
		if err := conn.discover(); err != nil {
			conn.device.Disconnect()
			return nil, err
		}

		// Track this connection so the adapter-level disconnect handler
		// can find it and fire its OnDisconnect callback.
		a.mu.Lock()
		a.connections[mac] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that BlueZAdapter implements Adapter.
var _ Adapter = (*BlueZAdapter)(nil)

type bluezConnection struct {
	device  *bluetooth.Device
	profile GATTProfile

	// chars maps characteristic UUID (lowercase) to the discovered
	// characteristic. Populated once at connect time.
	chars        map[string]bluetooth.DeviceCharacteristic
	disconnectCb func()
}

// discover walks the profile's services and caches every characteristic,
// so later handle writes don't re-run GATT discovery.
func (c *bluezConnection) discover() error {
	c.chars = make(map[string]bluetooth.DeviceCharacteristic)

	var uuids []bluetooth.UUID
	for _, s := range c.profile.Services {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("ble: parse service UUID %s: %w", s, err)
		}
		uuids = append(uuids, u)
	}

	svcs, err := c.device.DiscoverServices(uuids)
	if err != nil {
		return fmt.Errorf("ble: discover services: %w", err)
	}
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("ble: discover characteristics: %w", err)
		}
		for _, char := range chars {
			c.chars[char.UUID().String()] = char
		}
	}
	return nil
}

// resolve maps an ATT handle to its discovered characteristic via the
// profile table.
func (c *bluezConnection) resolve(handle uint16) (bluetooth.DeviceCharacteristic, error) {
	uuid, ok := c.profile.Characteristics[handle]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf(
			"ble: handle %#06x has no UUID mapping; add it to the gatt_handles config", handle)
	}
	char, ok := c.chars[uuid]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf(
			"ble: characteristic %s (handle %#06x) not present on peripheral", uuid, handle)
	}
	return char, nil
}

func (c *bluezConnection) WriteHandle(handle uint16, value []byte, withResponse bool) error {
	char, err := c.resolve(handle)
	if err != nil {
		return err
	}
	if withResponse {
		_, err = char.Write(value)
	} else {
		_, err = char.WriteWithoutResponse(value)
	}
	return err
}

func (c *bluezConnection) Subscribe(handle uint16, h NotificationHandler) error {
	char, err := c.resolve(handle)
	if err != nil {
		return err
	}
	// EnableNotifications writes the CCCD under the hood, which is the
	// handshake step the protocol documents as an explicit descriptor write.
	return char.EnableNotifications(func(buf []byte) {
		h(handle, buf)
	})
}

func (c *bluezConnection) FindHandle(charUUID string) (uint16, error) {
	for handle, uuid := range c.profile.Characteristics {
		if uuid == charUUID {
			if _, ok := c.chars[uuid]; ok {
				return handle, nil
			}
		}
	}
	return 0, fmt.Errorf("ble: characteristic %s not found", charUUID)
}

func (c *bluezConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *bluezConnection) OnDisconnect(cb func()) {
	c.disconnectCb = cb
}
