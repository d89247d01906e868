package heater

import (
	"context"
	"fmt"
	"time"

	"github.com/chaz8081/solamagic/internal/ble"
)

// Advertisement fingerprint of the BT2000: Solamagic's company identifier
// plus their address block.
const (
	ManufacturerID = 89
	AddressPrefix  = "D0:65:4C:"
)

// Filter matches BT2000 advertisements.
func Filter() ble.ScanFilter {
	return ble.ScanFilter{ManufacturerID: ManufacturerID, AddressPrefix: AddressPrefix}
}

// Discover scans for heaters for up to timeout.
func Discover(adapter ble.Adapter, timeout time.Duration) ([]ble.Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("heater: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, Filter())
	if err != nil {
		return nil, fmt.Errorf("heater: scan: %w", err)
	}
	return devices, nil
}
