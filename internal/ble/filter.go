package ble

import "strings"

// MatchAddress reports whether mac satisfies the filter's address prefix.
// Comparison is case-insensitive since BlueZ and CoreBluetooth disagree on
// address casing.
func (f ScanFilter) MatchAddress(mac string) bool {
	if f.AddressPrefix == "" {
		return true
	}
	return strings.HasPrefix(strings.ToUpper(mac), strings.ToUpper(f.AddressPrefix))
}

// MatchManufacturer reports whether any advertised company identifier
// satisfies the filter.
func (f ScanFilter) MatchManufacturer(companyIDs []uint16) bool {
	if f.ManufacturerID == 0 {
		return true
	}
	for _, id := range companyIDs {
		if id == f.ManufacturerID {
			return true
		}
	}
	return false
}
