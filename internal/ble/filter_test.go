package ble

import "testing"

func TestScanFilterMatchAddress(t *testing.T) {
	cases := []struct {
		prefix string
		mac    string
		want   bool
	}{
		{"D0:65:4C:", "D0:65:4C:8B:6C:36", true},
		{"D0:65:4C:", "d0:65:4c:8b:6c:36", true}, // BlueZ reports lowercase
		{"D0:65:4C:", "F4:12:99:00:11:22", false},
		{"", "F4:12:99:00:11:22", true},
	}

	for _, tc := range cases {
		f := ScanFilter{AddressPrefix: tc.prefix}
		if got := f.MatchAddress(tc.mac); got != tc.want {
			t.Errorf("MatchAddress(%q) with prefix %q = %v, want %v", tc.mac, tc.prefix, got, tc.want)
		}
	}
}

func TestScanFilterMatchManufacturer(t *testing.T) {
	cases := []struct {
		filterID uint16
		ids      []uint16
		want     bool
	}{
		{89, []uint16{89}, true},
		{89, []uint16{76, 89}, true},
		{89, []uint16{76}, false},
		{89, nil, false},
		{0, nil, true}, // unset filter matches everything
	}

	for _, tc := range cases {
		f := ScanFilter{ManufacturerID: tc.filterID}
		if got := f.MatchManufacturer(tc.ids); got != tc.want {
			t.Errorf("MatchManufacturer(%v) with id %d = %v, want %v", tc.ids, tc.filterID, got, tc.want)
		}
	}
}
