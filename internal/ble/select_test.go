package ble

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestSelectDevicePicksStrongestSignal(t *testing.T) {
	devices := []Device{
		{Name: "iBBQ", Address: "AA:AA:AA:AA:AA:01", RSSI: -80},
		{Name: "iBBQ", Address: "AA:AA:AA:AA:AA:02", RSSI: -40},
		{Name: "Other", Address: "AA:AA:AA:AA:AA:03", RSSI: -10},
	}

	got, ok := SelectDevice(devices, "")
	if !ok {
		t.Fatal("SelectDevice() found nothing")
	}
	if got.Address != "AA:AA:AA:AA:AA:02" {
		t.Errorf("Address = %q, want %q", got.Address, "AA:AA:AA:AA:AA:02")
	}
}

func TestSelectDeviceNoneFound(t *testing.T) {
	tests := []struct {
		name    string
		devices []Device
	}{
		{"empty list", nil},
		{"no iBBQ", []Device{{Name: "Other", Address: "AA", RSSI: -10}, {Name: "", Address: "BB", RSSI: -20}}},
		{"name is case sensitive", []Device{{Name: "ibbq", Address: "AA", RSSI: -10}}},
		{"no prefix match", []Device{{Name: "iBBQ-2", Address: "AA", RSSI: -10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := SelectDevice(tt.devices, ""); ok {
				t.Errorf("SelectDevice() = %+v, want none", got)
			}
		})
	}
}

func TestSelectDeviceTieFirstSeenWins(t *testing.T) {
	devices := []Device{
		{Name: "iBBQ", Address: "first", RSSI: -50},
		{Name: "iBBQ", Address: "second", RSSI: -50},
	}
	got, _ := SelectDevice(devices, "")
	if got.Address != "first" {
		t.Errorf("Address = %q, want %q", got.Address, "first")
	}
}

func TestSelectDeviceCustomName(t *testing.T) {
	devices := []Device{
		{Name: "iBBQ", Address: "AA", RSSI: -10},
		{Name: "Grill", Address: "BB", RSSI: -90},
	}
	got, ok := SelectDevice(devices, "Grill")
	if !ok || got.Address != "BB" {
		t.Errorf("SelectDevice(Grill) = %+v, %v, want BB", got, ok)
	}
}

func TestScanForDevices(t *testing.T) {
	devices := []Device{
		{Name: "iBBQ", Address: "AA:BB:CC:DD:EE:FF", RSSI: -45},
	}
	adapter := newMockAdapter(devices)

	result, err := ScanForDevices(context.Background(), adapter, 5*time.Second)
	if err != nil {
		t.Fatalf("ScanForDevices() error = %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("got %d devices, want 1", len(result))
	}
	if result[0].Name != "iBBQ" {
		t.Errorf("Name = %q, want %q", result[0].Name, "iBBQ")
	}
	if result[0].Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Address = %q, want %q", result[0].Address, "AA:BB:CC:DD:EE:FF")
	}
}

func TestScanForDevicesEmpty(t *testing.T) {
	adapter := newMockAdapter(nil)
	result, err := ScanForDevices(context.Background(), adapter, 5*time.Second)
	if err != nil {
		t.Fatalf("ScanForDevices() error = %v", err)
	}
	if len(result) != 0 {
		t.Fatalf("got %d devices, want 0", len(result))
	}
}

func TestScanForDevicesEnableError(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.enableErr = errors.New("radio off")
	if _, err := ScanForDevices(context.Background(), adapter, time.Second); err == nil {
		t.Fatal("ScanForDevices() should fail when the adapter cannot be enabled")
	}
}

func TestScanForDevicesDefaultDuration(t *testing.T) {
	adapter := newMockAdapter(nil)
	if _, err := ScanForDevices(context.Background(), adapter, 0); err != nil {
		t.Fatalf("ScanForDevices() error = %v", err)
	}
	dl := adapter.lastScanDeadline()
	if dl.IsZero() {
		t.Fatal("scan context had no deadline")
	}
	if remaining := time.Until(dl); remaining <= 9*time.Second || remaining > DefaultScanDuration {
		t.Errorf("scan window = %v, want about %v", remaining, DefaultScanDuration)
	}
}

func TestDiscoverNotFound(t *testing.T) {
	adapter := newMockAdapter([]Device{{Name: "Other", Address: "AA", RSSI: -10}})
	_, err := discover(context.Background(), adapter, "", time.Second, slog.Default())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("discover() error = %v, want ErrDeviceNotFound", err)
	}
}
