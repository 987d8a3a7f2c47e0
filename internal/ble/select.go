package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/ibbq-mqtt/internal/ble/protocol"
)

// DefaultScanDuration is how long a scan listens when no duration is given.
const DefaultScanDuration = 10 * time.Second

// ErrDeviceNotFound is returned when a scan heard no thermometer.
var ErrDeviceNotFound = errors.New("ble: no matching device found")

// ScanForDevices enables the adapter and listens for duration.
func ScanForDevices(ctx context.Context, adapter Adapter, duration time.Duration) ([]Device, error) {
	if duration <= 0 {
		duration = DefaultScanDuration
	}
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	devices, err := adapter.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// SelectDevice picks the device advertising exactly name with the strongest
// RSSI. An empty name means protocol.DeviceName. On equal RSSI the device seen
// first wins. It reports false when nothing matches.
func SelectDevice(devices []Device, name string) (Device, bool) {
	if name == "" {
		name = protocol.DeviceName
	}

	var best Device
	found := false
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		if !found || d.RSSI > best.RSSI {
			best = d
			found = true
		}
	}
	return best, found
}

// discover scans and selects in one go, logging every device heard.
func discover(ctx context.Context, adapter Adapter, name string, duration time.Duration, logger *slog.Logger) (Device, error) {
	devices, err := ScanForDevices(ctx, adapter, duration)
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		logger.Debug("[BLE] device", "address", d.Address, "name", d.Name, "rssi", d.RSSI)
	}

	dev, ok := SelectDevice(devices, name)
	if !ok {
		return Device{}, fmt.Errorf("%w (scanned %d devices)", ErrDeviceNotFound, len(devices))
	}
	logger.Info("[BLE] selected device", "address", dev.Address, "rssi", dev.RSSI)
	return dev, nil
}
