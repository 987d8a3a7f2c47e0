// Package ble drives an iBBQ thermometer over Bluetooth Low Energy. It picks
// the device from a scan, runs the vendor handshake that unlocks telemetry and
// routes the resulting notifications to a Publisher.
package ble

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend names accepted by NewAdapter.
const (
	BackendTinyGo = "tinygo"
	BackendHCI    = "hci"
)

// ErrAckedWriteUnsupported is returned by the tinygo backend on Linux for
// writes that need a response.
var ErrAckedWriteUnsupported = errors.New("ble: tinygo backend cannot do acknowledged writes on linux, use backend: hci")

// Device is a peripheral seen during a scan.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Notification is one value pushed by the peripheral. UUID is the
// characteristic it came from; Handle is its value handle, or 0 when the
// transport does not expose handles.
type Notification struct {
	UUID   uint16
	Handle uint16
	Data   []byte
}

// Descriptor represents a GATT descriptor.
type Descriptor interface {
	// Write sets the descriptor value.
	Write(data []byte) error
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	UUID() uint16
	// Handle returns the value handle, or 0 if unknown.
	Handle() uint16
	// Write sends data, waiting for the write response if withResponse is set.
	Write(data []byte, withResponse bool) error
	// Descriptor finds a descriptor of this characteristic by UUID.
	Descriptor(uuid uint16) (Descriptor, error)
}

// Service represents a discovered GATT service.
type Service interface {
	// Characteristic finds a characteristic of this service by UUID.
	Characteristic(uuid uint16) (Characteristic, error)
	// DiscoverDescriptors enumerates every descriptor of the service.
	DiscoverDescriptors() error
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverService finds a primary service by UUID.
	DiscoverService(uuid uint16) (Service, error)
	// DiscoverAll enumerates every service and characteristic on the peripheral.
	DiscoverAll() error
	// Subscribe sets the handler for all notifications on this connection.
	// Delivery for a characteristic starts once its CCCD is enabled.
	Subscribe(handler func(Notification))
	// Disconnect terminates the connection.
	Disconnect() error
	// Disconnected is closed when the link drops.
	Disconnected() <-chan struct{}
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports the peripherals heard until ctx is done.
	Scan(ctx context.Context) ([]Device, error)
	// Connect establishes a connection to the device at address.
	Connect(ctx context.Context, address string) (Connection, error)
}

// NewAdapter returns the adapter for backend; an empty backend means
// DefaultBackend. dialTimeout bounds connection setup on backends that take
// one.
func NewAdapter(backend string, dialTimeout time.Duration) (Adapter, error) {
	if backend == "" {
		backend = DefaultBackend
	}
	switch backend {
	case BackendTinyGo:
		return NewTinyGoAdapter(), nil
	case BackendHCI:
		return newHCIAdapter(dialTimeout)
	default:
		return nil, fmt.Errorf("ble: unknown backend %q", backend)
	}
}
