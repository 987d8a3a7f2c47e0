package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/ibbq-mqtt/internal/ble/protocol"
	"tinygo.org/x/bluetooth"
)

// stopScanRetry paces StopScan retries while the scan is still starting.
const stopScanRetry = 10 * time.Millisecond

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ over D-Bus on Linux,
// CoreBluetooth on macOS). On macOS, device addresses are CoreBluetooth
// UUIDs, not MAC addresses.
//
// The library owns the CCCD: enabling notifications writes it for us, so a
// CCCD descriptor write is translated into EnableNotifications.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by upper-cased address
}

// NewTinyGoAdapter creates a new BLE adapter using the system default radio.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler is the only place tinygo reports a dropped link.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := strings.ToUpper(device.Address.String())
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.markDisconnected()
		}
	})

	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context) ([]Device, error) {
	var mu sync.Mutex
	var devices []Device
	index := make(map[string]int)

	// StopScan fails until the scan has really started, so a cancellation
	// arriving first would otherwise leave Scan running forever.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	done := make(chan struct{})
	go stopWhenDone(ctx, done, a.adapter.StopScan)

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		name := result.LocalName()
		mu.Lock()
		defer mu.Unlock()
		if i, ok := index[addr]; ok {
			// The name often arrives later in a scan response.
			if devices[i].Name == "" {
				devices[i].Name = name
			}
			devices[i].RSSI = int(result.RSSI)
			return
		}
		index[addr] = len(devices)
		devices = append(devices, Device{
			Name:    name,
			Address: addr,
			RSSI:    int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// stopWhenDone calls stop once ctx is done, retrying until it succeeds or
// done is closed.
func stopWhenDone(ctx context.Context, done <-chan struct{}, stop func() error) {
	select {
	case <-ctx.Done():
	case <-done:
		return
	}
	for {
		if err := stop(); err == nil {
			return
		}
		select {
		case <-done:
			return
		case <-time.After(stopScanRetry):
		}
	}
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

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
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &tinyGoConnection{
			device:       &result.device,
			disconnected: make(chan struct{}),
		}

		a.mu.Lock()
		a.connections[strings.ToUpper(address)] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device *bluetooth.Device

	mu      sync.Mutex
	handler func(Notification)

	once         sync.Once
	disconnected chan struct{}
}

func (c *tinyGoConnection) DiscoverService(uuid uint16) (Service, error) {
	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{bluetooth.New16BitUUID(uuid)})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %04x not found", uuid)
	}
	return &tinyGoService{conn: c, svc: &svcs[0]}, nil
}

func (c *tinyGoConnection) DiscoverAll() error {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("ble: discover services: %w", err)
	}
	for i := range svcs {
		if _, err := svcs[i].DiscoverCharacteristics(nil); err != nil {
			return fmt.Errorf("ble: discover characteristics: %w", err)
		}
	}
	return nil
}

func (c *tinyGoConnection) Subscribe(handler func(Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *tinyGoConnection) deliver(n Notification) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(n)
	}
}

func (c *tinyGoConnection) Disconnect() error {
	err := c.device.Disconnect()
	c.markDisconnected()
	return err
}

func (c *tinyGoConnection) Disconnected() <-chan struct{} {
	return c.disconnected
}

func (c *tinyGoConnection) markDisconnected() {
	c.once.Do(func() { close(c.disconnected) })
}

type tinyGoService struct {
	conn *tinyGoConnection
	svc  *bluetooth.DeviceService
}

func (s *tinyGoService) Characteristic(uuid uint16) (Characteristic, error) {
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{bluetooth.New16BitUUID(uuid)})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %04x not found", uuid)
	}
	return &tinyGoCharacteristic{conn: s.conn, uuid: uuid, char: &chars[0]}, nil
}

// DiscoverDescriptors is a no-op: tinygo does not expose descriptors and
// resolves the CCCD itself.
func (s *tinyGoService) DiscoverDescriptors() error {
	return nil
}

type tinyGoCharacteristic struct {
	conn *tinyGoConnection
	uuid uint16
	char *bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) UUID() uint16 { return c.uuid }

// Handle is always 0; tinygo hides attribute handles.
func (c *tinyGoCharacteristic) Handle() uint16 { return 0 }

func (c *tinyGoCharacteristic) Write(data []byte, withResponse bool) error {
	if withResponse {
		// BlueZ builds of tinygo have no acknowledged write; see
		// tinygo_write_linux.go.
		return writeWithResponse(c.char, data)
	}
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinyGoCharacteristic) Descriptor(uuid uint16) (Descriptor, error) {
	if uuid != protocol.CCCDUUID {
		return nil, fmt.Errorf("ble: descriptor %04x not supported by tinygo backend", uuid)
	}
	return &tinyGoCCCD{char: c}, nil
}

type tinyGoCCCD struct {
	char *tinyGoCharacteristic
}

// Write maps the CCCD value onto EnableNotifications. Any value with the
// notify bit set subscribes; anything else unsubscribes.
func (d *tinyGoCCCD) Write(data []byte) error {
	if len(data) != 2 {
		return fmt.Errorf("ble: CCCD value must be 2 bytes, got %d", len(data))
	}
	if data[0]&0x01 == 0 {
		return d.char.char.EnableNotifications(nil)
	}
	uuid := d.char.uuid
	conn := d.char.conn
	return d.char.char.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		conn.deliver(Notification{UUID: uuid, Data: data})
	})
}
