//go:build linux

package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// HCIAdapter talks to the controller through a raw HCI socket using go-ble.
// Unlike the tinygo backend it exposes value handles and writes descriptors
// directly. It needs CAP_NET_ADMIN and a controller not held by bluetoothd.
type HCIAdapter struct {
	dialTimeout time.Duration

	once sync.Once
	err  error
}

// DefaultBackend is the backend used when none is configured. On Linux the
// tinygo backend cannot make acknowledged writes.
const DefaultBackend = BackendHCI

func newHCIAdapter(dialTimeout time.Duration) (Adapter, error) {
	return &HCIAdapter{dialTimeout: dialTimeout}, nil
}

func (a *HCIAdapter) Enable() error {
	a.once.Do(func() {
		opts := []ble.Option{ble.OptDialerTimeout(a.dialTimeout)}
		dev, err := linux.NewDevice(opts...)
		if err != nil {
			a.err = fmt.Errorf("ble: open hci device: %w", err)
			return
		}
		ble.SetDefaultDevice(dev)
	})
	return a.err
}

func (a *HCIAdapter) Scan(ctx context.Context) ([]Device, error) {
	var mu sync.Mutex
	var devices []Device
	index := make(map[string]int)

	err := ble.Scan(ctx, true, func(adv ble.Advertisement) {
		addr := adv.Addr().String()
		mu.Lock()
		defer mu.Unlock()
		if i, ok := index[addr]; ok {
			if devices[i].Name == "" {
				devices[i].Name = adv.LocalName()
			}
			devices[i].RSSI = adv.RSSI()
			return
		}
		index[addr] = len(devices)
		devices = append(devices, Device{
			Name:    adv.LocalName(),
			Address: addr,
			RSSI:    adv.RSSI(),
		})
	}, nil)

	// Scan always ends with the context error once the window closes.
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

func (a *HCIAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	cln, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", address, err)
	}
	return &hciConnection{cln: cln}, nil
}

var _ Adapter = (*HCIAdapter)(nil)

type hciConnection struct {
	cln ble.Client

	mu      sync.Mutex
	handler func(Notification)
}

func (c *hciConnection) DiscoverService(uuid uint16) (Service, error) {
	svcs, err := c.cln.DiscoverServices([]ble.UUID{ble.UUID16(uuid)})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	for _, s := range svcs {
		if s.UUID.Equal(ble.UUID16(uuid)) {
			return &hciService{conn: c, svc: s}, nil
		}
	}
	return nil, fmt.Errorf("ble: service %04x not found", uuid)
}

func (c *hciConnection) DiscoverAll() error {
	if _, err := c.cln.DiscoverProfile(true); err != nil {
		return fmt.Errorf("ble: discover profile: %w", err)
	}
	return nil
}

func (c *hciConnection) Subscribe(handler func(Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *hciConnection) deliver(n Notification) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(n)
	}
}

func (c *hciConnection) Disconnect() error {
	return c.cln.CancelConnection()
}

func (c *hciConnection) Disconnected() <-chan struct{} {
	return c.cln.Disconnected()
}

type hciService struct {
	conn *hciConnection
	svc  *ble.Service
}

func (s *hciService) Characteristic(uuid uint16) (Characteristic, error) {
	chars, err := s.conn.cln.DiscoverCharacteristics([]ble.UUID{ble.UUID16(uuid)}, s.svc)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	for _, ch := range chars {
		if ch.UUID.Equal(ble.UUID16(uuid)) {
			return &hciCharacteristic{conn: s.conn, uuid: uuid, char: ch}, nil
		}
	}
	return nil, fmt.Errorf("ble: characteristic %04x not found", uuid)
}

func (s *hciService) DiscoverDescriptors() error {
	chars, err := s.conn.cln.DiscoverCharacteristics(nil, s.svc)
	if err != nil {
		return fmt.Errorf("ble: discover characteristics: %w", err)
	}
	for _, ch := range chars {
		if _, err := s.conn.cln.DiscoverDescriptors(nil, ch); err != nil {
			return fmt.Errorf("ble: discover descriptors of %s: %w", ch.UUID, err)
		}
	}
	return nil
}

type hciCharacteristic struct {
	conn *hciConnection
	uuid uint16
	char *ble.Characteristic
}

func (c *hciCharacteristic) UUID() uint16 { return c.uuid }

func (c *hciCharacteristic) Handle() uint16 { return c.char.ValueHandle }

func (c *hciCharacteristic) Write(data []byte, withResponse bool) error {
	return c.conn.cln.WriteCharacteristic(c.char, data, !withResponse)
}

func (c *hciCharacteristic) Descriptor(uuid uint16) (Descriptor, error) {
	descs, err := c.conn.cln.DiscoverDescriptors([]ble.UUID{ble.UUID16(uuid)}, c.char)
	if err != nil {
		return nil, fmt.Errorf("ble: discover descriptors: %w", err)
	}
	for _, d := range descs {
		if d.UUID.Equal(ble.UUID16(uuid)) {
			return &hciDescriptor{char: c, desc: d}, nil
		}
	}
	return nil, fmt.Errorf("ble: descriptor %04x not found", uuid)
}

type hciDescriptor struct {
	char *hciCharacteristic
	desc *ble.Descriptor
}

// Write sets the descriptor. For the CCCD it also registers (or drops) the
// go-ble notification handler, which go-ble keys by value handle.
func (d *hciDescriptor) Write(data []byte) error {
	cln := d.char.conn.cln
	if err := cln.WriteDescriptor(d.desc, data); err != nil {
		return err
	}
	if !d.desc.UUID.Equal(ble.ClientCharacteristicConfigUUID) || len(data) != 2 {
		return nil
	}
	if data[0]&0x01 == 0 {
		return cln.Unsubscribe(d.char.char, false)
	}
	uuid, handle := d.char.uuid, d.char.char.ValueHandle
	conn := d.char.conn
	return cln.Subscribe(d.char.char, false, func(req []byte) {
		data := make([]byte, len(req))
		copy(data, req)
		conn.deliver(Notification{UUID: uuid, Handle: handle, Data: data})
	})
}
