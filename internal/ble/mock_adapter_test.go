package ble

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/ibbq-mqtt/internal/ble/protocol"
)

// mockConnection simulates an iBBQ peripheral. Every GATT operation is
// appended to ops, and an operation listed in fail returns that error.
type mockConnection struct {
	mu           sync.Mutex
	ops          []string
	fail         map[string]error
	block        map[string]chan struct{} // ops that hang until closed
	handler      func(Notification)
	chars        map[uint16]*mockCharacteristic
	disconnected chan struct{}
	closeOnce    sync.Once
	disconnects  int
}

func newMockConnection() *mockConnection {
	c := &mockConnection{
		fail:         make(map[string]error),
		block:        make(map[string]chan struct{}),
		chars:        make(map[uint16]*mockCharacteristic),
		disconnected: make(chan struct{}),
	}
	for _, uuid := range []uint16{
		protocol.SettingsResultsUUID,
		protocol.PairUUID,
		protocol.RealtimeDataUUID,
		protocol.CommandUUID,
	} {
		c.chars[uuid] = &mockCharacteristic{conn: c, uuid: uuid}
	}
	return c
}

// record logs op and returns its injected failure, if any.
func (c *mockConnection) record(op string) error {
	c.mu.Lock()
	c.ops = append(c.ops, op)
	err := c.fail[op]
	block := c.block[op]
	c.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (c *mockConnection) failOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[op] = err
}

func (c *mockConnection) blockOn(op string) chan struct{} {
	ch := make(chan struct{})
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block[op] = ch
	return ch
}

func (c *mockConnection) opLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.ops))
	copy(out, c.ops)
	return out
}

func (c *mockConnection) DiscoverService(uuid uint16) (Service, error) {
	if err := c.record(fmt.Sprintf("service:%04x", uuid)); err != nil {
		return nil, err
	}
	if uuid != protocol.ServiceUUID {
		return nil, fmt.Errorf("mock: unknown service %04x", uuid)
	}
	return &mockService{conn: c}, nil
}

func (c *mockConnection) DiscoverAll() error {
	return c.record("discoverAll")
}

func (c *mockConnection) Subscribe(handler func(Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// SimulateNotification delivers a notification the way a transport would.
func (c *mockConnection) SimulateNotification(n Notification) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(n)
	}
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	c.SimulateDisconnect()
	return nil
}

func (c *mockConnection) Disconnected() <-chan struct{} {
	return c.disconnected
}

// SimulateDisconnect drops the link.
func (c *mockConnection) SimulateDisconnect() {
	c.closeOnce.Do(func() { close(c.disconnected) })
}

type mockService struct {
	conn *mockConnection
}

func (s *mockService) Characteristic(uuid uint16) (Characteristic, error) {
	if err := s.conn.record(fmt.Sprintf("char:%04x", uuid)); err != nil {
		return nil, err
	}
	ch, ok := s.conn.chars[uuid]
	if !ok {
		return nil, fmt.Errorf("mock: unknown characteristic %04x", uuid)
	}
	return ch, nil
}

func (s *mockService) DiscoverDescriptors() error {
	return s.conn.record(fmt.Sprintf("descriptors:%04x", protocol.ServiceUUID))
}

// mockCharacteristic records writes through its connection.
type mockCharacteristic struct {
	conn   *mockConnection
	uuid   uint16
	handle uint16
}

func (c *mockCharacteristic) UUID() uint16   { return c.uuid }
func (c *mockCharacteristic) Handle() uint16 { return c.handle }

// Write is logged as write:<uuid>:<first byte>.
func (c *mockCharacteristic) Write(data []byte, withResponse bool) error {
	op := fmt.Sprintf("write:%04x:%02x", c.uuid, data[0])
	if withResponse {
		op += ":ack"
	}
	return c.conn.record(op)
}

func (c *mockCharacteristic) Descriptor(uuid uint16) (Descriptor, error) {
	if err := c.conn.record(fmt.Sprintf("descriptor:%04x:%04x", c.uuid, uuid)); err != nil {
		return nil, err
	}
	if uuid != protocol.CCCDUUID {
		return nil, fmt.Errorf("mock: unknown descriptor %04x", uuid)
	}
	return &mockDescriptor{char: c}, nil
}

type mockDescriptor struct {
	char *mockCharacteristic
}

// Write is logged as cccd:<uuid>:<first byte>.
func (d *mockDescriptor) Write(data []byte) error {
	return d.char.conn.record(fmt.Sprintf("cccd:%04x:%02x", d.char.uuid, data[0]))
}

// mockAdapter simulates the BLE adapter.
type mockAdapter struct {
	mu           sync.Mutex
	devices      []Device
	enableErr    error
	connectErr   error
	connection   *mockConnection // most recent connection for test assertions
	connectAddrs []string
	scanDeadline time.Time
	prepare      func(*mockConnection)
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{
		devices:    devices,
		connection: newMockConnection(),
	}
}

func (a *mockAdapter) Enable() error { return a.enableErr }

func (a *mockAdapter) Scan(ctx context.Context) ([]Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanDeadline, _ = ctx.Deadline()
	return a.devices, nil
}

func (a *mockAdapter) Connect(_ context.Context, address string) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectAddrs = append(a.connectAddrs, address)
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	conn := newMockConnection()
	if a.prepare != nil {
		a.prepare(conn)
	}
	a.connection = conn
	return conn, nil
}

// latestConnection returns the most recently created connection (thread-safe).
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

func (a *mockAdapter) lastScanDeadline() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanDeadline
}

// mockPublisher records every published value.
type mockPublisher struct {
	mu        sync.Mutex
	published []published
	err       error
}

type published struct {
	Topic string
	Value int
}

func (p *mockPublisher) Publish(topic string, value int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, published{topic, value})
	return p.err
}

func (p *mockPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.published))
	copy(out, p.published)
	return out
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
