package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/ibbq-mqtt/internal/ble/protocol"
)

// DefaultConnectTimeout bounds connection establishment.
const DefaultConnectTimeout = 10 * time.Second

var (
	// ErrDisconnected is returned by Run when the peripheral drops the link.
	ErrDisconnected = errors.New("ble: peripheral disconnected")
	// ErrNotConnected is returned by Run before a successful Open.
	ErrNotConnected = errors.New("ble: session not open")
)

// State is the lifecycle of one session. It only moves forward; recovering
// from StateDisconnected takes a new session.
type State int32

const (
	StateDiscovered State = iota
	StateConnected
	StateAuthenticated
	StateStreamingTemperature
	StateStreamingBattery
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateStreamingTemperature:
		return "streaming temperature"
	case StateStreamingBattery:
		return "streaming battery"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SessionOptions configures a Session.
type SessionOptions struct {
	DeviceName      string        // advertised name to look for (default "iBBQ")
	Address         string        // skip the scan and connect here
	ScanDuration    time.Duration // scan listening window
	ConnectTimeout  time.Duration
	WriteTimeout    time.Duration // per handshake step
	Units           protocol.Units
	BatteryInterval time.Duration // re-query battery this often; 0 disables
	TopicPrefix     string
	QueueSize       int // buffered notifications awaiting the consumer
	Logger          *slog.Logger
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		DeviceName:     protocol.DeviceName,
		ScanDuration:   DefaultScanDuration,
		ConnectTimeout: DefaultConnectTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		TopicPrefix:    DefaultTopicPrefix,
		QueueSize:      64,
	}
}

// Session owns one connection to one thermometer, from discovery to
// disconnect. Notifications are handled by a single consumer in Run.
type Session struct {
	adapter Adapter
	pub     Publisher
	opts    SessionOptions
	logger  *slog.Logger

	state atomic.Int32

	conn   Connection
	stream *Stream
	router *Router
	frames chan Notification

	closeOnce sync.Once
	closeErr  error
}

// NewSession creates a session that publishes to pub. Zero options fall back
// to the defaults.
func NewSession(adapter Adapter, pub Publisher, opts SessionOptions) *Session {
	def := DefaultSessionOptions()
	if opts.DeviceName == "" {
		opts.DeviceName = def.DeviceName
	}
	if opts.ScanDuration <= 0 {
		opts.ScanDuration = def.ScanDuration
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = def.TopicPrefix
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		adapter: adapter,
		pub:     pub,
		opts:    opts,
		logger:  opts.Logger,
		frames:  make(chan Notification, opts.QueueSize),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// setState advances the state; attempts to move backwards are ignored.
func (s *Session) setState(st State) {
	for {
		cur := s.state.Load()
		if int32(st) <= cur {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			s.logger.Debug("[BLE] state", "from", State(cur).String(), "to", st.String())
			return
		}
	}
}

// Open finds the thermometer, connects and runs the handshake. On error the
// caller should Close the session and start a new one.
func (s *Session) Open(ctx context.Context) error {
	address := s.opts.Address
	if address == "" {
		dev, err := discover(ctx, s.adapter, s.opts.DeviceName, s.opts.ScanDuration, s.logger)
		if err != nil {
			return err
		}
		address = dev.Address
	} else if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	conn, err := s.adapter.Connect(connectCtx, address)
	if err != nil {
		return err
	}
	s.conn = conn
	s.setState(StateConnected)
	s.logger.Info("[BLE] connected", "address", address)

	conn.Subscribe(s.enqueue)

	stream, err := Activate(ctx, conn, HandshakeOptions{
		WriteTimeout: s.opts.WriteTimeout,
		Units:        s.opts.Units,
		Logger:       s.logger,
		OnState:      s.setState,
	})
	if err != nil {
		return err
	}
	s.stream = stream
	s.router = NewRouter(stream, s.pub, RouterOptions{
		TopicPrefix: s.opts.TopicPrefix,
		Logger:      s.logger,
	})
	return nil
}

// enqueue is the transport callback. It must never block the transport.
func (s *Session) enqueue(n Notification) {
	if s.State() < StateAuthenticated {
		s.logger.Warn("[BLE] notification before authentication, dropping",
			"uuid", fmt.Sprintf("%04x", n.UUID), "handle", n.Handle)
		return
	}
	select {
	case s.frames <- n:
	default:
		s.logger.Warn("[BLE] notification queue full, dropping",
			"uuid", fmt.Sprintf("%04x", n.UUID))
	}
}

// Run processes notifications until ctx is cancelled (returns nil) or the
// peripheral disconnects (returns ErrDisconnected).
func (s *Session) Run(ctx context.Context) error {
	if s.router == nil {
		return ErrNotConnected
	}

	var battery <-chan time.Time
	if s.opts.BatteryInterval > 0 {
		ticker := time.NewTicker(s.opts.BatteryInterval)
		defer ticker.Stop()
		battery = ticker.C
	}

	disconnected := s.conn.Disconnected()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[BLE] interrupted, leaving notification loop")
			return nil
		case <-disconnected:
			s.setState(StateDisconnected)
			s.logger.Warn("[BLE] device has gone away")
			return ErrDisconnected
		case n := <-s.frames:
			s.router.Dispatch(n)
		case <-battery:
			if err := s.stream.QueryBattery(ctx, s.opts.WriteTimeout); err != nil {
				s.logger.Warn("[BLE] battery query failed", "error", err)
			}
		}
	}
}

// Close turns notifications off if the link is still up, then disconnects.
// Both are best effort. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.conn == nil {
			s.setState(StateDisconnected)
			return
		}
		alive := s.State() != StateDisconnected
		if alive && s.stream != nil {
			if err := s.stream.Deactivate(context.Background(), s.opts.WriteTimeout); err != nil {
				s.logger.Warn("[BLE] disabling notifications failed", "error", err)
			}
		}
		err := s.conn.Disconnect()
		s.setState(StateDisconnected)
		if err != nil && alive {
			s.closeErr = fmt.Errorf("ble: disconnect: %w", err)
		}
		s.logger.Info("[BLE] disconnected")
	})
	return s.closeErr
}

// BackoffDelay returns the reconnection delay for attempt n, capped at max.
func BackoffDelay(attempt int, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 1<<30 seconds still fits in a Duration.
	if attempt > 30 {
		attempt = 30
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}
