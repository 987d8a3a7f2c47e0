package ble

import (
	"fmt"
	"log/slog"

	"github.com/chaz8081/ibbq-mqtt/internal/ble/protocol"
)

// DefaultTopicPrefix is the first topic level of every published value.
const DefaultTopicPrefix = "bbq"

// Publisher is the sink decoded readings are sent to. Delivery is fire and
// forget; an error is logged and the reading is dropped.
type Publisher interface {
	Publish(topic string, value int) error
}

// RouterOptions configures a Router.
type RouterOptions struct {
	TopicPrefix string
	Logger      *slog.Logger
}

// Router turns notifications into published readings. It is not safe for
// concurrent use; the session feeds it from a single goroutine.
type Router struct {
	pub    Publisher
	prefix string
	logger *slog.Logger

	byUUID   map[uint16]func([]byte)
	byHandle map[uint16]func([]byte)
}

// NewRouter builds the dispatch table from the characteristics resolved by
// the handshake.
//
// Notifications are matched by characteristic UUID. Only when the transport
// reports no UUID is the value handle used, and if the transport never told
// us the handle either, the handles observed on one real device (48 and 37)
// stand in. Those numbers depend on the firmware's attribute layout.
func NewRouter(stream *Stream, pub Publisher, opts RouterOptions) *Router {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = DefaultTopicPrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Router{
		pub:      pub,
		prefix:   opts.TopicPrefix,
		logger:   opts.Logger,
		byUUID:   make(map[uint16]func([]byte)),
		byHandle: make(map[uint16]func([]byte)),
	}

	var realtime, settings Characteristic
	if stream != nil {
		realtime, settings = stream.Realtime, stream.Settings
	}
	r.register(realtime, protocol.RealtimeDataUUID, protocol.LegacyRealtimeHandle, r.handleTemperature)
	r.register(settings, protocol.SettingsResultsUUID, protocol.LegacySettingsHandle, r.handleBattery)
	return r
}

func (r *Router) register(ch Characteristic, uuid, handle uint16, fn func([]byte)) {
	if ch != nil {
		uuid = ch.UUID()
		if h := ch.Handle(); h != 0 {
			handle = h
		}
	}
	r.byUUID[uuid] = fn
	r.byHandle[handle] = fn
}

// Dispatch decodes and publishes one notification. It never panics on bad
// input; malformed frames are logged and dropped.
func (r *Router) Dispatch(n Notification) {
	r.logger.Debug("[BLE] notification",
		"uuid", fmt.Sprintf("%04x", n.UUID),
		"handle", n.Handle,
		"data", fmt.Sprintf("% x", n.Data))

	var fn func([]byte)
	if n.UUID != 0 {
		fn = r.byUUID[n.UUID]
	} else {
		fn = r.byHandle[n.Handle]
	}
	if fn == nil {
		r.logger.Warn("[BLE] notification from unknown characteristic",
			"uuid", fmt.Sprintf("%04x", n.UUID),
			"handle", n.Handle,
			"data", fmt.Sprintf("% x", n.Data))
		return
	}
	fn(n.Data)
}

func (r *Router) handleTemperature(data []byte) {
	if len(data)%2 != 0 {
		r.logger.Warn("[BLE] invalid realtime data, ignoring trailing byte", "len", len(data))
	}
	for _, probe := range protocol.DisconnectedProbes(data) {
		r.logger.Debug("[BLE] probe not connected", "probe", probe)
	}
	for _, reading := range protocol.DecodeTemperature(data) {
		r.publish(fmt.Sprintf("%s/temperature/%d", r.prefix, reading.Probe), reading.Degrees())
	}
}

func (r *Router) handleBattery(data []byte) {
	reading, err := protocol.DecodeBattery(data)
	if err != nil {
		r.logger.Warn("[BLE] invalid battery data", "error", err, "data", fmt.Sprintf("% x", data))
		return
	}
	r.logger.Debug("[BLE] battery",
		"header", fmt.Sprintf("%02x", reading.Header),
		"current", reading.Current,
		"max", reading.Max,
		"percent", reading.Percent)
	r.publish(r.prefix+"/battery", reading.Percent)
}

func (r *Router) publish(topic string, value int) {
	r.logger.Debug("[BLE] publish", "topic", topic, "value", value)
	if err := r.pub.Publish(topic, value); err != nil {
		r.logger.Warn("[BLE] publish failed", "topic", topic, "error", err)
	}
}
