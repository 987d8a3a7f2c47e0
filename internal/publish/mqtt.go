package publish

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	// DefaultKeepAlive is the MQTT keepalive when none is configured.
	DefaultKeepAlive = 60 * time.Second
	// DefaultConnectTimeout bounds the initial broker connection.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultPublishTimeout bounds a single publish.
	DefaultPublishTimeout = 5 * time.Second

	clientIDPrefix = "ibbq-mqtt-"
	quiesceMillis  = 250
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt: timed out")

// mqttClient is the subset of mqtt.Client the publisher uses.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTOptions configures an MQTTPublisher.
type MQTTOptions struct {
	BrokerURL      string // e.g. tcp://192.168.42.100:1883
	ClientID       string // generated when empty
	Username       string
	Password       string
	QoS            byte
	Retain         bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// MQTTPublisher publishes readings as decimal string payloads. The
// underlying paho client reconnects on its own after the first connect.
type MQTTPublisher struct {
	client mqttClient
	opts   MQTTOptions
	logger *slog.Logger
}

var _ Publisher = (*MQTTPublisher)(nil)

// NewMQTTPublisher builds a publisher for opts. It does not connect; call
// Connect before publishing.
func NewMQTTPublisher(opts MQTTOptions) (*MQTTPublisher, error) {
	opts, err := withDefaults(opts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger

	co := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetConnectTimeout(opts.ConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("[MQTT] connected", "broker", opts.BrokerURL, "client_id", opts.ClientID)
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("[MQTT] connection lost", "error", err)
	})
	co.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Info("[MQTT] reconnecting", "broker", opts.BrokerURL)
	})

	return newMQTTPublisher(mqtt.NewClient(co), opts), nil
}

func newMQTTPublisher(client mqttClient, opts MQTTOptions) *MQTTPublisher {
	return &MQTTPublisher{client: client, opts: opts, logger: opts.Logger}
}

func withDefaults(opts MQTTOptions) (MQTTOptions, error) {
	if opts.BrokerURL == "" {
		return opts, errors.New("mqtt: broker URL must not be empty")
	}
	if opts.QoS > 2 {
		return opts, fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", opts.QoS)
	}
	if opts.ClientID == "" {
		opts.ClientID = clientIDPrefix + uuid.NewString()
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts, nil
}

// ClientID returns the client id sent to the broker.
func (p *MQTTPublisher) ClientID() string { return p.opts.ClientID }

// Connect dials the broker and waits for the CONNACK.
func (p *MQTTPublisher) Connect() error {
	p.logger.Info("[MQTT] connecting", "broker", p.opts.BrokerURL)
	if err := wait(p.client.Connect(), p.opts.ConnectTimeout); err != nil {
		return fmt.Errorf("mqtt: connect %s: %w", p.opts.BrokerURL, err)
	}
	return nil
}

// Publish sends value to topic as a decimal string.
func (p *MQTTPublisher) Publish(topic string, value int) error {
	payload := strconv.Itoa(value)
	token := p.client.Publish(topic, p.opts.QoS, p.opts.Retain, payload)
	if err := wait(token, p.opts.PublishTimeout); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	p.logger.Debug("[MQTT] published", "topic", topic, "payload", payload)
	return nil
}

// Close disconnects from the broker, letting in-flight work finish briefly.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(quiesceMillis)
	p.logger.Info("[MQTT] disconnected")
	return nil
}

func wait(token mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return ErrTimeout
	}
	return token.Error()
}
