// Package publish delivers decoded thermometer readings to their consumers:
// an MQTT broker, or the log when running without one.
package publish

import "log/slog"

// Publisher sends one integer reading to a topic. Delivery is best effort.
type Publisher interface {
	Publish(topic string, value int) error
	Close() error
}

// LogPublisher writes readings to the log instead of a broker. Used for
// dry runs.
type LogPublisher struct {
	logger *slog.Logger
}

var _ Publisher = (*LogPublisher)(nil)

// NewLogPublisher returns a publisher that logs at info level. A nil logger
// means slog.Default().
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the reading.
func (p *LogPublisher) Publish(topic string, value int) error {
	p.logger.Info("[MQTT] dry run", "topic", topic, "value", value)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }
