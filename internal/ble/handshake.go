package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/ibbq-mqtt/internal/ble/protocol"
)

// DefaultWriteTimeout bounds each handshake step.
const DefaultWriteTimeout = 5 * time.Second

// ErrWriteTimeout is returned when a write does not complete in time.
var ErrWriteTimeout = errors.New("ble: write timed out")

// Step identifies one handshake step. Steps run in numeric order.
type Step int

const (
	StepResolveService Step = iota + 1
	StepAuthenticate
	StepEnumerate
	StepEnableRealtime
	StepSubscribeTemperature
	StepQueryBattery
	StepSubscribeBattery
	StepSetUnits // only when HandshakeOptions.Units is set
)

func (s Step) String() string {
	switch s {
	case StepResolveService:
		return "resolve service"
	case StepAuthenticate:
		return "authenticate"
	case StepEnumerate:
		return "enumerate attributes"
	case StepEnableRealtime:
		return "enable realtime data"
	case StepSubscribeTemperature:
		return "subscribe temperature"
	case StepQueryBattery:
		return "query battery"
	case StepSubscribeBattery:
		return "subscribe battery"
	case StepSetUnits:
		return "set units"
	default:
		return fmt.Sprintf("step %d", int(s))
	}
}

// HandshakeError reports the step that aborted activation. The peripheral is
// left as is; the caller is expected to disconnect and start over.
type HandshakeError struct {
	Step Step
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("ble: handshake step %d (%s): %v", int(e.Step), e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// HandshakeOptions configures Activate.
type HandshakeOptions struct {
	WriteTimeout time.Duration
	Units        protocol.Units
	Logger       *slog.Logger
	// OnState is told about each state the handshake reaches.
	OnState func(State)
}

// DefaultHandshakeOptions returns sensible defaults.
func DefaultHandshakeOptions() HandshakeOptions {
	return HandshakeOptions{
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Stream is an activated thermometer: the characteristics resolved during
// the handshake and their notification descriptors.
type Stream struct {
	Service  Service
	Command  Characteristic
	Realtime Characteristic
	Settings Characteristic

	realtimeCCCD Descriptor
	settingsCCCD Descriptor
}

// Activate runs the vendor handshake on a fresh connection. Each step must
// succeed before the next one starts. Skipping the CCCD writes leaves the
// device silent without any error, so they are part of the sequence.
func Activate(ctx context.Context, conn Connection, opts HandshakeOptions) (*Stream, error) {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OnState == nil {
		opts.OnState = func(State) {}
	}

	s := &Stream{}
	steps := []struct {
		step Step
		fn   func() error
	}{
		{StepResolveService, func() error {
			svc, err := conn.DiscoverService(protocol.ServiceUUID)
			s.Service = svc
			return err
		}},
		{StepAuthenticate, func() error {
			pair, err := s.Service.Characteristic(protocol.PairUUID)
			if err != nil {
				return err
			}
			if err := pair.Write(protocol.Credentials(), false); err != nil {
				return err
			}
			opts.OnState(StateAuthenticated)
			return nil
		}},
		{StepEnumerate, func() error {
			// Results are unused, but some stacks deliver nothing until the
			// attribute table has been walked once.
			if err := conn.DiscoverAll(); err != nil {
				return err
			}
			return s.Service.DiscoverDescriptors()
		}},
		{StepEnableRealtime, func() error {
			cmd, err := s.Service.Characteristic(protocol.CommandUUID)
			if err != nil {
				return err
			}
			s.Command = cmd
			return cmd.Write(protocol.EnableRealtimeData(), true)
		}},
		{StepSubscribeTemperature, func() error {
			ch, cccd, err := resolveCCCD(s.Service, protocol.RealtimeDataUUID)
			if err != nil {
				return err
			}
			s.Realtime, s.realtimeCCCD = ch, cccd
			if err := cccd.Write(protocol.NotifyOn()); err != nil {
				return err
			}
			opts.OnState(StateStreamingTemperature)
			return nil
		}},
		{StepQueryBattery, func() error {
			return s.Command.Write(protocol.BatteryQuery(), true)
		}},
		{StepSubscribeBattery, func() error {
			ch, cccd, err := resolveCCCD(s.Service, protocol.SettingsResultsUUID)
			if err != nil {
				return err
			}
			s.Settings, s.settingsCCCD = ch, cccd
			if err := cccd.Write(protocol.NotifyOn()); err != nil {
				return err
			}
			opts.OnState(StateStreamingBattery)
			return nil
		}},
	}
	if cmd := protocol.UnitsCommand(opts.Units); cmd != nil {
		steps = append(steps, struct {
			step Step
			fn   func() error
		}{StepSetUnits, func() error {
			return s.Command.Write(cmd, true)
		}})
	}

	for _, st := range steps {
		opts.Logger.Debug("[BLE] handshake", "step", int(st.step), "name", st.step.String())
		if err := callWithTimeout(ctx, opts.WriteTimeout, st.fn); err != nil {
			return nil, &HandshakeError{Step: st.step, Err: err}
		}
	}

	opts.Logger.Info("[BLE] handshake complete, streaming telemetry")
	return s, nil
}

// resolveCCCD finds a characteristic of svc and its notification descriptor.
func resolveCCCD(svc Service, uuid uint16) (Characteristic, Descriptor, error) {
	ch, err := svc.Characteristic(uuid)
	if err != nil {
		return nil, nil, err
	}
	cccd, err := ch.Descriptor(protocol.CCCDUUID)
	if err != nil {
		return nil, nil, fmt.Errorf("ble: CCCD of %04x: %w", uuid, err)
	}
	return ch, cccd, nil
}

// QueryBattery asks the device for a fresh battery frame.
func (s *Stream) QueryBattery(ctx context.Context, timeout time.Duration) error {
	return callWithTimeout(ctx, timeout, func() error {
		return s.Command.Write(protocol.BatteryQuery(), true)
	})
}

// Deactivate turns notifications off on both streams. Errors are joined so
// one failing descriptor does not skip the other.
func (s *Stream) Deactivate(ctx context.Context, timeout time.Duration) error {
	var errs []error
	for _, cccd := range []Descriptor{s.realtimeCCCD, s.settingsCCCD} {
		if cccd == nil {
			continue
		}
		err := callWithTimeout(ctx, timeout, func() error {
			return cccd.Write(protocol.NotifyOff())
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// callWithTimeout runs fn and gives up after d or when ctx is done. Transport
// calls cannot be interrupted, so a timed out fn keeps running in the
// background and its result is discarded.
func callWithTimeout(ctx context.Context, d time.Duration, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		d = DefaultWriteTimeout
	}

	ch := make(chan error, 1)
	go func() { ch <- fn() }()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case err := <-ch:
		return err
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
