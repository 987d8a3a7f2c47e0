package protocol

import (
	"encoding/binary"
	"fmt"
)

// BatteryFrameLen is the exact size of a battery frame:
// header(1) | current mV (LE uint16) | max mV (LE uint16) | pad(1).
const BatteryFrameLen = 6

// TemperatureReading is one connected probe from a realtime frame.
type TemperatureReading struct {
	Probe int    // 1-based slot index
	Raw   uint16 // tenths of a degree
}

// Degrees returns the whole-degree value that gets published.
// Fractions are truncated.
func (r TemperatureReading) Degrees() int {
	return int(r.Raw / 10)
}

// BatteryReading is a decoded battery frame.
type BatteryReading struct {
	Header  byte
	Current uint16
	Max     uint16 // as reported; may be 0
	Percent int
}

// DecodeError reports a notification payload that cannot be decoded.
type DecodeError struct {
	Frame string
	Got   int
	Want  int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: %s frame is %d bytes, want %d", e.Frame, e.Got, e.Want)
}

// DecodeTemperature splits a realtime frame into little-endian uint16 probe
// slots. Slots holding ProbeDisconnected are skipped; the rest keep their
// positional order. A trailing odd byte is ignored.
func DecodeTemperature(payload []byte) []TemperatureReading {
	readings := make([]TemperatureReading, 0, len(payload)/2)
	for i := 0; i+1 < len(payload); i += 2 {
		raw := binary.LittleEndian.Uint16(payload[i : i+2])
		if raw == ProbeDisconnected {
			continue
		}
		readings = append(readings, TemperatureReading{Probe: i/2 + 1, Raw: raw})
	}
	return readings
}

// DisconnectedProbes returns the 1-based indexes of slots reporting no probe.
func DisconnectedProbes(payload []byte) []int {
	var probes []int
	for i := 0; i+1 < len(payload); i += 2 {
		if binary.LittleEndian.Uint16(payload[i:i+2]) == ProbeDisconnected {
			probes = append(probes, i/2+1)
		}
	}
	return probes
}

// DecodeBattery decodes a settings-results battery frame. The header and pad
// bytes are kept but not checked.
func DecodeBattery(payload []byte) (BatteryReading, error) {
	if len(payload) != BatteryFrameLen {
		return BatteryReading{}, &DecodeError{Frame: "battery", Got: len(payload), Want: BatteryFrameLen}
	}

	r := BatteryReading{
		Header:  payload[0],
		Current: binary.LittleEndian.Uint16(payload[1:3]),
		Max:     binary.LittleEndian.Uint16(payload[3:5]),
	}

	denom := r.Max
	if denom == 0 {
		denom = FallbackMaxVoltage
	}
	r.Percent = int(100 * uint32(r.Current) / uint32(denom))
	return r, nil
}
