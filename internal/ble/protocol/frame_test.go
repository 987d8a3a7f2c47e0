package protocol

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDecodeTemperatureSingleProbe(t *testing.T) {
	got := DecodeTemperature([]byte{0x64, 0x00})
	want := []TemperatureReading{{Probe: 1, Raw: 100}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeTemperature() mismatch (-want +got):\n%s", diff)
	}
	if got[0].Degrees() != 10 {
		t.Errorf("Degrees() = %d, want 10", got[0].Degrees())
	}
}

func TestDecodeTemperatureSentinelExcluded(t *testing.T) {
	got := DecodeTemperature([]byte{0xF6, 0xFF})
	if len(got) != 0 {
		t.Errorf("DecodeTemperature(sentinel) = %v, want empty", got)
	}
}

func TestDecodeTemperatureKeepsPositions(t *testing.T) {
	// probe 1: 23.5 -> 235, probe 2: empty, probe 3: 1000, probe 4: empty
	payload := []byte{0xEB, 0x00, 0xF6, 0xFF, 0xE8, 0x03, 0xF6, 0xFF}
	got := DecodeTemperature(payload)
	want := []TemperatureReading{
		{Probe: 1, Raw: 235},
		{Probe: 3, Raw: 1000},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeTemperature() mismatch (-want +got):\n%s", diff)
	}
	if got[0].Degrees() != 23 {
		t.Errorf("probe 1 Degrees() = %d, want 23 (fraction truncated)", got[0].Degrees())
	}
}

func TestDecodeTemperatureAllLengths(t *testing.T) {
	// Every even payload up to 16 bytes yields one reading per non-sentinel slot.
	for n := 0; n <= 16; n += 2 {
		payload := make([]byte, n)
		var want []TemperatureReading
		for slot := 0; slot < n/2; slot++ {
			raw := uint16(slot*37 + 5)
			if slot%3 == 1 {
				raw = ProbeDisconnected
			}
			binary.LittleEndian.PutUint16(payload[slot*2:], raw)
			if raw != ProbeDisconnected {
				want = append(want, TemperatureReading{Probe: slot + 1, Raw: raw})
			}
		}

		got := DecodeTemperature(payload)
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("len %d: DecodeTemperature() mismatch (-want +got):\n%s", n, diff)
		}
	}
}

func TestDecodeTemperatureOddTrailingByte(t *testing.T) {
	got := DecodeTemperature([]byte{0x64, 0x00, 0x07})
	want := []TemperatureReading{{Probe: 1, Raw: 100}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeTemperature() mismatch (-want +got):\n%s", diff)
	}
}

func TestDisconnectedProbes(t *testing.T) {
	payload := []byte{0xF6, 0xFF, 0x64, 0x00, 0xF6, 0xFF}
	got := DisconnectedProbes(payload)
	want := []int{1, 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DisconnectedProbes() mismatch (-want +got):\n%s", diff)
	}
}

func batteryFrame(header byte, current, max uint16, pad byte) []byte {
	buf := make([]byte, BatteryFrameLen)
	buf[0] = header
	binary.LittleEndian.PutUint16(buf[1:3], current)
	binary.LittleEndian.PutUint16(buf[3:5], max)
	buf[5] = pad
	return buf
}

func TestDecodeBattery(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    BatteryReading
	}{
		{
			name:    "fallback denominator when max is zero",
			payload: batteryFrame(0x24, 3000, 0, 0x00),
			want:    BatteryReading{Header: 0x24, Current: 3000, Max: 0, Percent: 45},
		},
		{
			name:    "full battery",
			payload: batteryFrame(0x24, 4000, 4000, 0x00),
			want:    BatteryReading{Header: 0x24, Current: 4000, Max: 4000, Percent: 100},
		},
		{
			name:    "percent is floored",
			payload: batteryFrame(0x24, 2000, 3000, 0x00),
			want:    BatteryReading{Header: 0x24, Current: 2000, Max: 3000, Percent: 66},
		},
		{
			name:    "above max reports over 100",
			payload: batteryFrame(0x24, 6600, 6000, 0x00),
			want:    BatteryReading{Header: 0x24, Current: 6600, Max: 6000, Percent: 110},
		},
		{
			name:    "header and pad are not checked",
			payload: batteryFrame(0x99, 0, 6580, 0xFF),
			want:    BatteryReading{Header: 0x99, Current: 0, Max: 6580, Percent: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBattery(tt.payload)
			if err != nil {
				t.Fatalf("DecodeBattery() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeBattery() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeBatteryWrongLength(t *testing.T) {
	for _, n := range []int{0, 5, 7} {
		_, err := DecodeBattery(make([]byte, n))
		if err == nil {
			t.Fatalf("DecodeBattery(%d bytes) should fail", n)
		}
		var decErr *DecodeError
		if !errors.As(err, &decErr) {
			t.Fatalf("DecodeBattery(%d bytes) error = %T, want *DecodeError", n, err)
		}
		if decErr.Got != n || decErr.Want != BatteryFrameLen {
			t.Errorf("DecodeError = %+v, want Got=%d Want=%d", decErr, n, BatteryFrameLen)
		}
	}
}
