// Package protocol holds the iBBQ vendor protocol: the static command table,
// GATT identifiers and the decoders for realtime and settings-result frames.
package protocol

// DeviceName is the complete local name every iBBQ thermometer advertises.
const DeviceName = "iBBQ"

// GATT identifiers of the vendor service (16-bit UUIDs).
const (
	ServiceUUID         uint16 = 0xFFF0
	SettingsResultsUUID uint16 = 0xFFF1 // battery and settings replies
	PairUUID            uint16 = 0xFFF2
	HistoryUUID         uint16 = 0xFFF3 // not used; format unknown
	RealtimeDataUUID    uint16 = 0xFFF4 // probe temperatures
	CommandUUID         uint16 = 0xFFF5

	// CCCDUUID is the standard Client Characteristic Configuration Descriptor.
	CCCDUUID uint16 = 0x2902
)

// Empirical value handles seen on one device. Only used when the transport
// cannot say which characteristic a notification came from.
const (
	LegacyRealtimeHandle uint16 = 48
	LegacySettingsHandle uint16 = 37
)

// ProbeDisconnected is the raw realtime value reported for an empty probe slot.
const ProbeDisconnected uint16 = 0xFFF6

// FallbackMaxVoltage replaces a zero max voltage in battery frames. It was
// found by reverse engineering and is an approximation.
const FallbackMaxVoltage uint16 = 6580

// Units selects the display unit on the thermometer.
type Units string

const (
	UnitsNone       Units = ""
	UnitsCelsius    Units = "celsius"
	UnitsFahrenheit Units = "fahrenheit"
)

var (
	credentials        = []byte{0x21, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01, 0xb8, 0x22, 0x00, 0x00, 0x00, 0x00, 0x00}
	enableRealtimeData = []byte{0x0B, 0x01, 0x00, 0x00, 0x00, 0x00}
	batteryQuery       = []byte{0x08, 0x24, 0x00, 0x00, 0x00, 0x00}
	unitsCelsius       = []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00}
	unitsFahrenheit    = []byte{0x02, 0x01, 0x00, 0x00, 0x00, 0x00}
	notifyOn           = []byte{0x01, 0x00}
	notifyOff          = []byte{0x00, 0x00}
)

// Credentials is the login message written to the pair characteristic.
// The device has no challenge: anyone holding these bytes is logged in.
func Credentials() []byte { return clone(credentials) }

// EnableRealtimeData asks the device to stream probe temperatures.
func EnableRealtimeData() []byte { return clone(enableRealtimeData) }

// BatteryQuery asks for a battery frame on the settings-results characteristic.
func BatteryQuery() []byte { return clone(batteryQuery) }

// NotifyOn is the little-endian CCCD value enabling notifications.
func NotifyOn() []byte { return clone(notifyOn) }

// NotifyOff is the little-endian CCCD value disabling notifications.
func NotifyOff() []byte { return clone(notifyOff) }

// UnitsCommand returns the command switching the device display to u.
// It returns nil for UnitsNone or an unknown unit.
func UnitsCommand(u Units) []byte {
	switch u {
	case UnitsCelsius:
		return clone(unitsCelsius)
	case UnitsFahrenheit:
		return clone(unitsFahrenheit)
	default:
		return nil
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
