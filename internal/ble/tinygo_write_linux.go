package ble

import "tinygo.org/x/bluetooth"

// writeWithResponse fails on Linux: the BlueZ side of tinygo bluetooth only
// offers WriteWithoutResponse, and the handshake needs its command writes
// acknowledged.
func writeWithResponse(_ *bluetooth.DeviceCharacteristic, _ []byte) error {
	return ErrAckedWriteUnsupported
}
