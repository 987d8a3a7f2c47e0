package ble

import (
	"errors"
	"testing"
)

func TestTinyGoAcknowledgedWriteUnsupportedOnLinux(t *testing.T) {
	ch := &tinyGoCharacteristic{uuid: 0xfff5}

	err := ch.Write([]byte{0x0b, 0x01, 0, 0, 0, 0}, true)
	if !errors.Is(err, ErrAckedWriteUnsupported) {
		t.Fatalf("Write(withResponse) error = %v, want ErrAckedWriteUnsupported", err)
	}
}

func TestDefaultBackendIsHCIOnLinux(t *testing.T) {
	if DefaultBackend != BackendHCI {
		t.Errorf("DefaultBackend = %q, want %q", DefaultBackend, BackendHCI)
	}
}
