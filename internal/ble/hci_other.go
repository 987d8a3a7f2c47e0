//go:build !linux

package ble

import (
	"errors"
	"time"
)

// DefaultBackend is the backend used when none is configured.
const DefaultBackend = BackendTinyGo

func newHCIAdapter(time.Duration) (Adapter, error) {
	return nil, errors.New("ble: hci backend is only available on linux")
}
