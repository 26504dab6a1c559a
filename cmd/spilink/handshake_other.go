//go:build !linux

package main

import (
	"errors"

	"github.com/FerroO2000/spilink/transport"
)

func openSysfsLine(_ *HandshakeConfig) (transport.HandshakeLine, func() error, error) {
	return nil, nil, errors.New("the sysfs handshake line is supported only on linux")
}
