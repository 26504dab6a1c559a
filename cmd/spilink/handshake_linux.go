//go:build linux

package main

import (
	"github.com/FerroO2000/spilink/transport"
)

func openSysfsLine(cfg *HandshakeConfig) (transport.HandshakeLine, func() error, error) {
	line, err := transport.OpenSysfsLine(cfg.Path, cfg.ActiveLow)
	if err != nil {
		return nil, nil, err
	}
	return line, line.Close, nil
}
