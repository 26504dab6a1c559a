//go:build linux

package transport

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	sysfsHigh = []byte{'1'}
	sysfsLow  = []byte{'0'}
)

var _ HandshakeLine = (*SysfsLine)(nil)

// SysfsLine drives a GPIO through its sysfs value file
// (e.g. /sys/class/gpio/gpio17/value).
// The GPIO must already be exported and configured as an output.
type SysfsLine struct {
	mux sync.Mutex

	path string
	fd   int

	activeLow bool
}

// OpenSysfsLine opens the value file of a GPIO.
// When activeLow is set, a high logical level is written as 0.
func OpenSysfsLine(path string, activeLow bool) (*SysfsLine, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open handshake line %s: %w", path, err)
	}

	return &SysfsLine{
		path: path,
		fd:   fd,

		activeLow: activeLow,
	}, nil
}

// Set writes the level into the value file.
func (l *SysfsLine) Set(high bool) error {
	l.mux.Lock()
	defer l.mux.Unlock()

	if l.fd < 0 {
		return fmt.Errorf("handshake line %s: %w", l.path, ErrBadState)
	}

	value := sysfsLow
	if high != l.activeLow {
		value = sysfsHigh
	}

	if _, err := unix.Pwrite(l.fd, value, 0); err != nil {
		return fmt.Errorf("write handshake line %s: %w", l.path, err)
	}

	return nil
}

// Path returns the path of the value file.
func (l *SysfsLine) Path() string {
	return l.path
}

// Close closes the value file.
func (l *SysfsLine) Close() error {
	l.mux.Lock()
	defer l.mux.Unlock()

	if l.fd < 0 {
		return nil
	}

	err := unix.Close(l.fd)
	l.fd = -1

	return err
}
