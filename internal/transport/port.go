// Package transport abstracts the serial link an ArduIMU streams over so the
// frame reader can run against real hardware, a simulator or a test double.
package transport

import (
	"errors"
	"io"
	"time"
)

var (
	// ErrTimeout is returned by Read when no byte arrived within the port's
	// read timeout.
	ErrTimeout = errors.New("serial read timed out")

	// ErrPortClosed is returned by reads on a closed test or simulated port.
	ErrPortClosed = errors.New("serial port closed")
)

// SerialPorter is the minimal interface the intake needs from a serial port.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter is implemented by ports whose reads give up after a
// configurable interval and report ErrTimeout.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortFactory opens serial ports. It is injected so that the device
// can be reopened against a fake in tests.
type SerialPortFactory interface {
	Open(path string, opts PortOptions) (SerialPorter, error)
}

// SerialPortOpener adapts a function to SerialPortFactory.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)

func (f SerialPortOpener) Open(path string, opts PortOptions) (SerialPorter, error) {
	return f(path, opts)
}
