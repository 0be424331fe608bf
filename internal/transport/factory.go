package transport

import (
	"fmt"

	"go.bug.st/serial"
)

// RealSerialPortFactory opens hardware ports through go.bug.st/serial.
type RealSerialPortFactory struct{}

// Open opens path with opts and arms the read timeout.
func (RealSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	opts, err := opts.Normalise()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flush %s: %w", path, err)
	}
	return &hardwarePort{Port: port}, nil
}

// hardwarePort turns the (0, nil) result go.bug.st/serial reports on a read
// timeout into ErrTimeout.
type hardwarePort struct {
	serial.Port
}

func (p *hardwarePort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if err == nil && n == 0 && len(b) > 0 {
		return 0, ErrTimeout
	}
	return n, err
}
