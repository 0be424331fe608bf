package transport

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// TestableSerialPort implements TimeoutSerialPorter with configurable
// behaviour for testing. Reads can block, time out, fail once, or return
// fewer bytes than requested.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// ReadTimeout bounds how long a blocked read waits. Zero waits forever.
	ReadTimeout time.Duration

	// BlockReads makes Read wait for data instead of returning io.EOF.
	BlockReads bool

	// MaxReadChunk caps the bytes returned per Read to simulate short reads.
	MaxReadChunk int

	readCond *sync.Cond
}

// NewTestableSerialPort creates an empty, non-blocking TestableSerialPort.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// NewBlockingSerialPort returns a port whose reads wait for data and fail
// with ErrTimeout after timeout.
func NewBlockingSerialPort(timeout time.Duration) *TestableSerialPort {
	tsp := NewTestableSerialPort()
	tsp.BlockReads = true
	tsp.ReadTimeout = timeout
	return tsp
}

// Read returns buffered data. An empty buffer yields io.EOF unless
// BlockReads is set, in which case Read waits for AddReadData, Close or the
// read timeout.
func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.BlockReads && t.ReadBuffer.Len() == 0 && t.ReadError == nil {
		var deadline time.Time
		if t.ReadTimeout > 0 {
			deadline = time.Now().Add(t.ReadTimeout)
			timer := time.AfterFunc(t.ReadTimeout, func() {
				t.mu.Lock()
				t.readCond.Broadcast()
				t.mu.Unlock()
			})
			defer timer.Stop()
		}
		for !t.Closed && t.ReadBuffer.Len() == 0 && t.ReadError == nil {
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return 0, ErrTimeout
			}
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, ErrPortClosed
		}
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.MaxReadChunk > 0 && len(p) > t.MaxReadChunk {
		p = p[:t.MaxReadChunk]
	}
	return t.ReadBuffer.Read(p)
}

// Write captures p in WriteBuffer.
func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData appends data for subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// FailNextRead makes the next Read return err.
func (t *TestableSerialPort) FailNextRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}

// IsClosed reports whether Close was called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// Pending returns the number of unread bytes.
func (t *TestableSerialPort) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ReadBuffer.Len()
}

// MockSerialPortFactory implements SerialPortFactory for testing.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Ports are handed out by Open in order. Once exhausted, Port is used.
	Ports []SerialPorter

	// Port is the port to return from Open when Ports is empty
	Port SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

// NewMockSerialPortFactory returns a factory handing out ports in order.
func NewMockSerialPortFactory(ports ...SerialPorter) *MockSerialPortFactory {
	f := &MockSerialPortFactory{}
	if len(ports) > 0 {
		f.Ports = ports[:len(ports)-1]
		f.Port = ports[len(ports)-1]
	}
	return f
}

// Open returns the next configured port or Error.
func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Options: opts})

	if f.Error != nil {
		return nil, f.Error
	}
	if len(f.Ports) > 0 {
		p := f.Ports[0]
		f.Ports = f.Ports[1:]
		return p, nil
	}
	return f.Port, nil
}

// Calls returns the number of Open calls so far.
func (f *MockSerialPortFactory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.OpenCalls)
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}

// SimulatedPort streams frames produced by a generator at a fixed interval,
// standing in for a device on the bench.
type SimulatedPort struct {
	r    *io.PipeReader
	w    *io.PipeWriter
	done chan struct{}
	once sync.Once
}

// NewSimulatedPort starts a generator goroutine calling next every interval
// until the port is closed.
func NewSimulatedPort(interval time.Duration, next func() []byte) *SimulatedPort {
	r, w := io.Pipe()
	s := &SimulatedPort{r: r, w: w, done: make(chan struct{})}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				if _, err := w.Write(next()); err != nil {
					return
				}
			}
		}
	}()

	return s
}

func (s *SimulatedPort) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err == io.ErrClosedPipe {
		return n, ErrPortClosed
	}
	return n, err
}

// Write discards p; the simulated device ignores commands.
func (s *SimulatedPort) Write(p []byte) (int, error) { return len(p), nil }

func (s *SimulatedPort) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.r.Close()
	})
	return nil
}

// SimulatedPortFactory opens a fresh SimulatedPort on every Open.
type SimulatedPortFactory struct {
	Interval time.Duration
	Next     func() []byte
}

func (f SimulatedPortFactory) Open(string, PortOptions) (SerialPorter, error) {
	return NewSimulatedPort(f.Interval, f.Next), nil
}
