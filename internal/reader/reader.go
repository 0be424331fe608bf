// Package reader turns the byte stream of an ArduIMU serial link into
// packets. A Reader owns its port for one session: it scans for a frame
// boundary, reads frames back to back while in sync, and stops for good on a
// read timeout or a lost stream.
package reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/arduimu/internal/monitoring"
	"github.com/banshee-data/arduimu/internal/packet"
	"github.com/banshee-data/arduimu/internal/transport"
)

// Header offsets checked when confirming a sync candidate.
const (
	offsetCode   = 1
	offsetLength = packet.HeaderSize - 1
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("reader: already running")

// Publisher receives every decoded packet. *store.Store satisfies it.
type Publisher interface {
	Publish(p *packet.Packet)
}

// Config holds the per-session reader settings.
type Config struct {
	// Mode selects binary frames or text lines.
	Mode Mode

	// FieldDelimiters separate text fields (default ",").
	FieldDelimiters string

	// SessionID tags log lines. A random id is generated when empty.
	SessionID string
}

// DefaultConfig returns a binary-mode configuration.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeBinary,
		FieldDelimiters: packet.DefaultFieldDelimiters,
	}
}

// Stats counts what a session has done so far.
type Stats struct {
	SessionID    string `json:"session_id"`
	State        State  `json:"state"`
	Packets      uint64 `json:"packets"`
	Resyncs      uint64 `json:"resyncs"`
	SkippedBytes uint64 `json:"skipped_bytes"`
}

// Reader decodes frames from a port and publishes them.
type Reader struct {
	port   transport.SerialPorter
	br     *bufio.Reader
	pub    Publisher
	config Config
	logf   func(format string, v ...interface{})

	state     atomic.Int32
	connected atomic.Bool
	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	packets atomic.Uint64
	resyncs atomic.Uint64
	skipped atomic.Uint64
}

// New returns a Reader for an open port. The reader reports connected until
// it disconnects or is closed.
func New(port transport.SerialPorter, pub Publisher, cfg Config) *Reader {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.FieldDelimiters == "" {
		cfg.FieldDelimiters = packet.DefaultFieldDelimiters
	}
	r := &Reader{
		port:   port,
		br:     bufio.NewReaderSize(port, 4*packet.MaxPacketSize),
		pub:    pub,
		config: cfg,
		logf:   monitoring.Tagged("reader %.8s", cfg.SessionID),
		done:   make(chan struct{}),
	}
	r.state.Store(int32(OutOfSync))
	r.connected.Store(true)
	return r
}

// SessionID returns the id the reader logs under.
func (r *Reader) SessionID() string { return r.config.SessionID }

// State returns the current synchronisation state.
func (r *Reader) State() State { return State(r.state.Load()) }

// Connected reports whether the session is still live.
func (r *Reader) Connected() bool { return r.connected.Load() }

// Done is closed when Run returns.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Stats returns a snapshot of the session counters.
func (r *Reader) Stats() Stats {
	return Stats{
		SessionID:    r.config.SessionID,
		State:        r.State(),
		Packets:      r.packets.Load(),
		Resyncs:      r.resyncs.Load(),
		SkippedBytes: r.skipped.Load(),
	}
}

func (r *Reader) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	if s == Disconnected {
		r.connected.Store(false)
	}
	if prev != s {
		r.logf("%s -> %s", prev, s)
	}
}

// Run reads until the session ends and returns the cause: the transport
// error that disconnected it, ctx.Err() on cancellation, or nil after Close.
// A read timeout leaves the port open; Close and cancellation close it so a
// blocked read returns promptly.
func (r *Reader) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(r.done)

	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	r.logf("session started (%s mode)", r.config.Mode)

	var err error
	if r.config.Mode == ModeText {
		err = r.runText(ctx)
	} else {
		err = r.runBinary(ctx)
	}
	r.setState(Disconnected)

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case r.closed.Load():
		return nil
	}
	r.logf("session ended: %v", err)
	return err
}

// Close ends the session and closes the port. It is safe to call more than
// once and from any goroutine.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.connected.Store(false)
		r.closeErr = r.port.Close()
	})
	return r.closeErr
}

func (r *Reader) stopping(ctx context.Context) bool {
	return r.closed.Load() || ctx.Err() != nil
}

func (r *Reader) publish(p *packet.Packet) {
	r.packets.Add(1)
	r.pub.Publish(p)
}

func (r *Reader) runBinary(ctx context.Context) error {
	buf := make([]byte, packet.MaxPacketSize)
	for !r.stopping(ctx) {
		switch r.State() {
		case OutOfSync:
			p, err := r.resync()
			if err != nil {
				return fmt.Errorf("resync: %w", err)
			}
			r.resyncs.Add(1)
			r.setState(InSync)
			r.publish(p)

		case InSync:
			p, err := r.readFrame(buf)
			if err != nil {
				if errors.Is(err, transport.ErrTimeout) || r.stopping(ctx) {
					return err
				}
				r.logf("read failed: %v", err)
				r.setState(OutOfSync)
				continue
			}
			r.publish(p)

		default:
			return nil
		}
	}
	return nil
}

// resync slides a header-sized window over the stream until it finds a
// frame of a fixed-size variant whose declared length matches, then consumes
// and decodes that frame. Opaque variants never start a sync since any length
// byte is plausible for them. When the bytes after the candidate are already
// buffered they must begin another plausible header. Rejected candidates
// advance the window by one byte, so a real frame overlapping a false
// candidate is still found.
func (r *Reader) resync() (*packet.Packet, error) {
	var skipped uint64
	defer func() {
		if skipped > 0 {
			r.skipped.Add(skipped)
			r.logf("skipped %d bytes before frame boundary", skipped)
		}
	}()

	for {
		if r.closed.Load() {
			return nil, transport.ErrPortClosed
		}
		hdr, err := r.br.Peek(packet.HeaderSize)
		if err != nil {
			return nil, err
		}
		h := packet.ParseHeader(hdr)
		if !r.plausible(h) {
			r.br.Discard(1)
			skipped++
			continue
		}

		frame := make([]byte, packet.HeaderSize+h.PayloadLength)
		if _, err := io.ReadFull(r.br, frame); err != nil {
			return nil, err
		}
		p, err := packet.DecodeBinary(frame)
		if err != nil || !packet.KnownCode(p.Header.Code) {
			skipped += uint64(len(frame))
			continue
		}
		return p, nil
	}
}

// plausible reports whether h can start a sync. It looks only at bytes that
// are already buffered, so it never blocks.
func (r *Reader) plausible(h packet.Header) bool {
	want, fixed := h.Variant.PayloadLength()
	if !fixed || !packet.KnownCode(h.Code) || h.PayloadLength != want {
		return false
	}

	next := packet.HeaderSize + want
	buf, _ := r.br.Peek(min(r.br.Buffered(), next+packet.HeaderSize))
	if len(buf) <= next+offsetCode {
		return true
	}
	code := buf[next+offsetCode]
	if !packet.KnownCode(code) {
		return false
	}
	if len(buf) <= next+offsetLength {
		return true
	}
	if n, ok := packet.VariantFor(code).PayloadLength(); ok && int(buf[next+offsetLength]) != n {
		return false
	}
	return true
}

// readFrame reads exactly one header and its declared payload into buf.
func (r *Reader) readFrame(buf []byte) (*packet.Packet, error) {
	hdr := buf[:packet.HeaderSize]
	if _, err := io.ReadFull(r.br, hdr); err != nil {
		return nil, err
	}
	frame := buf[:packet.HeaderSize+int(hdr[packet.HeaderSize-1])]
	if _, err := io.ReadFull(r.br, frame[packet.HeaderSize:]); err != nil {
		return nil, err
	}
	return packet.DecodeBinary(frame)
}

// runText reads newline-terminated frames. A line that does not decode is
// skipped; any transport error ends the session.
func (r *Reader) runText(ctx context.Context) error {
	for !r.stopping(ctx) {
		line, err := r.br.ReadString('\n')
		if err != nil {
			return err
		}
		p, err := packet.DecodeText(line, r.config.FieldDelimiters)
		if err != nil {
			r.skipped.Add(uint64(len(line)))
			continue
		}
		if r.State() == OutOfSync {
			r.resyncs.Add(1)
			r.setState(InSync)
		}
		r.publish(p)
	}
	return nil
}
