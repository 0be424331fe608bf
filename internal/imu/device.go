// Package imu is the query surface a host polls once per frame: it owns the
// serial session, the packet store and the orientation engine, and never
// blocks the caller on I/O.
package imu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/arduimu/internal/config"
	"github.com/banshee-data/arduimu/internal/monitoring"
	"github.com/banshee-data/arduimu/internal/orientation"
	"github.com/banshee-data/arduimu/internal/packet"
	"github.com/banshee-data/arduimu/internal/reader"
	"github.com/banshee-data/arduimu/internal/store"
	"github.com/banshee-data/arduimu/internal/timeutil"
	"github.com/banshee-data/arduimu/internal/transport"
)

// ErrNotOpened is returned by Reconnect before the first Open.
var ErrNotOpened = errors.New("imu: device was never opened")

// Config holds the device settings.
type Config struct {
	// Options are the serial parameters; BaudRate is overridden by Open.
	Options transport.PortOptions

	// Reader configures each session's frame reader.
	Reader reader.Config

	// ReconnectInterval is the minimum time between Reconnect attempts.
	ReconnectInterval time.Duration

	// SensorIDs are the sensors whose references Reconnect re-arms when
	// called without ids.
	SensorIDs []int
}

// DefaultConfig returns binary mode with a 5 second reconnect interval.
func DefaultConfig() Config {
	return Config{
		Reader:            reader.DefaultConfig(),
		ReconnectInterval: 5 * time.Second,
		SensorIDs:         []int{0},
	}
}

// ConfigFromIntake converts the JSON intake configuration.
func ConfigFromIntake(c *config.IntakeConfig) Config {
	return Config{
		Options:           c.PortOptions(),
		Reader:            c.ReaderConfig(),
		ReconnectInterval: c.GetReconnectInterval(),
		SensorIDs:         c.GetSensorIDs(),
	}
}

// Status describes the device for the debug pages.
type Status struct {
	Endpoint    string        `json:"endpoint"`
	BaudRate    int           `json:"baud_rate"`
	Connected   bool          `json:"connected"`
	Sessions    int           `json:"sessions"`
	LastError   string        `json:"last_error,omitempty"`
	Session     *reader.Stats `json:"session,omitempty"`
	Streams     int           `json:"streams"`
	LookupFails uint64        `json:"lookup_failures"`
}

// Device is an ArduIMU attached over a serial link.
type Device struct {
	config  Config
	factory transport.SerialPortFactory
	clock   timeutil.Clock
	store   *store.Store
	engine  *orientation.Engine
	logf    func(format string, v ...interface{})

	mu          sync.Mutex
	endpoint    string
	baudRate    int
	opened      bool
	session     atomic.Pointer[reader.Reader] // written under mu
	sessions    int
	lastErr     error
	lastAttempt time.Time
}

// NewDevice returns a closed device. A nil factory opens real hardware and a
// nil clock reads the system clock.
func NewDevice(cfg Config, factory transport.SerialPortFactory, clock timeutil.Clock) *Device {
	if factory == nil {
		factory = transport.RealSerialPortFactory{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultConfig().ReconnectInterval
	}
	s := store.New(clock)
	return &Device{
		config:  cfg,
		factory: factory,
		clock:   clock,
		store:   s,
		engine:  orientation.NewEngine(s),
		logf:    monitoring.Tagged("imu"),
	}
}

// Open connects to endpoint at baudRate and starts a reader session. Any
// previous session is closed first.
func (d *Device) Open(endpoint string, baudRate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.endpoint = endpoint
	d.baudRate = baudRate
	d.opened = true
	return d.openLocked()
}

// openLocked closes the current session without waiting for its reader to
// exit and starts a new one.
func (d *Device) openLocked() error {
	d.detachLocked()

	opts := d.config.Options
	opts.BaudRate = d.baudRate
	port, err := d.factory.Open(d.endpoint, opts)
	if err != nil {
		d.lastErr = err
		d.logf("open %s at %d baud failed: %v", d.endpoint, d.baudRate, err)
		return fmt.Errorf("imu: %w", err)
	}

	rd := reader.New(port, d.store, d.config.Reader)
	d.session.Store(rd)
	d.sessions++
	d.lastErr = nil
	d.logf("opened %s at %d baud, session %s", d.endpoint, d.baudRate, rd.SessionID())

	go func() {
		if err := rd.Run(context.Background()); err != nil {
			d.recordError(rd, err)
		}
	}()
	return nil
}

func (d *Device) recordError(rd *reader.Reader, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session.Load() == rd {
		d.lastErr = err
	}
}

// Close ends the current session and closes the port. It waits for the
// reader goroutine to exit without holding the device lock, so queries stay
// non-blocking meanwhile.
func (d *Device) Close() error {
	d.mu.Lock()
	rd, err := d.detachLocked()
	d.mu.Unlock()

	if rd != nil {
		<-rd.Done()
	}
	return err
}

// detachLocked clears the current session and closes its port.
func (d *Device) detachLocked() (*reader.Reader, error) {
	rd := d.session.Swap(nil)
	if rd == nil {
		return nil, nil
	}
	return rd, rd.Close()
}

// IsConnected reports whether a session is open and has not disconnected.
func (d *Device) IsConnected() bool {
	rd := d.session.Load()
	return rd != nil && rd.Connected()
}

// Reconnect reopens the last endpoint when the session has dropped, at most
// once per ReconnectInterval, and re-arms the reference of each sensor in
// ids (the configured SensorIDs when none are given). It reports whether an
// attempt was made.
func (d *Device) Reconnect(ids ...int) (bool, error) {
	if d.IsConnected() {
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.opened {
		return false, ErrNotOpened
	}
	now := d.clock.Now()
	if !d.lastAttempt.IsZero() && now.Sub(d.lastAttempt) < d.config.ReconnectInterval {
		return false, nil
	}
	d.lastAttempt = now

	if err := d.openLocked(); err != nil {
		return true, err
	}
	if len(ids) == 0 {
		ids = d.config.SensorIDs
	}
	for _, id := range ids {
		d.engine.ResetReference(id)
	}
	return true, nil
}

// LastPacket returns the latest packet of the stream.
func (d *Device) LastPacket(sensorID int, variant packet.Variant) (*packet.Packet, bool) {
	return d.store.Get(sensorID, variant)
}

// LastLatency returns the device-clock gap between the stream's last two
// packets, or -1.
func (d *Device) LastLatency(sensorID int, variant packet.Variant) int64 {
	return d.store.Latency(sensorID, variant)
}

// ResetRotation makes the next RotationChange for the sensor return 0 and
// measure from the orientation at that moment.
func (d *Device) ResetRotation(sensorID int) {
	d.engine.ResetReference(sensorID)
}

// RotationChange returns the signed yaw in degrees since the previous call.
func (d *Device) RotationChange(sensorID int) float64 {
	return d.engine.RotationDelta(sensorID)
}

// Orientation returns the sensor's latest orientation, or the identity.
func (d *Device) Orientation(sensorID int) quat.Number {
	return d.engine.Orientation(sensorID)
}

// Acceleration returns the sensor's latest acceleration sample.
func (d *Device) Acceleration(sensorID int) (r3.Vec, bool) {
	p, ok := d.store.Get(sensorID, packet.VariantAcceleration)
	if !ok {
		return r3.Vec{}, false
	}
	return p.Acceleration()
}

// UnwoundAcceleration returns the latest acceleration expressed in the
// sensor's reference frame.
func (d *Device) UnwoundAcceleration(sensorID int) (r3.Vec, bool) {
	a, ok := d.Acceleration(sensorID)
	if !ok {
		return r3.Vec{}, false
	}
	return orientation.Unwind(a, d.Orientation(sensorID)), true
}

// Store exposes the packet store for read-only consumers.
func (d *Device) Store() *store.Store { return d.store }

// Status returns a snapshot for diagnostics.
func (d *Device) Status() Status {
	d.mu.Lock()
	st := Status{
		Endpoint: d.endpoint,
		BaudRate: d.baudRate,
		Sessions: d.sessions,
	}
	if d.lastErr != nil {
		st.LastError = d.lastErr.Error()
	}
	d.mu.Unlock()

	rd := d.session.Load()

	if rd != nil {
		stats := rd.Stats()
		st.Session = &stats
		st.Connected = rd.Connected()
	}
	st.Streams = d.store.Len()
	st.LookupFails = d.engine.LookupFailures()
	return st
}
