// Package orientation turns absolute orientation samples into incremental
// yaw relative to a resettable per-sensor reference.
package orientation

import (
	"sync"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/arduimu/internal/monitoring"
	"github.com/banshee-data/arduimu/internal/packet"
)

// Source yields the last packet of a stream. *store.Store satisfies it.
type Source interface {
	Get(sensorID int, variant packet.Variant) (*packet.Packet, bool)
}

type reference struct {
	q   quat.Number
	set bool
}

// Engine tracks one reference orientation per sensor. Each sensor id is
// expected to have a single driver calling RotationDelta once per frame.
type Engine struct {
	src  Source
	logf func(format string, v ...interface{})

	mu             sync.Mutex
	refs           map[int]reference
	lookupFailures uint64
	warned         map[int]bool
}

// NewEngine returns an Engine reading samples from src.
func NewEngine(src Source) *Engine {
	return &Engine{
		src:    src,
		logf:   monitoring.Tagged("orientation"),
		refs:   make(map[int]reference),
		warned: make(map[int]bool),
	}
}

// ResetReference marks the sensor's reference unset. The next RotationDelta
// adopts the current orientation as the reference and returns 0.
func (e *Engine) ResetReference(sensorID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs[sensorID] = reference{}
	delete(e.warned, sensorID)
}

// Orientation returns the sensor's last orientation sample, or Identity.
func (e *Engine) Orientation(sensorID int) quat.Number {
	p, ok := e.src.Get(sensorID, packet.VariantOrientation)
	if !ok {
		return Identity
	}
	q, ok := p.Orientation()
	if !ok {
		return Identity
	}
	return q
}

// RotationDelta returns the signed yaw in degrees since the previous call for
// the sensor and moves the reference to the current orientation. A sensor
// that was never reset has no reference; the call returns 0 and counts a
// lookup failure.
func (e *Engine) RotationDelta(sensorID int) float64 {
	current := e.Orientation(sensorID)

	e.mu.Lock()
	defer e.mu.Unlock()

	ref, ok := e.refs[sensorID]
	if !ok {
		e.lookupFailures++
		if !e.warned[sensorID] {
			e.warned[sensorID] = true
			e.logf("no reference for sensor %d; call ResetReference first", sensorID)
		}
		return 0
	}
	e.refs[sensorID] = reference{q: current, set: true}
	if !ref.set {
		return 0
	}
	return SignedYaw(Relative(ref.q, current))
}

// Reference returns the sensor's reference orientation and whether it is set.
func (e *Engine) Reference(sensorID int) (quat.Number, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref := e.refs[sensorID]
	return ref.q, ref.set
}

// LookupFailures counts RotationDelta calls for sensors without a reference.
func (e *Engine) LookupFailures() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookupFailures
}
