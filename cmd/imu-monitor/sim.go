package main

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/arduimu/internal/codec"
	"github.com/banshee-data/arduimu/internal/packet"
	"github.com/banshee-data/arduimu/internal/reader"
)

// simulator stands in for a board on the bench: one sensor spinning about z
// at a constant rate with gravity plus a small forward push.
type simulator struct {
	mu      sync.Mutex
	sensor  int
	mode    reader.Mode
	delim   string
	stepMS  int64
	degStep float64

	ts  int64
	yaw float64
}

func newSimulator(sensor int, mode reader.Mode, delim string, stepMS int64) *simulator {
	if delim == "" {
		delim = packet.DefaultFieldDelimiters
	}
	return &simulator{sensor: sensor, mode: mode, delim: delim, stepMS: stepMS, degStep: 2}
}

// next returns one orientation frame followed by one acceleration frame.
func (s *simulator) next() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ts += s.stepMS
	s.yaw = math.Mod(s.yaw+s.degStep, 360)

	half := s.yaw * math.Pi / 360
	q := quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)}
	a := r3.Vec{X: 0.25, Z: 9.81}

	oh := packet.Header{Version: 1, Variant: packet.VariantOrientation, SensorID: s.sensor, Timestamp: s.ts}
	ah := packet.Header{Version: 1, Variant: packet.VariantAcceleration, SensorID: s.sensor, Timestamp: s.ts}

	if s.mode == reader.ModeText {
		d := s.delim[:1]
		return []byte(packet.EncodeText(oh, packet.OrientationPayload{Orientation: q}, d) + "\n" +
			packet.EncodeText(ah, packet.AccelerationPayload{Acceleration: a}, d) + "\n")
	}

	of, err := packet.EncodeBinary(oh, packet.OrientationPayload{Orientation: q})
	if err != nil {
		return nil
	}
	af, err := packet.EncodeBinary(ah, packet.AccelerationPayload{Acceleration: a})
	if err != nil {
		return nil
	}
	return codec.Concat(of, af)
}
