// Package packet models the frames an ArduIMU emits: a fixed header followed
// by a variant-specific payload. Decoding never aborts on a bad field; the
// field is replaced by the -1 sentinel so the header stays usable.
package packet

import (
	"errors"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// HeaderSize is the size of a binary header in bytes.
	HeaderSize = 8

	// MaxPayloadSize is the largest payload a one-byte length can declare.
	MaxPayloadSize = 255

	// MaxPacketSize bounds a complete binary frame.
	MaxPacketSize = HeaderSize + MaxPayloadSize

	// TextPayloadOffset is the index of the first payload field in a text
	// frame (version, code and sensor id precede it).
	TextPayloadOffset = 3

	// Sentinel replaces fields that could not be decoded.
	Sentinel = -1

	// OrientationScale converts fixed-point quaternion parts to float.
	OrientationScale = 16384.0

	// AccelerationScale converts fixed-point acceleration to m/s².
	AccelerationScale = 100.0
)

// Header offsets within a binary frame.
const (
	offsetVersion   = 0
	offsetCode      = 1
	offsetSensorID  = 2
	offsetTimestamp = 3
	offsetLength    = 7
)

// DefaultFieldDelimiters separate fields in a text frame.
const DefaultFieldDelimiters = ","

// ErrShortFrame is returned when a frame is too short to hold a header.
var ErrShortFrame = errors.New("packet: frame shorter than header")

// Header holds the fields common to every packet. Integer fields are widened
// so that the -1 sentinel is representable.
type Header struct {
	Version       int
	Code          byte
	Variant       Variant
	SensorID      int
	Timestamp     int64
	PayloadLength int
}

// Payload is the variant-specific part of a packet. The set of
// implementations is closed: OrientationPayload, AccelerationPayload and
// RawPayload.
type Payload interface {
	isPayload()
}

// OrientationPayload is an absolute orientation sample.
type OrientationPayload struct {
	Orientation quat.Number
}

// AccelerationPayload is a linear acceleration sample.
type AccelerationPayload struct {
	Acceleration r3.Vec
}

// RawPayload keeps the undecoded payload of unknown and control packets.
type RawPayload struct {
	Bytes  []byte
	Fields []string
}

func (OrientationPayload) isPayload()  {}
func (AccelerationPayload) isPayload() {}
func (RawPayload) isPayload()          {}

// Packet is a decoded frame. Packets are never modified after construction;
// a newer sample replaces the whole value.
type Packet struct {
	Header  Header
	Payload Payload
}

// Variant is a shorthand for p.Header.Variant.
func (p *Packet) Variant() Variant { return p.Header.Variant }

// SensorID is a shorthand for p.Header.SensorID.
func (p *Packet) SensorID() int { return p.Header.SensorID }

// Timestamp is a shorthand for p.Header.Timestamp.
func (p *Packet) Timestamp() int64 { return p.Header.Timestamp }

// Orientation returns the quaternion of an orientation packet.
func (p *Packet) Orientation() (quat.Number, bool) {
	if p == nil {
		return quat.Number{}, false
	}
	o, ok := p.Payload.(OrientationPayload)
	return o.Orientation, ok
}

// Acceleration returns the vector of an acceleration packet.
func (p *Packet) Acceleration() (r3.Vec, bool) {
	if p == nil {
		return r3.Vec{}, false
	}
	a, ok := p.Payload.(AccelerationPayload)
	return a.Acceleration, ok
}
