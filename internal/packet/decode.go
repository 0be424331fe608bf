package packet

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/arduimu/internal/codec"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// decoder holds the decode routines for one variant. A new variant needs one
// entry in decoders and its two routines.
type decoder struct {
	// payloadLength is the binary payload size, or 0 when it is not fixed.
	payloadLength int
	binary        func(payload []byte) Payload
	text          func(fields []string) Payload
}

var decoders = map[Variant]decoder{
	VariantOrientation: {
		payloadLength: 8,
		binary:        decodeOrientationBinary,
		text:          decodeOrientationText,
	},
	VariantAcceleration: {
		payloadLength: 6,
		binary:        decodeAccelerationBinary,
		text:          decodeAccelerationText,
	},
	VariantControl: {binary: decodeRawBinary, text: decodeRawText},
	VariantUnknown: {binary: decodeRawBinary, text: decodeRawText},
}

func decoderFor(v Variant) decoder {
	if d, ok := decoders[v]; ok {
		return d
	}
	return decoders[VariantUnknown]
}

// ParseHeader decodes the first HeaderSize bytes of b. The caller must pass at
// least HeaderSize bytes.
func ParseHeader(b []byte) Header {
	h := Header{
		Version:       int(b[offsetVersion]),
		Code:          b[offsetCode],
		Variant:       VariantFor(b[offsetCode]),
		SensorID:      int(b[offsetSensorID]),
		Timestamp:     Sentinel,
		PayloadLength: int(b[offsetLength]),
	}
	// The firmware header comment calls the timestamp big-endian but the
	// deployed readers have always decoded it little-endian. Keep that until
	// captures say otherwise.
	if ts, err := codec.BytesToUnsignedInt(b[offsetTimestamp:offsetLength], false); err == nil {
		h.Timestamp = int64(ts)
	}
	return h
}

// DecodeBinary decodes a complete binary frame (header and payload).
func DecodeBinary(frame []byte) (*Packet, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}
	h := ParseHeader(frame)
	payload := append([]byte(nil), frame[HeaderSize:]...)
	return &Packet{
		Header:  h,
		Payload: decoderFor(h.Variant).binary(payload),
	}, nil
}

// DecodeText decodes one text frame. delims lists the field separators; an
// empty string selects DefaultFieldDelimiters.
func DecodeText(line string, delims string) (*Packet, error) {
	if delims == "" {
		delims = DefaultFieldDelimiters
	}
	fields := splitFields(strings.TrimRight(line, "\r\n"), delims)
	if len(fields) <= TextPayloadOffset {
		return nil, fmt.Errorf("%w: %d fields", ErrShortFrame, len(fields))
	}

	var code byte
	if c := strings.TrimSpace(fields[1]); len(c) == 1 {
		code = c[0]
	}
	h := Header{
		Version:       atoiOrSentinel(fields[0]),
		Code:          code,
		Variant:       VariantFor(code),
		SensorID:      atoiOrSentinel(fields[2]),
		Timestamp:     Sentinel,
		PayloadLength: len(fields) - TextPayloadOffset,
	}
	payload := append([]string(nil), fields[TextPayloadOffset:]...)
	return &Packet{
		Header:  h,
		Payload: decoderFor(h.Variant).text(payload),
	}, nil
}

// splitFields splits s on any rune in delims, keeping empty fields so that
// positions stay stable.
func splitFields(s, delims string) []string {
	var fields []string
	start := 0
	for i, r := range s {
		if strings.ContainsRune(delims, r) {
			fields = append(fields, s[start:i])
			start = i + len(string(r))
		}
	}
	return append(fields, s[start:])
}

func atoiOrSentinel(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return Sentinel
	}
	return n
}

// fixedField reads the i-th little-endian int16 of payload and scales it.
func fixedField(payload []byte, i int, scale float64) (float64, bool) {
	lo := 2 * i
	if lo+2 > len(payload) {
		return Sentinel, false
	}
	v, err := codec.BytesToSignedInt(payload[lo:lo+2], false)
	if err != nil {
		return Sentinel, false
	}
	return float64(v) / scale, true
}

// hexField reads the i-th text payload field as a hex float.
func hexField(fields []string, i int) float64 {
	if i >= len(fields) {
		return Sentinel
	}
	f, err := codec.HexFloatToFloat(fields[i])
	if err != nil {
		return Sentinel
	}
	return float64(f)
}

func decodeOrientationBinary(payload []byte) Payload {
	w, _ := fixedField(payload, 0, OrientationScale)
	x, okX := fixedField(payload, 1, OrientationScale)
	y, _ := fixedField(payload, 2, OrientationScale)
	z, okZ := fixedField(payload, 3, OrientationScale)
	// The sensor frame has the opposite handedness on x and z.
	if okX {
		x = -x
	}
	if okZ {
		z = -z
	}
	return OrientationPayload{Orientation: quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}}
}

func decodeOrientationText(fields []string) Payload {
	q := quat.Number{
		Real: hexField(fields, 0),
		Imag: hexField(fields, 1),
		Jmag: hexField(fields, 2),
		Kmag: hexField(fields, 3),
	}
	return OrientationPayload{Orientation: normalize(q)}
}

func decodeAccelerationBinary(payload []byte) Payload {
	x, _ := fixedField(payload, 0, AccelerationScale)
	y, _ := fixedField(payload, 1, AccelerationScale)
	z, _ := fixedField(payload, 2, AccelerationScale)
	return AccelerationPayload{Acceleration: r3.Vec{X: x, Y: y, Z: z}}
}

func decodeAccelerationText(fields []string) Payload {
	return AccelerationPayload{Acceleration: r3.Vec{
		X: hexField(fields, 0),
		Y: hexField(fields, 1),
		Z: hexField(fields, 2),
	}}
}

func decodeRawBinary(payload []byte) Payload {
	return RawPayload{Bytes: payload}
}

func decodeRawText(fields []string) Payload {
	return RawPayload{Fields: fields}
}

// normalize scales q to unit length. Near-zero input yields the zero
// quaternion rather than amplifying noise.
func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n < 1e-5 || math.IsNaN(n) {
		return quat.Number{}
	}
	return quat.Scale(1/n, q)
}
