package packet

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/arduimu/internal/codec"
)

// EncodeBinary builds the wire frame the firmware would send for h and p.
// Physical values are rounded to the variant's fixed-point scale and clamped
// to int16. h.PayloadLength is ignored; the length byte is derived from p.
func EncodeBinary(h Header, p Payload) ([]byte, error) {
	var payload []byte
	switch pl := p.(type) {
	case OrientationPayload:
		q := pl.Orientation
		for _, v := range []float64{q.Real, -q.Imag, q.Jmag, -q.Kmag} {
			payload = appendFixed(payload, v, OrientationScale)
		}
	case AccelerationPayload:
		a := pl.Acceleration
		for _, v := range []float64{a.X, a.Y, a.Z} {
			payload = appendFixed(payload, v, AccelerationScale)
		}
	case RawPayload:
		payload = append(payload, pl.Bytes...)
	case nil:
	default:
		return nil, fmt.Errorf("packet: cannot encode payload %T", p)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("packet: payload of %d bytes exceeds %d", len(payload), MaxPayloadSize)
	}

	code := h.Code
	if code == 0 {
		code = byte(h.Variant)
	}
	ts := codec.IntToBytes(int32(uint32(h.Timestamp)), false)
	header := []byte{
		byte(h.Version), code, byte(h.SensorID),
		ts[0], ts[1], ts[2], ts[3],
		byte(len(payload)),
	}
	return codec.Concat(header, payload), nil
}

func appendFixed(b []byte, v, scale float64) []byte {
	n := math.Round(v * scale)
	n = math.Max(math.MinInt16, math.Min(math.MaxInt16, n))
	le := codec.IntToBytes(int32(n), false)
	return append(b, le[0], le[1])
}

// EncodeText builds a text frame (without the trailing newline) joined with
// delim, which defaults to ",".
func EncodeText(h Header, p Payload, delim string) string {
	if delim == "" {
		delim = DefaultFieldDelimiters
	}
	code := h.Code
	if code == 0 {
		code = byte(h.Variant)
	}
	fields := []string{strconv.Itoa(h.Version), string(rune(code)), strconv.Itoa(h.SensorID)}
	switch pl := p.(type) {
	case OrientationPayload:
		q := pl.Orientation
		for _, v := range []float64{q.Real, q.Imag, q.Jmag, q.Kmag} {
			fields = append(fields, codec.FloatToHex(float32(v)))
		}
	case AccelerationPayload:
		a := pl.Acceleration
		for _, v := range []float64{a.X, a.Y, a.Z} {
			fields = append(fields, codec.FloatToHex(float32(v)))
		}
	case RawPayload:
		fields = append(fields, pl.Fields...)
	}
	return strings.Join(fields, delim)
}
