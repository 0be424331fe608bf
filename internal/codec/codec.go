// Package codec converts between wire bytes and the integer and float values
// carried in ArduIMU frames.
package codec

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrRange is returned when more than four bytes are offered for an
	// integer conversion.
	ErrRange = errors.New("codec: integer fields are at most 4 bytes")

	// ErrFormat is returned when a text field is not a valid hex float.
	ErrFormat = errors.New("codec: malformed hex float")
)

// shift returns the bit offset for byte i of an n-byte integer.
func shift(i, n int, bigEndian bool) uint {
	if bigEndian {
		return uint(8 * (n - i - 1))
	}
	return uint(8 * i)
}

// BytesToUnsignedInt assembles up to four bytes into an unsigned integer.
func BytesToUnsignedInt(b []byte, bigEndian bool) (uint32, error) {
	if len(b) > 4 {
		return 0, fmt.Errorf("%w: got %d", ErrRange, len(b))
	}
	var result uint32
	for i, v := range b {
		result |= uint32(v) << shift(i, len(b), bigEndian)
	}
	return result, nil
}

// BytesToSignedInt assembles up to four bytes into a two's-complement
// integer, sign-extending when fewer than four bytes are given.
func BytesToSignedInt(b []byte, bigEndian bool) (int32, error) {
	u, err := BytesToUnsignedInt(b, bigEndian)
	if err != nil {
		return 0, err
	}
	n := len(b)
	if n == 0 || n == 4 {
		return int32(u), nil
	}
	msb := b[n-1]
	if bigEndian {
		msb = b[0]
	}
	if msb&0x80 != 0 {
		u |= ^uint32(0) << (8 * uint(n))
	}
	return int32(u), nil
}

// IntToBytes splits x into its four constituent bytes.
func IntToBytes(x int32, bigEndian bool) [4]byte {
	var out [4]byte
	u := uint32(x)
	for i := range out {
		out[i] = byte(u >> shift(i, 4, bigEndian))
	}
	return out
}

// HexFloatToFloat parses a hex token holding the big-endian bit pattern of an
// IEEE-754 single precision value, e.g. "3f800000" is 1.0.
func HexFloatToFloat(hex string) (float32, error) {
	s := strings.TrimSpace(hex)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s) > 8 {
		return 0, fmt.Errorf("%w: %q", ErrFormat, hex)
	}
	bits, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrFormat, hex)
	}
	return math.Float32frombits(uint32(bits)), nil
}

// FloatToHex is the inverse of HexFloatToFloat.
func FloatToHex(f float32) string {
	return fmt.Sprintf("%08x", math.Float32bits(f))
}

// Concat returns a new slice holding a followed by b.
func Concat(a, b []byte) []byte {
	c := make([]byte, 0, len(a)+len(b))
	c = append(c, a...)
	return append(c, b...)
}
