// Package testutil provides shared test utilities and fixtures.
//
// Frame fixtures are built with the packet encoders so tests describe frames
// by value rather than by hand-assembled bytes.
package testutil

import (
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/arduimu/internal/packet"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewLocalRequest creates a test request that appears to come from
// localhost, which tsweb requires for /debug/ routes.
func NewLocalRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// Eventually polls cond every few milliseconds until it holds or timeout
// elapses, and fails the test in the latter case.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %v: %s", timeout, msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// YawQuat returns a rotation of deg degrees about the vertical axis.
func YawQuat(deg float64) quat.Number {
	return quat.Number(r3.NewRotation(deg*math.Pi/180, r3.Vec{Z: 1}))
}

// Frame encodes a binary frame and panics if the payload cannot be encoded.
func Frame(h packet.Header, p packet.Payload) []byte {
	b, err := packet.EncodeBinary(h, p)
	if err != nil {
		panic(err)
	}
	return b
}

// OrientationFrame encodes a version 1 orientation frame.
func OrientationFrame(sensorID int, ts int64, q quat.Number) []byte {
	return Frame(
		packet.Header{Version: 1, Variant: packet.VariantOrientation, SensorID: sensorID, Timestamp: ts},
		packet.OrientationPayload{Orientation: q},
	)
}

// AccelerationFrame encodes a version 1 acceleration frame.
func AccelerationFrame(sensorID int, ts int64, a r3.Vec) []byte {
	return Frame(
		packet.Header{Version: 1, Variant: packet.VariantAcceleration, SensorID: sensorID, Timestamp: ts},
		packet.AccelerationPayload{Acceleration: a},
	)
}

// RawFrame encodes a frame with an arbitrary code byte and opaque payload.
func RawFrame(code byte, sensorID int, ts int64, payload []byte) []byte {
	return Frame(
		packet.Header{Version: 1, Code: code, Variant: packet.VariantFor(code), SensorID: sensorID, Timestamp: ts},
		packet.RawPayload{Bytes: payload},
	)
}

// OrientationLine encodes a text orientation frame terminated by a newline.
func OrientationLine(sensorID int, q quat.Number) string {
	return packet.EncodeText(
		packet.Header{Version: 1, Variant: packet.VariantOrientation, SensorID: sensorID},
		packet.OrientationPayload{Orientation: q},
		packet.DefaultFieldDelimiters,
	) + "\n"
}

// Noise returns n pseudo-random bytes that contain no variant code, so a
// resynchronising reader can never mistake them for a frame start.
func Noise(rng *rand.Rand, n int) []byte {
	b := make([]byte, 0, n)
	for len(b) < n {
		c := byte(rng.UintN(256))
		if packet.KnownCode(c) {
			continue
		}
		b = append(b, c)
	}
	return b
}

// RandomBytes returns n unfiltered pseudo-random bytes.
func RandomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.UintN(256))
	}
	return b
}

// Seeded returns a deterministic random source for fixtures.
func Seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
