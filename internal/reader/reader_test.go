package reader

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/arduimu/internal/codec"
	"github.com/banshee-data/arduimu/internal/packet"
	"github.com/banshee-data/arduimu/internal/store"
	"github.com/banshee-data/arduimu/internal/testutil"
	"github.com/banshee-data/arduimu/internal/transport"
)

const waitTimeout = 2 * time.Second

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = codec.Concat(out, p)
	}
	return out
}

// runAsync starts r.Run and returns a channel carrying its result.
func runAsync(ctx context.Context, r *Reader) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()
	return errc
}

func waitRun(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestResync_NoiseThenFrame(t *testing.T) {
	for seed := uint64(1); seed <= 64; seed++ {
		port := transport.NewTestableSerialPort()
		port.AddReadData(concat(
			testutil.RandomBytes(testutil.Seeded(seed), 50),
			testutil.OrientationFrame(1, 1000, testutil.YawQuat(30)),
		))

		s := store.New(nil)
		r := New(port, s, DefaultConfig())
		require.True(t, r.Connected())
		assert.Equal(t, OutOfSync, r.State())

		err := r.Run(context.Background())
		assert.ErrorIs(t, err, io.EOF, "seed %d: stream ran dry", seed)

		require.Equal(t, 1, s.Len(), "seed %d: exactly one stream", seed)
		p, ok := s.Get(1, packet.VariantOrientation)
		require.True(t, ok, "seed %d", seed)
		assert.Equal(t, int64(1000), p.Timestamp(), "seed %d", seed)

		stats := r.Stats()
		assert.Equal(t, uint64(1), stats.Packets, "seed %d", seed)
		assert.Equal(t, uint64(1), stats.Resyncs, "seed %d", seed)
		assert.Equal(t, uint64(50), stats.SkippedBytes, "seed %d", seed)
		assert.Equal(t, Disconnected, r.State())
		assert.False(t, r.Connected())
	}
}

func TestResync_OpaqueVariantDoesNotSync(t *testing.T) {
	// a control header declaring an 8-byte payload would swallow the frame
	port := transport.NewTestableSerialPort()
	port.AddReadData(concat(
		[]byte{0x01, 'C', 0x00, 0, 0, 0, 0, 0x08},
		testutil.OrientationFrame(1, 1000, testutil.YawQuat(0)),
	))

	s := store.New(nil)
	_ = New(port, s, DefaultConfig()).Run(context.Background())

	assert.Equal(t, 1, s.Len())
	p, ok := s.Get(1, packet.VariantOrientation)
	require.True(t, ok)
	assert.Equal(t, int64(1000), p.Timestamp())
}

func TestResync_CandidateMustBeFollowedByHeader(t *testing.T) {
	fake := concat(
		[]byte{0x00, 'Q', 9, 0, 0, 0, 0, 0x08},
		make([]byte, 8),
	)
	port := transport.NewTestableSerialPort()
	port.AddReadData(concat(fake, []byte{0x00, 0x7f}, testutil.OrientationFrame(1, 1000, testutil.YawQuat(0))))

	s := store.New(nil)
	r := New(port, s, DefaultConfig())
	_ = r.Run(context.Background())

	_, ok := s.Get(9, packet.VariantOrientation)
	assert.False(t, ok, "candidate not followed by a header was accepted")
	_, ok = s.Get(1, packet.VariantOrientation)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), r.Stats().Packets)
	assert.Equal(t, uint64(18), r.Stats().SkippedBytes)
}

func TestResync_RejectedCandidateDoesNotEatFrame(t *testing.T) {
	// ts byte 1 is 0x0a, so the false 'Q' candidate declares a 10-byte payload
	frame := testutil.OrientationFrame(6, 0x0a00, testutil.YawQuat(0))
	require.NotEqual(t, byte(8), frame[4])

	port := transport.NewTestableSerialPort()
	port.AddReadData(concat([]byte{0x00, 'Q', 0x05}, frame))

	s := store.New(nil)
	r := New(port, s, DefaultConfig())
	_ = r.Run(context.Background())

	p, ok := s.Get(6, packet.VariantOrientation)
	require.True(t, ok, "frame following the false candidate was lost")
	assert.Equal(t, int64(0x0a00), p.Timestamp())
	assert.Equal(t, uint64(3), r.Stats().SkippedBytes)
}

func TestInSync_ShortReads(t *testing.T) {
	type sample struct {
		sensor int
		q      quat.Number
		a      r3.Vec
	}
	samples := []sample{
		{1, testutil.YawQuat(10), r3.Vec{X: 0.1, Y: 0.2, Z: 9.8}},
		{2, testutil.YawQuat(-45), r3.Vec{X: -1, Y: 0, Z: 9.81}},
		{1, testutil.YawQuat(20), r3.Vec{X: 3.3, Y: -2.2, Z: 1.1}},
	}

	var stream []byte
	for i, smp := range samples {
		ts := int64(100 * (i + 1))
		stream = concat(stream,
			testutil.OrientationFrame(smp.sensor, ts, smp.q),
			testutil.AccelerationFrame(smp.sensor, ts+1, smp.a),
		)
	}

	port := transport.NewTestableSerialPort()
	port.MaxReadChunk = 3
	port.AddReadData(stream)

	s := store.New(nil)
	r := New(port, s, DefaultConfig())
	_ = r.Run(context.Background())

	assert.Equal(t, uint64(6), r.Stats().Packets)
	assert.Equal(t, uint64(1), r.Stats().Resyncs)

	approx := cmpopts.EquateApprox(0, 1.0/packet.OrientationScale)
	q, _ := s.Get(1, packet.VariantOrientation)
	got, _ := q.Orientation()
	if diff := cmp.Diff(testutil.YawQuat(20), got, approx); diff != "" {
		t.Errorf("sensor 1 orientation mismatch (-want +got):\n%s", diff)
	}

	a, _ := s.Get(2, packet.VariantAcceleration)
	gotA, _ := a.Acceleration()
	if diff := cmp.Diff(samples[1].a, gotA, cmpopts.EquateApprox(0, 1.0/packet.AccelerationScale)); diff != "" {
		t.Errorf("sensor 2 acceleration mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, int64(200), s.Latency(1, packet.VariantOrientation))
	assert.Equal(t, int64(200), s.Latency(1, packet.VariantAcceleration))
}

func TestInSync_UnknownVariantPublished(t *testing.T) {
	port := transport.NewTestableSerialPort()
	port.AddReadData(concat(
		testutil.OrientationFrame(1, 10, testutil.YawQuat(0)),
		testutil.RawFrame('Z', 7, 1234, []byte{0xde, 0xad}),
	))

	s := store.New(nil)
	_ = New(port, s, DefaultConfig()).Run(context.Background())

	p, ok := s.Get(7, packet.VariantUnknown)
	require.True(t, ok)
	assert.Equal(t, 1, p.Header.Version)
	assert.Equal(t, 7, p.SensorID())
	assert.Equal(t, int64(1234), p.Timestamp())
	assert.Equal(t, byte('Z'), p.Header.Code)
	assert.Equal(t, packet.RawPayload{Bytes: []byte{0xde, 0xad}}, p.Payload)
}

func TestTimeoutMidRead_Disconnects(t *testing.T) {
	second := testutil.OrientationFrame(1, 20, testutil.YawQuat(5))

	port := transport.NewBlockingSerialPort(50 * time.Millisecond)
	port.AddReadData(concat(
		testutil.OrientationFrame(1, 10, testutil.YawQuat(0)),
		second[:5],
	))

	s := store.New(nil)
	r := New(port, s, DefaultConfig())
	err := waitRun(t, runAsync(context.Background(), r))

	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.Equal(t, Disconnected, r.State())
	assert.False(t, r.Connected())
	assert.False(t, port.IsClosed(), "a timeout leaves the port open for the caller")

	port.AddReadData(second[5:])
	port.AddReadData(testutil.OrientationFrame(1, 30, testutil.YawQuat(10)))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, uint64(1), r.Stats().Packets)
	p, _ := s.Get(1, packet.VariantOrientation)
	assert.Equal(t, int64(10), p.Timestamp())
}

func TestTimeoutWhileScanning_Disconnects(t *testing.T) {
	port := transport.NewBlockingSerialPort(30 * time.Millisecond)
	port.AddReadData(testutil.Noise(testutil.Seeded(7), 20))

	r := New(port, store.New(nil), DefaultConfig())
	err := waitRun(t, runAsync(context.Background(), r))
	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.Equal(t, Disconnected, r.State())
	assert.Zero(t, r.Stats().Resyncs)
}

func TestInSync_ReadErrorResyncs(t *testing.T) {
	port := transport.NewBlockingSerialPort(waitTimeout)
	port.AddReadData(testutil.OrientationFrame(2, 10, testutil.YawQuat(0)))

	s := store.New(nil)
	r := New(port, s, DefaultConfig())
	errc := runAsync(context.Background(), r)

	testutil.Eventually(t, waitTimeout, func() bool { return r.Stats().Packets == 1 }, "first frame published")
	require.Equal(t, InSync, r.State())

	port.FailNextRead(errors.New("framing error"))
	port.AddReadData(concat(
		testutil.Noise(testutil.Seeded(3), 17),
		testutil.OrientationFrame(2, 40, testutil.YawQuat(15)),
	))

	testutil.Eventually(t, waitTimeout, func() bool { return r.Stats().Packets == 2 }, "frame after resync published")
	assert.Equal(t, uint64(2), r.Stats().Resyncs)
	assert.Equal(t, InSync, r.State())
	assert.True(t, r.Connected())

	require.NoError(t, r.Close())
	assert.NoError(t, waitRun(t, errc))
	assert.Equal(t, int64(30), s.Latency(2, packet.VariantOrientation))
}

func TestClose_UnblocksRead(t *testing.T) {
	port := transport.NewBlockingSerialPort(0)
	r := New(port, store.New(nil), DefaultConfig())
	errc := runAsync(context.Background(), r)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "second Close is a no-op")

	assert.NoError(t, waitRun(t, errc))
	assert.True(t, port.IsClosed())
	assert.False(t, r.Connected())
	assert.Equal(t, Disconnected, r.State())

	select {
	case <-r.Done():
	default:
		t.Error("Done not closed after Run returned")
	}
}

func TestContextCancel_UnblocksRead(t *testing.T) {
	port := transport.NewBlockingSerialPort(0)
	r := New(port, store.New(nil), DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(ctx, r)
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, waitRun(t, errc), context.Canceled)
	assert.True(t, port.IsClosed())
}

func TestRun_Twice(t *testing.T) {
	r := New(transport.NewTestableSerialPort(), store.New(nil), DefaultConfig())
	_ = r.Run(context.Background())
	assert.ErrorIs(t, r.Run(context.Background()), ErrAlreadyRunning)
}

func TestTextMode(t *testing.T) {
	q := quat.Scale(2, testutil.YawQuat(60))
	accel := packet.EncodeText(
		packet.Header{Version: 1, Variant: packet.VariantAcceleration, SensorID: 4},
		packet.AccelerationPayload{Acceleration: r3.Vec{X: 1.5, Y: -0.25, Z: 9.75}},
		";",
	)
	orient := packet.EncodeText(
		packet.Header{Version: 1, Variant: packet.VariantOrientation, SensorID: 4},
		packet.OrientationPayload{Orientation: q},
		";",
	)

	port := transport.NewTestableSerialPort()
	port.AddReadData([]byte("garbage\n" + orient + "\r\n" + accel + "\n" + "partial;line"))

	s := store.New(nil)
	cfg := DefaultConfig()
	cfg.Mode = ModeText
	cfg.FieldDelimiters = ";"
	r := New(port, s, cfg)

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, 2, s.Len())
	p, ok := s.Get(4, packet.VariantOrientation)
	require.True(t, ok)
	got, _ := p.Orientation()
	assert.InDelta(t, 1, quat.Abs(got), 1e-6, "text orientation is unit length")
	assert.Equal(t, int64(packet.Sentinel), p.Timestamp())

	a, _ := s.Get(4, packet.VariantAcceleration)
	gotA, _ := a.Acceleration()
	assert.Equal(t, r3.Vec{X: 1.5, Y: -0.25, Z: 9.75}, gotA)

	stats := r.Stats()
	assert.Equal(t, uint64(2), stats.Packets)
	assert.Equal(t, uint64(1), stats.Resyncs)
	assert.Equal(t, uint64(len("garbage\n")), stats.SkippedBytes)
}

func TestNew_SessionID(t *testing.T) {
	port := transport.NewTestableSerialPort()
	a := New(port, store.New(nil), DefaultConfig())
	b := New(port, store.New(nil), DefaultConfig())
	assert.NotEmpty(t, a.SessionID())
	assert.NotEqual(t, a.SessionID(), b.SessionID())

	cfg := DefaultConfig()
	cfg.SessionID = "bench"
	assert.Equal(t, "bench", New(port, store.New(nil), cfg).Stats().SessionID)
}

func TestStateAndMode(t *testing.T) {
	assert.Equal(t, "out-of-sync", OutOfSync.String())
	assert.Equal(t, "in-sync", InSync.String())
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "state(9)", State(9).String())

	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeBinary, false},
		{"binary", ModeBinary, false},
		{" Text ", ModeText, false},
		{"csv", ModeBinary, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStats_JSON(t *testing.T) {
	in := Stats{SessionID: "abc", State: InSync, Packets: 3}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"in-sync"`)

	var out Stats
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	assert.Error(t, json.Unmarshal([]byte(`{"state":"lost"}`), &out))
}
