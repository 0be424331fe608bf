package codec

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func TestBytesToUnsignedInt_Endianness(t *testing.T) {
	big, err := BytesToUnsignedInt([]byte{0xde, 0xad, 0xbe, 0xef}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	little, err := BytesToUnsignedInt([]byte{0xef, 0xbe, 0xad, 0xde}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if big != 0xdeadbeef { // 0xdeadbeef == 3735928559
		t.Errorf("big endian = %d (%#x), want 3735928559", big, big)
	}
	if little != big {
		t.Errorf("little endian = %#x, want %#x", little, big)
	}
}

func TestBytesToUnsignedInt_Lengths(t *testing.T) {
	tests := []struct {
		name      string
		in        []byte
		bigEndian bool
		want      uint32
	}{
		{"empty", nil, false, 0},
		{"one byte", []byte{0x7f}, true, 0x7f},
		{"two bytes little", []byte{0x34, 0x12}, false, 0x1234},
		{"two bytes big", []byte{0x12, 0x34}, true, 0x1234},
		{"three bytes big", []byte{0x01, 0x02, 0x03}, true, 0x010203},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BytesToUnsignedInt(tt.in, tt.bigEndian)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestBytesToUnsignedInt_TooLong(t *testing.T) {
	_, err := BytesToUnsignedInt([]byte{1, 2, 3, 4, 5}, false)
	if !errors.Is(err, ErrRange) {
		t.Fatalf("err = %v, want ErrRange", err)
	}
	_, err = BytesToSignedInt([]byte{1, 2, 3, 4, 5}, true)
	if !errors.Is(err, ErrRange) {
		t.Fatalf("err = %v, want ErrRange", err)
	}
}

func TestBytesToSignedInt_SignExtension(t *testing.T) {
	tests := []struct {
		name      string
		in        []byte
		bigEndian bool
		want      int32
	}{
		{"negative twelve little", []byte{0xf4, 0xff}, false, -12},
		{"negative twelve big", []byte{0xff, 0xf4}, true, -12},
		{"positive two bytes", []byte{0x0c, 0x00}, false, 12},
		{"int16 min", []byte{0x00, 0x80}, false, math.MinInt16},
		{"int16 max", []byte{0x7f, 0xff}, true, math.MaxInt16},
		{"one byte negative", []byte{0x80}, false, -128},
		{"three bytes negative", []byte{0xff, 0xff, 0xfe}, true, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BytesToSignedInt(tt.in, tt.bigEndian)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIntToBytes_RoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, 12, -12, math.MaxInt32, math.MinInt32, 0x12345678, -0x12345678}
	rng := rand.New(rand.NewPCG(1, 2))
	for range 1000 {
		values = append(values, int32(rng.Uint32()))
	}

	for _, bigEndian := range []bool{true, false} {
		for _, x := range values {
			b := IntToBytes(x, bigEndian)
			got, err := BytesToSignedInt(b[:], bigEndian)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != x {
				t.Fatalf("round trip of %d (bigEndian=%v) = %d", x, bigEndian, got)
			}
		}
	}
}

func TestIntToBytes_Layout(t *testing.T) {
	if got := IntToBytes(0x01020304, true); got != [4]byte{1, 2, 3, 4} {
		t.Errorf("big endian layout = %v", got)
	}
	if got := IntToBytes(0x01020304, false); got != [4]byte{4, 3, 2, 1} {
		t.Errorf("little endian layout = %v", got)
	}
}

func TestHexFloatToFloat(t *testing.T) {
	tests := []struct {
		in   string
		want float32
	}{
		{"3f800000", 1.0},
		{"bf800000", -1.0},
		{"0x40490fdb", math.Pi},
		{" 00000000 ", 0},
		{"3F000000", 0.5},
	}
	for _, tt := range tests {
		got, err := HexFloatToFloat(tt.in)
		if err != nil {
			t.Errorf("HexFloatToFloat(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("HexFloatToFloat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHexFloatToFloat_Malformed(t *testing.T) {
	for _, in := range []string{"", "zz", "123456789", "0x", "3f80 0000"} {
		if _, err := HexFloatToFloat(in); !errors.Is(err, ErrFormat) {
			t.Errorf("HexFloatToFloat(%q) err = %v, want ErrFormat", in, err)
		}
	}
}

func TestFloatToHex_RoundTrip(t *testing.T) {
	for _, f := range []float32{0, 1, -1, 0.70710677, 9.81, -123.5} {
		got, err := HexFloatToFloat(FloatToHex(f))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != f {
			t.Errorf("round trip of %v = %v", f, got)
		}
	}
}

func TestConcat(t *testing.T) {
	a := []byte{1, 2}
	b := []byte{3}
	c := Concat(a, b)
	if string(c) != string([]byte{1, 2, 3}) {
		t.Fatalf("Concat = %v", c)
	}
	c[0] = 9
	if a[0] != 1 {
		t.Error("Concat must not alias its inputs")
	}
	if got := Concat(nil, nil); len(got) != 0 {
		t.Errorf("Concat(nil, nil) = %v", got)
	}
}
