package packet

import "fmt"

// Variant identifies the kind of payload a packet carries. The value is the
// ASCII code transmitted at header offset 1.
type Variant byte

const (
	VariantUnknown      Variant = 'X'
	VariantOrientation  Variant = 'Q'
	VariantAcceleration Variant = 'A'
	VariantControl      Variant = 'C'
)

var variantNames = map[Variant]string{
	VariantUnknown:      "unknown",
	VariantOrientation:  "orientation",
	VariantAcceleration: "acceleration",
	VariantControl:      "control",
}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return fmt.Sprintf("variant(%#02x)", byte(v))
}

// KnownCode reports whether code is one of the variant codes the device
// firmware defines. Resynchronisation only accepts frames with a known code.
func KnownCode(code byte) bool {
	_, ok := variantNames[Variant(code)]
	return ok
}

// VariantFor maps a wire code to its variant. Codes the firmware does not
// define decode as VariantUnknown.
func VariantFor(code byte) Variant {
	if KnownCode(code) {
		return Variant(code)
	}
	return VariantUnknown
}

// ParseVariant accepts either a single variant code ("Q") or a variant name
// ("orientation").
func ParseVariant(s string) (Variant, error) {
	if len(s) == 1 && KnownCode(s[0]) {
		return Variant(s[0]), nil
	}
	for v, name := range variantNames {
		if name == s {
			return v, nil
		}
	}
	return VariantUnknown, fmt.Errorf("unknown packet variant %q", s)
}

// PayloadLength returns the binary payload size a variant requires, and
// false for variants whose payload is opaque.
func (v Variant) PayloadLength() (int, bool) {
	d, ok := decoders[v]
	if !ok || d.payloadLength == 0 {
		return 0, false
	}
	return d.payloadLength, true
}
