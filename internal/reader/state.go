package reader

import (
	"fmt"
	"strings"
)

// State is the synchronisation state of a Reader.
type State int32

const (
	// OutOfSync means the reader is scanning for a frame boundary.
	OutOfSync State = iota
	// InSync means frames are read back to back.
	InSync
	// Disconnected is terminal; the session is over.
	Disconnected
)

func (s State) String() string {
	switch s {
	case OutOfSync:
		return "out-of-sync"
	case InSync:
		return "in-sync"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{OutOfSync, InSync, Disconnected} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown reader state %q", b)
}

// Mode selects the wire format.
type Mode int

const (
	ModeBinary Mode = iota
	ModeText
)

func (m Mode) String() string {
	if m == ModeText {
		return "text"
	}
	return "binary"
}

// ParseMode accepts "binary" or "text"; the empty string selects binary.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "binary":
		return ModeBinary, nil
	case "text":
		return ModeText, nil
	default:
		return ModeBinary, fmt.Errorf("unknown reader mode %q (want binary or text)", s)
	}
}
