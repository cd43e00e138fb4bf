package domain

import "fmt"

// Mode selects the velocity estimation model.
type Mode int

const (
	// ModeUnset is the zero value; a request carrying it is rejected.
	ModeUnset Mode = iota
	ModeSteadyState
	ModeStochastic
	ModeDynamical
)

var modeNames = map[Mode]string{
	ModeSteadyState: "steady_state",
	ModeStochastic:  "stochastic",
	ModeDynamical:   "dynamical",
}

// ParseMode converts the external mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return ModeUnset, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// String returns the name understood by the external library.
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unset"
}

// IsSet reports whether a concrete mode was chosen.
func (m Mode) IsSet() bool {
	_, ok := modeNames[m]
	return ok
}

// IsDynamical reports whether the dynamical-only steps must run.
func (m Mode) IsDynamical() bool {
	return m == ModeDynamical
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.IsSet() {
		return nil, ErrMissingMode
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
