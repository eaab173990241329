package trigger

import (
	"fmt"
	"strconv"
	"strings"
)

// Alternate characters accepted in the 8-character test field of the text
// form. The first character of each set is the canonical one.
const (
	IgnoreChars = "xXpPUu.*"
	OneChars    = "1iI"
	ZeroChars   = "0oO"
)

// NumLines is the width of the input sample tested by every state.
const NumLines = 8

// State is one node of the device-side trigger state machine. Input lines
// whose Mask bit is set are compared against the same bit of Bits. A match
// moves the machine to Pass, a mismatch to Fail.
type State struct {
	Index   uint8
	Mask    uint8
	Bits    uint8
	Pass    uint8
	Fail    uint8
	Comment string
}

// DefaultState returns the "always match, triggered" state 0=xxxxxxxx-0-0.
func DefaultState() State {
	return State{}
}

// Test renders the masked comparison msb first, using 'x' for lines that are
// not tested. Two states with equal Test strings perform the same check.
func (s State) Test() string {
	var sb strings.Builder
	sb.Grow(NumLines)
	for bit := NumLines - 1; bit >= 0; bit-- {
		m := uint8(1) << bit
		switch {
		case s.Mask&m == 0:
			sb.WriteByte('x')
		case s.Bits&m != 0:
			sb.WriteByte('1')
		default:
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// Matches reports whether input satisfies the state's masked test.
func (s State) Matches(input uint8) bool {
	return input&s.Mask == s.Bits&s.Mask
}

// String returns the encoded "<test>-<pass>-<fail>" form without index.
func (s State) String() string {
	return fmt.Sprintf("%s-%d-%d", s.Test(), s.Pass, s.Fail)
}

// Definition returns "<index>=<test>-<pass>-<fail>" followed by the comment
// if one is set.
func (s State) Definition() string {
	def := fmt.Sprintf("%d=%s", s.Index, s)
	if s.Comment != "" {
		def += " " + s.Comment
	}
	return def
}

// Record returns the 4 byte wire record. The order mask, pass, fail, bits is
// fixed by the firmware.
func (s State) Record() [4]byte {
	return [4]byte{s.Mask, s.Pass, s.Fail, s.Bits}
}

// ParseTest decodes the 8-character test field into mask and bits.
func ParseTest(test string) (mask, bits uint8, err error) {
	if len(test) != NumLines {
		return 0, 0, fmt.Errorf("trigger: test %q must be %d characters", test, NumLines)
	}
	for i := 0; i < NumLines; i++ {
		c := test[i]
		bit := uint8(1) << (NumLines - 1 - i)
		switch {
		case strings.IndexByte(IgnoreChars, c) >= 0:
		case strings.IndexByte(OneChars, c) >= 0:
			mask |= bit
			bits |= bit
		case strings.IndexByte(ZeroChars, c) >= 0:
			mask |= bit
		default:
			return 0, 0, fmt.Errorf("trigger: code char '%c' not in %s, %s, or %s",
				c, IgnoreChars, OneChars, ZeroChars)
		}
	}
	return mask, bits, nil
}

// ParseState decodes "<test>-<pass>-<fail>". The returned State has index 0
// and no comment; callers set those.
func ParseState(encoded string) (State, error) {
	fields := strings.Split(encoded, "-")
	if len(fields) != 3 {
		return State{}, fmt.Errorf("trigger: bad encoded trigger %q, should be \"<8 mask/bits>-<pass>-<fail>\"", encoded)
	}
	mask, bits, err := ParseTest(fields[0])
	if err != nil {
		return State{}, err
	}
	pass, err := parseTarget("pass", fields[1])
	if err != nil {
		return State{}, err
	}
	fail, err := parseTarget("fail", fields[2])
	if err != nil {
		return State{}, err
	}
	return State{Mask: mask, Bits: bits, Pass: pass, Fail: fail}, nil
}

// ParseDefinition decodes "<index>=<test>-<pass>-<fail>".
func ParseDefinition(def string) (State, error) {
	idx, encoded, ok := strings.Cut(def, "=")
	if !ok {
		return State{}, fmt.Errorf("trigger: bad definition %q, should be \"<ndx>=<8 mask/bits>-<pass>-<fail>\"", def)
	}
	index, err := parseTarget("index", idx)
	if err != nil {
		return State{}, err
	}
	s, err := ParseState(encoded)
	if err != nil {
		return State{}, err
	}
	s.Index = index
	return s, nil
}

func parseTarget(what, text string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(text), 10, 0)
	if err != nil || v > 255 {
		return 0, fmt.Errorf("trigger: %s %q out of range [0 ... 255]", what, text)
	}
	return uint8(v), nil
}
