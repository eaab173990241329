// Package sample turns raw capture words into time-ordered events.
package sample

// TickBits is the width of the free-running capture tick counter.
const TickBits = 24

// TickModulus is the period of the tick counter.
const TickModulus = 1 << TickBits

const tickMask = TickModulus - 1

// Lines is the number of digital inputs in a sample pattern.
const Lines = 8

// Raw is one 32-bit word as uploaded by the device. Digital words carry the
// tick counter in the low 24 bits and the 8 input lines in the high byte.
// Analog words carry two 16-bit ADC readings.
type Raw uint32

// Digital packs a tick counter value and line pattern into a word. Ticks
// beyond 24 bits are truncated.
func Digital(tick uint32, bits uint8) Raw {
	return Raw(uint32(bits)<<TickBits | tick&tickMask)
}

// Analog packs two ADC readings into a word.
func Analog(v1, v2 uint16) Raw {
	return Raw(uint32(v2)<<16 | uint32(v1))
}

// Tick returns the counter value of a digital word.
func (r Raw) Tick() uint32 {
	return uint32(r) & tickMask
}

// Bits returns the line pattern of a digital word, line 0 in bit 0.
func (r Raw) Bits() uint8 {
	return uint8(r >> TickBits)
}

// Values returns the two readings of an analog word.
func (r Raw) Values() (v1, v2 uint16) {
	return uint16(r), uint16(r >> 16)
}
