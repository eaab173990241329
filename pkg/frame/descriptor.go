package frame

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/sample"
)

// SamplingMode selects the firmware capture loop.
type SamplingMode uint8

const (
	Mode6_26MHz   SamplingMode = 0
	ModeIrregular SamplingMode = 1
	ModeUniform   SamplingMode = 2
	Mode4MHz      SamplingMode = 3
	// ModeAnalog only appears in upload headers.
	ModeAnalog SamplingMode = 15
)

var modeNames = map[SamplingMode]string{
	Mode6_26MHz:   "6.26MHz",
	ModeIrregular: "irregular",
	ModeUniform:   "uniform",
	Mode4MHz:      "4MHz",
	ModeAnalog:    "analog",
}

func (m SamplingMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "<none>"
}

// ParseSamplingMode accepts the names returned by String for the digital
// modes.
func ParseSamplingMode(name string) (SamplingMode, error) {
	for m, n := range modeNames {
		if m != ModeAnalog && strings.EqualFold(n, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("frame: unknown sampling mode %q", name)
}

// CodeBank selects where the firmware runs its sampling loop from.
type CodeBank uint8

const (
	BankRAM   CodeBank = 0
	BankFlash CodeBank = 1
)

func (b CodeBank) String() string {
	switch b {
	case BankRAM:
		return "ram"
	case BankFlash:
		return "flash"
	}
	return fmt.Sprintf("CodeBank(%d)", b)
}

// ParseCodeBank accepts "ram" or "flash".
func ParseCodeBank(name string) (CodeBank, error) {
	switch strings.ToLower(name) {
	case "ram":
		return BankRAM, nil
	case "flash":
		return BankFlash, nil
	}
	return 0, fmt.Errorf("frame: unknown code bank %q", name)
}

// UnlimitedEvents disables the event count limit.
const UnlimitedEvents = 0xffff

// MinEvents is the smallest event limit the firmware honours.
const MinEvents = 4

// durationUnit is the duration timer period in CPU ticks.
const durationUnit = 1 << 16

// CaptureDescriptor holds the capture parameters sent with the trigger
// table.
type CaptureDescriptor struct {
	Mode      SamplingMode
	Duration  time.Duration // 0 for unlimited
	MaxEvents uint16
	CodeBank  CodeBank
	Ganged    bool
}

// DefaultDescriptor matches the device's power-on capture settings.
func DefaultDescriptor() CaptureDescriptor {
	return CaptureDescriptor{
		Mode:      Mode6_26MHz,
		MaxEvents: UnlimitedEvents,
		CodeBank:  BankFlash,
	}
}

// DurationTicks converts d to the device duration register. The timer
// counts units of 65536 CPU ticks and reloads at value+1. A zero or
// negative duration disables the limit.
func DurationTicks(d time.Duration) (value uint16, enabled bool) {
	if d <= 0 {
		return 0, false
	}
	units := math.Round(sample.DefaultClock.Ticks(d)/durationUnit) - 1
	switch {
	case units < 1:
		units = 1
	case units > math.MaxUint16:
		units = math.MaxUint16
	}
	return uint16(units), true
}

// TicksDuration is the inverse of DurationTicks.
func TicksDuration(value uint16) time.Duration {
	return sample.DefaultClock.Duration((uint64(value) + 1) * durationUnit)
}
