package sample

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// CPUHz is the reference capture clock.
const CPUHz = 72e6

// Clock converts device ticks to wall time.
type Clock struct {
	Hz float64
}

// DefaultClock runs at CPUHz.
var DefaultClock = Clock{Hz: CPUHz}

// Seconds converts ticks to seconds.
func (c Clock) Seconds(ticks uint64) float64 {
	return float64(ticks) / c.Hz
}

// Duration converts ticks to a time.Duration, rounded to the nanosecond.
func (c Clock) Duration(ticks uint64) time.Duration {
	return time.Duration(math.Round(float64(ticks) * 1e9 / c.Hz))
}

// Ticks converts d to (fractional) ticks.
func (c Clock) Ticks(d time.Duration) float64 {
	return d.Seconds() * c.Hz
}

// ADCHold is the ADC sample-and-hold setting reported in analog uploads.
type ADCHold uint8

const (
	Hold1_5 ADCHold = iota
	Hold7_5
	Hold13_5
	Hold28_5
	Hold41_5
	Hold55_5
	Hold71_5
	Hold239_5
)

// hold cycles doubled, so the table stays integral
var holdHalfCycles = [...]uint64{3, 15, 27, 57, 83, 111, 143, 479}

var holdNames = [...]string{
	"1.5+12.5@12MHz->857kHz",
	"7.5+12.5@12MHz->600kHz",
	"13.5+12.5@12MHz->462kHz",
	"28.5+12.5@12MHz->293kHz",
	"41.5+12.5@12MHz->222kHz",
	"55.5+12.5@12MHz->176kHz",
	"71.5+12.5@12MHz->143kHz",
	"239.5+12.5@12MHz->47.6kHz",
}

func (h ADCHold) String() string {
	if int(h) < len(holdNames) {
		return holdNames[h]
	}
	return fmt.Sprintf("ADCHold(%d)", h)
}

// Clamp maps out-of-range settings to the slowest one, as the firmware does.
func (h ADCHold) Clamp() ADCHold {
	if h > Hold239_5 {
		return Hold239_5
	}
	return h
}

// Ticks returns the CPU ticks per conversion. The ADC runs at CPUHz/6 and
// needs 12.5 cycles on top of the hold time.
func (h ADCHold) Ticks() uint64 {
	return (holdHalfCycles[h.Clamp()] + 25) * 3
}

// ParseADCHold accepts a full setting name or its hold cycles alone,
// e.g. "71.5".
func ParseADCHold(name string) (ADCHold, error) {
	name = strings.TrimSpace(name)
	for i, full := range holdNames {
		cycles, _, _ := strings.Cut(full, "+")
		if strings.EqualFold(name, full) || name == cycles {
			return ADCHold(i), nil
		}
	}
	return 0, fmt.Errorf("sample: unknown sample and hold setting %q", name)
}
