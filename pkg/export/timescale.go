package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/sample"
)

// Unit is a VCD timescale unit.
type Unit uint8

const (
	Second Unit = iota
	Millisecond
	Microsecond
	Nanosecond
	Picosecond
	Femtosecond
)

var (
	unitNames     = [...]string{"s", "ms", "us", "ns", "ps", "fs"}
	unitPerSecond = [...]float64{1, 1e3, 1e6, 1e9, 1e12, 1e15}
)

func (u Unit) String() string {
	if int(u) < len(unitNames) {
		return unitNames[u]
	}
	return fmt.Sprintf("Unit(%d)", u)
}

// PerSecond returns how many of u make one second.
func (u Unit) PerSecond() float64 {
	if int(u) < len(unitPerSecond) {
		return unitPerSecond[u]
	}
	return math.NaN()
}

// ParseUnit accepts the names returned by String.
func ParseUnit(name string) (Unit, error) {
	for i, n := range unitNames {
		if strings.EqualFold(n, name) {
			return Unit(i), nil
		}
	}
	return 0, fmt.Errorf("export: unknown time unit %q, want one of %s", name, strings.Join(unitNames[:], ", "))
}

// Timescale is the VCD time resolution: PerTick units of Unit.
type Timescale struct {
	PerTick uint64
	Unit    Unit
}

// DefaultTimescale resolves one 72MHz tick to within a few nanoseconds.
var DefaultTimescale = Timescale{PerTick: 125, Unit: Nanosecond}

func (ts Timescale) String() string {
	return fmt.Sprintf("%d %s", ts.PerTick, ts.Unit)
}

// Validate rejects a zero resolution.
func (ts Timescale) Validate() error {
	if ts.PerTick == 0 {
		return fmt.Errorf("export: timescale %s has zero resolution", ts)
	}
	if int(ts.Unit) >= len(unitNames) {
		return fmt.Errorf("export: invalid timescale unit %d", ts.Unit)
	}
	return nil
}

// units converts device ticks to timescale steps, unrounded.
func (ts Timescale) units(ticks uint64, clock sample.Clock) float64 {
	return float64(ticks) * ts.Unit.PerSecond() / (clock.Hz * float64(ts.PerTick))
}

// formatSeconds prints v with an engineering suffix.
func formatSeconds(v float64) string {
	a := math.Abs(v)
	switch {
	case a < 1e-9:
		return fmt.Sprintf("%.6gps", v*1e12)
	case a < 1e-6:
		return fmt.Sprintf("%.6gns", v*1e9)
	case a < 1e-3:
		return fmt.Sprintf("%.6gμs", v*1e6)
	case a < 1:
		return fmt.Sprintf("%.6gms", v*1e3)
	case a < 60:
		return fmt.Sprintf("%.6gs", v)
	case a < 60*60:
		return fmt.Sprintf("%.6gmin", v/60)
	}
	return fmt.Sprintf("%.6gh", v/(60*60))
}
