package frame

import "fmt"

// HaltReason tells why sampling stopped.
type HaltReason uint8

const (
	HaltSampleCount   HaltReason = 1
	HaltTimeElapsed   HaltReason = 2
	HaltUserInterrupt HaltReason = 3
)

var haltNames = map[HaltReason]string{
	HaltSampleCount:   "number of samples",
	HaltTimeElapsed:   "time elapsed",
	HaltUserInterrupt: "user interrupt",
}

func (h HaltReason) String() string {
	if name, ok := haltNames[h]; ok {
		return name
	}
	return fmt.Sprintf("<unknown halt code %d>", uint8(h))
}

// TriggerLocation is the triggered field of a completion record: flag bits
// in the high byte, the state index in the low byte.
type TriggerLocation uint16

const (
	TriggerNot      TriggerLocation = 0x0100
	TriggerExternal TriggerLocation = 0x0200
	TriggerAnalog   TriggerLocation = 0x0400
	TriggerNormal   TriggerLocation = 0x0800
)

// State returns the trigger state index the location refers to.
func (t TriggerLocation) State() uint8 {
	return uint8(t)
}

// Triggered reports whether sampling started from a trigger rather than an
// interrupted wait.
func (t TriggerLocation) Triggered() bool {
	return t&(TriggerNormal|TriggerExternal) != 0 || (t&TriggerAnalog != 0 && t&TriggerNot == 0)
}

func (t TriggerLocation) String() string {
	switch {
	case t&TriggerExternal != 0:
		if t&TriggerAnalog != 0 {
			return "Triggered via external sync while waiting for analog slope/level/hysteresis"
		}
		return fmt.Sprintf("Triggered via external sync at state #%d", t.State())
	case t&TriggerAnalog != 0:
		if t&TriggerNot != 0 {
			return "Not triggered, interrupted while waiting for analog slope/level/hysteresis"
		}
		return "Triggered on analog level/slope/hysteresis"
	case t&TriggerNormal != 0:
		return fmt.Sprintf("Triggered at state #%d", t.State())
	case t&TriggerNot != 0:
		return fmt.Sprintf("Not triggered, interrupted at state #%d", t.State())
	}
	return fmt.Sprintf("Unknown sampling trigger condition 0x%x", uint16(t))
}

// Completion is the record the device sends when sampling ends.
type Completion struct {
	Mode        SamplingMode
	Halt        HaltReason
	Triggered   TriggerLocation
	SampleCount uint16
}

// UploadHeader precedes uploaded sample words.
type UploadHeader struct {
	First      uint16
	Count      uint16
	Total      uint16 // samples held by the device
	MaxMemory  uint16 // capacity in samples
	Mode       SamplingMode
	ADCChans   uint8 // 1 or 2, analog only
	ADCIndexes uint8 // trigger channel in the low nibble, second in the high
	ADCHold    uint8
	ADCSamples uint16
}

// Empty reports whether the upload carries no sample words.
func (h UploadHeader) Empty() bool {
	return h.Count == 0 || (h.Mode == ModeAnalog && h.ADCSamples == 0)
}

// Version is the firmware version triple.
type Version struct {
	Major, Minor, Patch uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
