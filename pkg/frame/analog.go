package frame

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/sample"
)

// CmdAnalog arms a single or dual channel ADC capture.
const CmdAnalog = 0x07

const (
	AnalogCommandSize    = 12
	AnalogCompletionSize = 8
)

const (
	// NoSecondChannel selects single channel sampling.
	NoSecondChannel = 0x0f
	// ADCMax is the largest 12 bit ADC reading.
	ADCMax = 0xfff
	// MaxADCChannel is the highest ADC input index.
	MaxADCChannel = 7
	// UnlimitedAnalogSamples samples until memory is full.
	UnlimitedAnalogSamples = 0
)

// Slope selects the edge an analog trigger waits for.
type Slope uint8

const (
	SlopeNone Slope = iota
	SlopePositive
	SlopeNegative
)

var slopeNames = [...]string{"disabled", "positive", "negative"}

func (s Slope) String() string {
	if int(s) < len(slopeNames) {
		return slopeNames[s]
	}
	return fmt.Sprintf("Slope(%d)", uint8(s))
}

// ParseSlope accepts a slope name or any unambiguous prefix of one.
func ParseSlope(name string) (Slope, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "none" {
		return SlopeNone, nil
	}
	for i, s := range slopeNames {
		if name != "" && strings.HasPrefix(s, name) {
			return Slope(i), nil
		}
	}
	return 0, fmt.Errorf("frame: unknown slope %q", name)
}

// AnalogDescriptor is an oscilloscope capture request. Level and Hysteresis
// are in ADC counts and may lie outside 0...ADCMax before clamping.
type AnalogDescriptor struct {
	TriggerChannel uint8
	// SecondChannel is an ADC index or NoSecondChannel.
	SecondChannel uint8
	Slope         Slope
	Hold          sample.ADCHold
	Ganged        bool
	// Samples counts readings, summed over both channels when two are
	// sampled. 0 samples until memory is full.
	Samples    uint16
	Level      int
	Hysteresis int
}

// DefaultAnalogDescriptor triggers channel 0 on a rising edge through mid
// scale.
func DefaultAnalogDescriptor() AnalogDescriptor {
	return AnalogDescriptor{
		SecondChannel: NoSecondChannel,
		Slope:         SlopePositive,
		Hold:          sample.Hold239_5,
		Level:         0x800,
		Hysteresis:    62,
	}
}

// Channels reports how many ADC inputs d samples.
func (d AnalogDescriptor) Channels() uint8 {
	if d.SecondChannel == NoSecondChannel {
		return 1
	}
	return 2
}

// Thresholds returns the trigger window. A positive slope arms below lo and
// fires at hi, a negative one arms above hi and fires at lo. A window that
// would leave the 12 bit range is shrunk to fit and clamped is set.
func (d AnalogDescriptor) Thresholds() (lo, hi uint16, clamped bool) {
	if d.Slope == SlopeNone {
		return 0, ADCMax, false
	}
	level := d.Level
	if level < 0 {
		level, clamped = 0, true
	} else if level > ADCMax {
		level, clamped = ADCMax, true
	}
	hyst := max(d.Hysteresis, 0)

	var l, h int
	if d.Slope == SlopeNegative {
		l, h = level, level+hyst
	} else {
		l, h = level-hyst, level
	}
	if l < 0 {
		l, clamped = 0, true
	}
	if h > ADCMax {
		h, clamped = ADCMax, true
	}
	return uint16(l), uint16(h), clamped
}

// AnalogCommand is the analog capture command as sent on the wire.
type AnalogCommand struct {
	TriggerChannel uint8
	SecondChannel  uint8
	Slope          Slope
	Hold           sample.ADCHold
	Ganged         bool
	// Words is the sample word limit. Single channel words hold two
	// readings.
	Words     uint16
	LevelLow  uint16
	LevelHigh uint16
}

// Command checks d and converts it to its wire form.
func (d AnalogDescriptor) Command() (AnalogCommand, error) {
	if d.TriggerChannel > MaxADCChannel {
		return AnalogCommand{}, fmt.Errorf("frame: trigger channel %d out of range 0...%d", d.TriggerChannel, MaxADCChannel)
	}
	if d.SecondChannel > MaxADCChannel && d.SecondChannel != NoSecondChannel {
		return AnalogCommand{}, fmt.Errorf("frame: second channel %d out of range 0...%d", d.SecondChannel, MaxADCChannel)
	}
	if d.Slope > SlopeNegative {
		return AnalogCommand{}, fmt.Errorf("frame: invalid slope %d", d.Slope)
	}
	if d.Hold > sample.Hold239_5 {
		return AnalogCommand{}, fmt.Errorf("frame: invalid sample and hold setting %d", d.Hold)
	}
	if d.Samples == 1 {
		return AnalogCommand{}, fmt.Errorf("frame: need at least 2 analog samples, got %d", d.Samples)
	}
	lo, hi, _ := d.Thresholds()
	words := d.Samples
	if d.Channels() == 1 {
		words /= 2
	}
	return AnalogCommand{
		TriggerChannel: d.TriggerChannel,
		SecondChannel:  d.SecondChannel,
		Slope:          d.Slope,
		Hold:           d.Hold,
		Ganged:         d.Ganged,
		Words:          words,
		LevelLow:       lo,
		LevelHigh:      hi,
	}, nil
}

// EncodeAnalog builds the 12 byte analog capture command.
func (p *Protocol) EncodeAnalog(d AnalogDescriptor) ([]byte, error) {
	c, err := d.Command()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, AnalogCommandSize)
	buf[0] = CmdAnalog
	buf[1] = c.TriggerChannel
	buf[2] = c.SecondChannel
	buf[3] = byte(c.Slope)
	buf[4] = byte(c.Hold)
	buf[5] = boolByte(c.Ganged)
	binary.LittleEndian.PutUint16(buf[6:], c.Words)
	binary.LittleEndian.PutUint16(buf[8:], c.LevelLow)
	binary.LittleEndian.PutUint16(buf[10:], c.LevelHigh)
	return buf, nil
}

// DecodeAnalog parses an analog capture command.
func (p *Protocol) DecodeAnalog(b []byte) (AnalogCommand, error) {
	if len(b) < AnalogCommandSize {
		return AnalogCommand{}, short("analog command", AnalogCommandSize, len(b))
	}
	if b[0] != CmdAnalog {
		return AnalogCommand{}, fmt.Errorf("frame: not an analog command: 0x%02x", b[0])
	}
	return AnalogCommand{
		TriggerChannel: b[1],
		SecondChannel:  b[2],
		Slope:          Slope(b[3]),
		Hold:           sample.ADCHold(b[4]),
		Ganged:         b[5] != 0,
		Words:          binary.LittleEndian.Uint16(b[6:]),
		LevelLow:       binary.LittleEndian.Uint16(b[8:]),
		LevelHigh:      binary.LittleEndian.Uint16(b[10:]),
	}, nil
}

// AnalogCompletion is the record the device sends when analog sampling
// ends. Words counts sample words, each holding two readings.
type AnalogCompletion struct {
	Halt      HaltReason
	Channels  uint8
	Indexes   uint8 // trigger channel in the low nibble, second in the high
	Hold      sample.ADCHold
	Words     uint16
	Triggered TriggerLocation
}

// Samples returns the number of readings captured.
func (c AnalogCompletion) Samples() int {
	if c.Channels == 2 {
		return int(c.Words)
	}
	return int(c.Words) * 2
}

// ChannelNames names the sampled inputs, trigger channel first.
func (c AnalogCompletion) ChannelNames() []string {
	return ADCChannelNames(c.Channels, c.Indexes)
}

// EncodeAnalogCompletion builds the 8 byte analog completion record.
func (p *Protocol) EncodeAnalogCompletion(c AnalogCompletion) []byte {
	buf := make([]byte, AnalogCompletionSize)
	buf[0] = byte(c.Halt)
	buf[1] = c.Channels
	buf[2] = c.Indexes
	buf[3] = byte(c.Hold)
	binary.LittleEndian.PutUint16(buf[4:], c.Words)
	binary.LittleEndian.PutUint16(buf[6:], uint16(c.Triggered))
	return buf
}

// DecodeAnalogCompletion parses the record sent when analog sampling ends.
func (p *Protocol) DecodeAnalogCompletion(b []byte) (AnalogCompletion, error) {
	if len(b) < AnalogCompletionSize {
		return AnalogCompletion{}, short("analog completion record", AnalogCompletionSize, len(b))
	}
	return AnalogCompletion{
		Halt:      HaltReason(b[0]),
		Channels:  b[1],
		Indexes:   b[2],
		Hold:      sample.ADCHold(b[3]),
		Words:     binary.LittleEndian.Uint16(b[4:]),
		Triggered: TriggerLocation(binary.LittleEndian.Uint16(b[6:])),
	}, nil
}

// ADCChannelNames names the ADC inputs packed in indexes.
func ADCChannelNames(chans, indexes uint8) []string {
	names := []string{fmt.Sprintf("PA%d", indexes&0x0f)}
	if chans == 2 {
		names = append(names, fmt.Sprintf("PA%d", indexes>>4))
	}
	return names
}
