package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/sample"
)

func TestEncodeAnalog(t *testing.T) {
	p := NewProtocol(DefaultMTU)
	tests := []struct {
		name string
		d    AnalogDescriptor
		want []byte
	}{
		{
			name: "single channel halves samples",
			d: AnalogDescriptor{
				TriggerChannel: 3,
				SecondChannel:  NoSecondChannel,
				Slope:          SlopePositive,
				Hold:           sample.Hold71_5,
				Ganged:         true,
				Samples:        1000,
				Level:          2048,
				Hysteresis:     62,
			},
			want: []byte{
				CmdAnalog, 3, 0x0f, 1, 6, 1,
				0xf4, 0x01, // 500 words
				0xc2, 0x07, // 1986
				0x00, 0x08, // 2048
			},
		},
		{
			name: "two channels clamp high",
			d: AnalogDescriptor{
				TriggerChannel: 0,
				SecondChannel:  1,
				Slope:          SlopeNegative,
				Hold:           sample.Hold239_5,
				Samples:        1000,
				Level:          4000,
				Hysteresis:     200,
			},
			want: []byte{
				CmdAnalog, 0, 1, 2, 7, 0,
				0xe8, 0x03,
				0xa0, 0x0f,
				0xff, 0x0f,
			},
		},
		{
			name: "slope disabled",
			d: AnalogDescriptor{
				TriggerChannel: 7,
				SecondChannel:  NoSecondChannel,
				Slope:          SlopeNone,
				Level:          -300,
			},
			want: []byte{
				CmdAnalog, 7, 0x0f, 0, 0, 0,
				0x00, 0x00,
				0x00, 0x00,
				0xff, 0x0f,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.EncodeAnalog(tt.d)
			if err != nil {
				t.Fatalf("EncodeAnalog() error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("EncodeAnalog() = % x, want % x", got, tt.want)
			}
			c, err := p.DecodeAnalog(got)
			if err != nil {
				t.Fatalf("DecodeAnalog() error: %v", err)
			}
			want, _ := tt.d.Command()
			if c != want {
				t.Fatalf("DecodeAnalog() = %+v, want %+v", c, want)
			}
		})
	}
}

func TestAnalogThresholds(t *testing.T) {
	tests := []struct {
		name        string
		slope       Slope
		level, hyst int
		lo, hi      uint16
		clamped     bool
	}{
		{"disabled", SlopeNone, 100, 5, 0, ADCMax, false},
		{"positive", SlopePositive, 2048, 62, 1986, 2048, false},
		{"positive below zero", SlopePositive, 30, 62, 0, 30, true},
		{"negative", SlopeNegative, 1000, 50, 1000, 1050, false},
		{"negative above max", SlopeNegative, 4000, 200, 4000, ADCMax, true},
		{"level below range", SlopeNegative, -5, 10, 0, 10, true},
		{"level above range", SlopePositive, 5000, 10, 4085, ADCMax, true},
		{"negative hysteresis", SlopePositive, 100, -3, 100, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := AnalogDescriptor{Slope: tt.slope, Level: tt.level, Hysteresis: tt.hyst}
			lo, hi, clamped := d.Thresholds()
			if lo != tt.lo || hi != tt.hi || clamped != tt.clamped {
				t.Fatalf("Thresholds() = %d, %d, %v, want %d, %d, %v", lo, hi, clamped, tt.lo, tt.hi, tt.clamped)
			}
		})
	}
}

func TestAnalogCommandErrors(t *testing.T) {
	base := DefaultAnalogDescriptor()
	tests := []struct {
		name   string
		modify func(*AnalogDescriptor)
	}{
		{"trigger channel", func(d *AnalogDescriptor) { d.TriggerChannel = 8 }},
		{"second channel", func(d *AnalogDescriptor) { d.SecondChannel = 9 }},
		{"slope", func(d *AnalogDescriptor) { d.Slope = 3 }},
		{"hold", func(d *AnalogDescriptor) { d.Hold = 8 }},
		{"one sample", func(d *AnalogDescriptor) { d.Samples = 1 }},
	}
	p := NewProtocol(DefaultMTU)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.modify(&d)
			if b, err := p.EncodeAnalog(d); err == nil {
				t.Fatalf("EncodeAnalog() = % x, want error", b)
			}
		})
	}

	if _, err := p.DecodeAnalog([]byte{CmdAnalog, 0, 0}); !errors.Is(err, ErrShortRecord) {
		t.Fatalf("DecodeAnalog(short) error = %v, want ErrShortRecord", err)
	}
	if _, err := p.DecodeAnalog(make([]byte, AnalogCommandSize)); err == nil {
		t.Fatalf("DecodeAnalog(wrong command) succeeded")
	}
}

func TestDecodeAnalogCompletion(t *testing.T) {
	p := NewProtocol(DefaultMTU)
	raw := []byte{byte(HaltSampleCount), 2, 0x31, 5, 0x10, 0x00, 0x00, 0x04}
	c, err := p.DecodeAnalogCompletion(raw)
	if err != nil {
		t.Fatalf("DecodeAnalogCompletion() error: %v", err)
	}
	want := AnalogCompletion{
		Halt:      HaltSampleCount,
		Channels:  2,
		Indexes:   0x31,
		Hold:      sample.Hold55_5,
		Words:     16,
		Triggered: TriggerAnalog,
	}
	if c != want {
		t.Fatalf("completion = %+v, want %+v", c, want)
	}
	if !bytes.Equal(p.EncodeAnalogCompletion(c), raw) {
		t.Fatalf("EncodeAnalogCompletion() = % x", p.EncodeAnalogCompletion(c))
	}
	if c.Samples() != 16 {
		t.Fatalf("Samples() = %d, want 16", c.Samples())
	}
	if names := c.ChannelNames(); len(names) != 2 || names[0] != "PA1" || names[1] != "PA3" {
		t.Fatalf("ChannelNames() = %v", names)
	}

	c.Channels = 1
	if c.Samples() != 32 {
		t.Fatalf("single channel Samples() = %d, want 32", c.Samples())
	}
	if _, err := p.DecodeAnalogCompletion(raw[:5]); !errors.Is(err, ErrShortRecord) {
		t.Fatalf("short completion error = %v", err)
	}
}

func TestParseSlope(t *testing.T) {
	tests := []struct {
		in      string
		want    Slope
		wantErr bool
	}{
		{in: "positive", want: SlopePositive},
		{in: "NEG", want: SlopeNegative},
		{in: "disabled", want: SlopeNone},
		{in: "none", want: SlopeNone},
		{in: "up", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSlope(tt.in)
			if tt.wantErr != (err != nil) {
				t.Fatalf("ParseSlope(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("ParseSlope(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
