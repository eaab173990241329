// Package export renders uploaded captures as CSV, VCD, or a terminal
// table.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/frame"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/sample"
)

var (
	// ErrDestination is returned when the output file cannot be written.
	ErrDestination = errors.New("export: destination unavailable")
	// ErrAnalogSparse is returned for analog captures in an edge format.
	ErrAnalogSparse = errors.New("export: analog captures have no sparse form")
)

// Format selects the output representation.
type Format uint8

const (
	FormatTerminal Format = iota
	FormatCSV
	FormatVCD
)

var formatNames = [...]string{"terminal", "csv", "vcd"}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", f)
}

// Suffix is the file extension for f, without the dot.
func (f Format) Suffix() string {
	if f == FormatTerminal {
		return "txt"
	}
	return f.String()
}

// ParseFormat accepts the names returned by String.
func ParseFormat(name string) (Format, error) {
	for i, n := range formatNames {
		if strings.EqualFold(n, name) {
			return Format(i), nil
		}
	}
	return 0, fmt.Errorf("export: unknown format %q", name)
}

// Channel names one digital input line. Line 0 is the lowest bit of the
// sample pattern.
type Channel struct {
	Line uint8
	Name string
}

var defaultNames = [sample.Lines]string{"brn", "red", "org", "yel", "grn", "blu", "vio", "gry"}

// DefaultName is the color-code name of line.
func DefaultName(line uint8) string {
	if int(line) < len(defaultNames) {
		return defaultNames[line]
	}
	return fmt.Sprintf("ch%d", line)
}

// DefaultChannels lists all eight lines with their default names.
func DefaultChannels() []Channel {
	chans := make([]Channel, sample.Lines)
	for i := range chans {
		chans[i] = Channel{Line: uint8(i), Name: defaultNames[i]}
	}
	return chans
}

// Options control rendering.
type Options struct {
	Format Format
	// Channels are the digital lines to export, in column order. Empty
	// means all lines.
	Channels  []Channel
	Timescale Timescale
	Clock     sample.Clock
	// TrailingEdge repeats the final pattern after the last edge for
	// viewers that drop an unterminated last level.
	TrailingEdge bool
}

// DefaultOptions renders a terminal table of all lines.
func DefaultOptions() Options {
	return Options{
		Format:    FormatTerminal,
		Channels:  DefaultChannels(),
		Timescale: DefaultTimescale,
		Clock:     sample.DefaultClock,
	}
}

func (o Options) normalized() Options {
	if len(o.Channels) == 0 {
		o.Channels = DefaultChannels()
	}
	if o.Timescale.PerTick == 0 {
		o.Timescale = DefaultTimescale
	}
	if o.Clock.Hz == 0 {
		o.Clock = sample.DefaultClock
	}
	return o
}

// Capture is one upload: its header and the words that followed it.
type Capture struct {
	Header frame.UploadHeader
	Words  []sample.Raw
}

// Analog reports whether c holds ADC readings.
func (c Capture) Analog() bool {
	return c.Header.Mode == frame.ModeAnalog
}

// Result describes what Render produced.
type Result struct {
	Summary string
	Rows    int
	// Elapsed is the time spanned by the exported samples, in ticks.
	Elapsed uint64
}

// Summary is the one-line description of an upload.
func Summary(h frame.UploadHeader) string {
	if h.Empty() {
		return fmt.Sprintf("Zero samples uploaded (of max memory capacity %d samples)", h.MaxMemory)
	}
	if h.Mode == frame.ModeAnalog {
		names := analogNames(h)
		per := 2
		if h.ADCChans == 2 {
			per = 1
		}
		plural := "s"
		if h.ADCChans != 2 {
			plural = ""
		}
		rate := "???"
		if hold := sample.ADCHold(h.ADCHold); hold <= sample.Hold239_5 {
			rate = hold.String()
		}
		return fmt.Sprintf("Samples %d...%d of %d (max %d)  %d channel%s (%s) per sample at %s",
			int(h.First)*per, (int(h.First)+int(h.Count))*per-1,
			int(h.Total)*per, int(h.MaxMemory)*per,
			len(names), plural, strings.Join(names, ","), rate)
	}
	return fmt.Sprintf("logic samples: %d...%d of %d (max %d) @ %s",
		h.First, int(h.First)+int(h.Count)-1, h.Total, h.MaxMemory, h.Mode)
}

// Render writes c to w in the selected format.
func Render(w io.Writer, c Capture, opts Options) (Result, error) {
	opts = opts.normalized()
	if err := opts.Timescale.Validate(); err != nil {
		return Result{}, err
	}
	for _, ch := range opts.Channels {
		if ch.Line >= sample.Lines {
			return Result{}, fmt.Errorf("export: channel %q on line %d out of range [0 ... %d]", ch.Name, ch.Line, sample.Lines-1)
		}
	}

	res := Result{Summary: Summary(c.Header)}
	words := c.Words
	if c.Header.Empty() {
		words = nil
	}

	var err error
	switch {
	case c.Analog() && opts.Format == FormatVCD:
		return res, ErrAnalogSparse
	case c.Analog():
		err = renderAnalog(w, c.Header, words, opts, &res)
	case opts.Format == FormatCSV:
		err = renderCSV(w, words, opts, &res)
	case opts.Format == FormatVCD:
		err = renderVCD(w, words, opts, &res)
	default:
		err = renderTerminal(w, c.Header, words, opts, &res)
	}
	if err != nil {
		return res, fmt.Errorf("export: could not render %s: %w", opts.Format, err)
	}
	return res, nil
}
