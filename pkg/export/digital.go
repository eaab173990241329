package export

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/frame"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/sample"
)

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func lineMask(chans []Channel) uint8 {
	var mask uint8
	for _, ch := range chans {
		mask |= 1 << ch.Line
	}
	return mask
}

func level(bits uint8, line uint8) int {
	return int(bits>>line) & 1
}

// renderCSV writes one row per sample: elapsed seconds, then 0/1 per
// channel.
func renderCSV(w io.Writer, words []sample.Raw, opts Options, res *Result) error {
	ew := &errWriter{w: w}
	ew.printf("time")
	for _, ch := range opts.Channels {
		ew.printf(",%s", ch.Name)
	}
	ew.printf("\n")

	var s sample.Stream
	for _, word := range words {
		ev := s.Push(word)
		ew.printf("%s", strconv.FormatFloat(opts.Clock.Seconds(ev.Elapsed), 'g', -1, 64))
		for _, ch := range opts.Channels {
			ew.printf(",%d", level(ev.Bits, ch.Line))
		}
		ew.printf("\n")
		res.Rows++
	}
	res.Elapsed = s.Elapsed()
	return ew.err
}

// renderVCD writes a value change dump. A time block is written for the
// first sample and for every sample whose exported lines differ from the
// previous block; only changed lines are listed after the first.
func renderVCD(w io.Writer, words []sample.Raw, opts Options, res *Result) error {
	ew := &errWriter{w: w}
	ew.printf("$timescale %d %s $end\n", opts.Timescale.PerTick, opts.Timescale.Unit)
	ew.printf("$scope module top $end\n")
	ew.printf("$var wire 1 z blk $end\n")
	for _, ch := range opts.Channels {
		ew.printf("$var wire 1 %d %s $end\n", ch.Line, ch.Name)
	}
	ew.printf("$upscope $end\n")
	ew.printf("$enddefinitions $end\n")

	var (
		s       sample.Stream
		active  = lineMask(opts.Channels)
		last    uint8
		at      float64
		emitted bool
	)
	for _, word := range words {
		ev := s.Push(word)
		bits := ev.Bits & active
		if emitted && bits == last {
			continue
		}
		at = opts.Timescale.units(ev.Elapsed, opts.Clock)
		ew.printf("#%d\n", int64(math.Round(at)))
		for _, ch := range opts.Channels {
			if !emitted || level(bits^last, ch.Line) != 0 {
				ew.printf("%d%d\n", level(bits, ch.Line), ch.Line)
			}
		}
		last = bits
		emitted = true
		res.Rows++
	}
	res.Elapsed = s.Elapsed()

	if opts.TrailingEdge && emitted {
		// +2 so rounding cannot land on the last edge
		ew.printf("#%d\n", int64(math.Round(at+2)))
		for _, ch := range opts.Channels {
			ew.printf("%d%d\n", level(last, ch.Line), ch.Line)
		}
	}
	return ew.err
}

// renderTerminal writes the upload summary and one table row per sample:
// index, pattern in hex and binary, channel names of the high lines, and
// ticks and time since the previous sample.
func renderTerminal(w io.Writer, h frame.UploadHeader, words []sample.Raw, opts Options, res *Result) error {
	r := lipgloss.NewRenderer(w)
	title := r.NewStyle().Bold(true)
	dim := r.NewStyle().Faint(true)

	ew := &errWriter{w: w}
	ew.printf("%s\n", title.Render(res.Summary))
	if len(words) == 0 {
		return ew.err
	}

	// most significant line first, as on the connector
	chans := append([]Channel(nil), opts.Channels...)
	sort.SliceStable(chans, func(i, j int) bool { return chans[i].Line > chans[j].Line })
	width := 0
	for _, ch := range chans {
		width += len(ch.Name) + 1
	}

	ew.printf("%s\n", dim.Render(fmt.Sprintf("%5s  %2s  %-8s   %-*s  %8s  %s",
		"index", "hx", "lines", width-1, "channels", "ticks", "time")))

	var s sample.Stream
	names := make([]string, len(chans))
	for i, word := range words {
		ev := s.Push(word)
		for j, ch := range chans {
			if level(ev.Bits, ch.Line) == 1 {
				names[j] = ch.Name
			} else {
				names[j] = dim.Render(strings.Repeat(".", len(ch.Name)))
			}
		}
		ew.printf("%5d  %02x  %08b   %s  %8d  %s\n",
			int(h.First)+i, ev.Bits, ev.Bits, strings.Join(names, " "),
			ev.Delta, formatSeconds(opts.Clock.Seconds(ev.Delta)))
		res.Rows++
	}
	res.Elapsed = s.Elapsed()
	return ew.err
}
