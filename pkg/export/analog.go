package export

import (
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/frame"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/sample"
)

// analogNames names the ADC inputs of an analog upload, trigger channel
// first.
func analogNames(h frame.UploadHeader) []string {
	return frame.ADCChannelNames(h.ADCChans, h.ADCIndexes)
}

// renderAnalog writes ADC readings as raw counts, CSV or a terminal table.
// Single channel words hold two consecutive readings and produce two rows.
func renderAnalog(w io.Writer, h frame.UploadHeader, words []sample.Raw, opts Options, res *Result) error {
	layout := sample.AnalogLayout{
		Channels:     1,
		First:        h.First,
		TicksPerSlot: sample.ADCHold(h.ADCHold).Ticks(),
	}
	if h.ADCChans == 2 {
		layout.Channels = 2
	}
	names := analogNames(h)
	events := sample.DecodeAnalog(words, layout)

	ew := &errWriter{w: w}
	if opts.Format == FormatCSV {
		ew.printf("time")
		for _, name := range names {
			ew.printf(",%s", name)
		}
		ew.printf("\n")
	} else {
		title := lipgloss.NewRenderer(w).NewStyle().Bold(true)
		ew.printf("%s\n", title.Render(res.Summary))
	}

	for _, ev := range events {
		seconds := opts.Clock.Seconds(ev.Elapsed)
		if opts.Format == FormatCSV {
			ew.printf("%s,%d", strconv.FormatFloat(seconds, 'g', -1, 64), ev.Values[0])
			if layout.Channels == 2 {
				ew.printf(",%d", ev.Values[1])
			}
		} else {
			ew.printf("%4d   %12s    %s %4d", ev.Elapsed/layout.TicksPerSlot, formatSeconds(seconds), names[0], ev.Values[0])
			if layout.Channels == 2 {
				ew.printf("   %s %4d", names[1], ev.Values[1])
			}
		}
		ew.printf("\n")
		res.Rows++
		res.Elapsed = ev.Elapsed
	}
	return ew.err
}
