package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/OpenTraceLab/OpenTraceLogic/internal/logging"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/export"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/frame"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/link"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/sample"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/trigger"
)

func newSession(t *testing.T, sim *link.Sim) *Session {
	t.Helper()
	p := frame.NewProtocol(frame.DefaultMTU)
	s := NewSession(link.NewDevice(sim, p), p, logging.Discard())
	s.Grace = 10 * time.Millisecond
	s.ReplyTimeout = 100 * time.Millisecond
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	return s
}

func table(t *testing.T, defs ...string) trigger.Graph {
	t.Helper()
	var states []trigger.State
	for _, def := range defs {
		st, err := trigger.ParseDefinition(def)
		if err != nil {
			t.Fatalf("ParseDefinition(%q): %v", def, err)
		}
		states = append(states, st)
	}
	return trigger.FromStates(states...)
}

func TestCaptureAndUpload(t *testing.T) {
	sim := link.NewSim(0, 0, 1, 1, 0, 1, 0)
	s := newSession(t, sim)

	// rising edge on line 0
	g := table(t, "0=xxxxxxx0-1-0", "1=xxxxxxx1-0-1")
	d := frame.DefaultDescriptor()
	d.MaxEvents = 4

	res, err := s.Capture(context.Background(), g, d)
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	c := res.Completion
	if c.Halt != frame.HaltSampleCount || c.SampleCount != 4 || c.Triggered != frame.TriggerNormal|1 {
		t.Fatalf("completion = %+v", c)
	}
	if res.Aborted {
		t.Fatalf("capture reported aborted")
	}

	up, err := s.Upload(context.Background(), 0, c.SampleCount)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if len(up.Words) != 4 || up.Header.Total != 4 {
		t.Fatalf("upload header %+v, %d words", up.Header, len(up.Words))
	}
	events := sample.DecodeDigital(up.Words)
	wantBits := []uint8{1, 0, 1, 0}
	var last uint64
	for i, ev := range events {
		if ev.Bits != wantBits[i] {
			t.Fatalf("event %d bits = %d, want %d", i, ev.Bits, wantBits[i])
		}
		if i > 0 && ev.Elapsed <= last {
			t.Fatalf("elapsed not increasing at %d: %d after %d", i, ev.Elapsed, last)
		}
		last = ev.Elapsed
	}
	if last != 4*link.DefaultSimPeriod {
		t.Fatalf("elapsed = %d, want %d", last, 4*link.DefaultSimPeriod)
	}
}

func TestCaptureRefusesInvalidTable(t *testing.T) {
	sim := link.NewSim(1)
	s := newSession(t, sim)

	// pass loop 0 -> 1 -> 1
	g := table(t, "0=xxxxxxx1-1-0", "1=xxxxxxx0-1-0")
	_, err := s.Capture(context.Background(), g, frame.DefaultDescriptor())
	var verrs trigger.ValidationErrors
	if !errors.As(err, &verrs) || !verrs.Has(trigger.KindPassLoop) {
		t.Fatalf("Capture error = %v, want pass loop", err)
	}
	if len(sim.Captures()) != 0 {
		t.Fatalf("invalid table was sent")
	}

	// fail target 2 is undefined but never reached
	dangling := table(t, "0=xxxxxxx1-0-0", "1=xxxxxxx0-0-2")
	var asked error
	s.Confirm = func(err error) bool {
		asked = err
		return true
	}
	res, err := s.Capture(context.Background(), dangling, frame.CaptureDescriptor{Duration: time.Second, MaxEvents: frame.UnlimitedEvents})
	if err != nil {
		t.Fatalf("confirmed Capture returned error: %v", err)
	}
	if asked == nil {
		t.Fatalf("Confirm was not consulted")
	}
	if res.Completion.Halt != frame.HaltTimeElapsed || res.Completion.SampleCount != 1 {
		t.Fatalf("completion = %+v", res.Completion)
	}
	if len(sim.Captures()) != 1 {
		t.Fatalf("captures sent = %d, want 1", len(sim.Captures()))
	}
}

func TestCaptureInterrupted(t *testing.T) {
	// never sees line 0 high
	sim := link.NewSim(0, 0, 0)
	s := newSession(t, sim)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res, err := s.Capture(ctx, table(t, "0=xxxxxxx1-0-0"), frame.DefaultDescriptor())
	if err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if !res.Aborted {
		t.Fatalf("capture not marked aborted")
	}
	c := res.Completion
	if c.Halt != frame.HaltUserInterrupt || c.Triggered != frame.TriggerNot {
		t.Fatalf("completion = %+v", c)
	}
	if sim.Halts() != 1 {
		t.Fatalf("halts = %d, want 1", sim.Halts())
	}
	want := "Not triggered, interrupted at state #0: 0 samples (6.26MHz) in"
	if got := res.Summary(); len(got) < len(want) || got[:len(want)] != want {
		t.Fatalf("summary = %q", got)
	}
}

// splitLink delivers the first split bytes of a completion record and
// then blocks until the read is cancelled.
type splitLink struct {
	pending []byte
	split   int
	reads   []int
	halts   int
}

func (l *splitLink) Write(p []byte) error { return nil }

func (l *splitLink) Read(ctx context.Context, size int, timeout time.Duration) ([]byte, error) {
	l.reads = append(l.reads, size)
	if len(l.reads) == 1 {
		<-ctx.Done()
		got := l.pending[:l.split]
		l.pending = l.pending[l.split:]
		return got, &link.Error{Op: "read", Want: size, Got: len(got), Err: link.ErrInterrupted}
	}
	if len(l.pending) < size {
		return l.pending, &link.Error{Op: "read", Want: size, Got: len(l.pending), Err: link.ErrShortRead}
	}
	got := l.pending[:size]
	l.pending = l.pending[size:]
	return got, nil
}

func (l *splitLink) Halt() error {
	l.halts++
	return nil
}

func (l *splitLink) Flush(ctx context.Context, grace time.Duration) (int, error) { return 0, nil }

func (l *splitLink) Close() error { return nil }

func TestCaptureInterruptedMidCompletion(t *testing.T) {
	p := frame.NewProtocol(frame.DefaultMTU)
	want := frame.Completion{
		Mode:        frame.ModeUniform,
		Halt:        frame.HaltSampleCount,
		Triggered:   frame.TriggerNormal | 3,
		SampleCount: 0x1234,
	}

	for _, split := range []int{0, 1, 4, 5} {
		t.Run(fmt.Sprintf("split %d", split), func(t *testing.T) {
			l := &splitLink{pending: p.EncodeCompletion(want), split: split}
			s := NewSession(l, p, logging.Discard())

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			res, err := s.Arm(ctx, table(t, "0=xxxxxxx1-0-0"), frame.DefaultDescriptor())
			if err != nil {
				t.Fatalf("Arm returned error: %v", err)
			}
			if res.Completion != want {
				t.Fatalf("completion = %+v, want %+v", res.Completion, want)
			}
			if !res.Aborted || l.halts != 1 {
				t.Fatalf("aborted = %v, halts = %d", res.Aborted, l.halts)
			}
			if len(l.reads) != 2 || l.reads[0] != frame.CompletionSize || l.reads[1] != frame.CompletionSize-split {
				t.Fatalf("read sizes = %v, want [%d %d]", l.reads, frame.CompletionSize, frame.CompletionSize-split)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	r := Result{
		Completion: frame.Completion{
			Mode:        frame.ModeUniform,
			Halt:        frame.HaltTimeElapsed,
			Triggered:   frame.TriggerNormal | 2,
			SampleCount: 120,
		},
		Elapsed: 1500 * time.Millisecond,
	}
	want := "Triggered at state #2: 120 samples (uniform) in 1.50 seconds. Stopped by time elapsed."
	if got := r.Summary(); got != want {
		t.Fatalf("Summary = %q, want %q", got, want)
	}
}

func TestArmAnalog(t *testing.T) {
	sim := link.NewSim()
	sim.AnalogInputs = [][2]uint16{{100, 7}, {3000, 8}, {3100, 9}, {3200, 10}, {3300, 11}, {3400, 12}}
	s := newSession(t, sim)

	d := frame.AnalogDescriptor{
		TriggerChannel: 4,
		SecondChannel:  frame.NoSecondChannel,
		Slope:          frame.SlopePositive,
		Hold:           sample.Hold239_5,
		Samples:        4,
		Level:          2048,
		Hysteresis:     62,
	}
	res, err := s.ArmAnalog(context.Background(), d)
	if err != nil {
		t.Fatalf("ArmAnalog returned error: %v", err)
	}
	c := res.Completion
	if c.Halt != frame.HaltSampleCount || c.Samples() != 4 || c.Triggered != frame.TriggerAnalog || res.Aborted {
		t.Fatalf("result = %+v", res)
	}
	want := "4 samples, 1 channel (PA4) at 239.5+12.5@12MHz->47.6kHz in"
	if got := res.Summary(); !strings.HasPrefix(got, want) || !strings.HasSuffix(got, "Triggered on analog level/slope/hysteresis. Stopped by number of samples.") {
		t.Fatalf("summary = %q", got)
	}

	up, err := s.Upload(context.Background(), 0, uint16(c.Samples()))
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if len(up.Words) != 2 || up.Words[0] != sample.Analog(3000, 3100) {
		t.Fatalf("words = %#x", up.Words)
	}
	if got := export.Summary(up.Header); got != "Samples 0...3 of 4 (max 9684)  1 channel (PA4) per sample at 239.5+12.5@12MHz->47.6kHz" {
		t.Fatalf("upload summary = %q", got)
	}
}

func TestArmAnalogInterrupted(t *testing.T) {
	sim := link.NewSim()
	sim.AnalogInputs = [][2]uint16{{100, 0}, {200, 0}}
	s := newSession(t, sim)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	d := frame.DefaultAnalogDescriptor()
	d.SecondChannel = 5
	res, err := s.ArmAnalog(ctx, d)
	if err != nil {
		t.Fatalf("ArmAnalog returned error: %v", err)
	}
	if !res.Aborted || sim.Halts() != 1 {
		t.Fatalf("aborted = %v, halts = %d", res.Aborted, sim.Halts())
	}
	c := res.Completion
	if c.Halt != frame.HaltUserInterrupt || c.Triggered != frame.TriggerAnalog|frame.TriggerNot || c.Channels != 2 {
		t.Fatalf("completion = %+v", c)
	}
	if got := res.Summary(); !strings.HasPrefix(got, "0 samples, 2 channels (PA0,PA5) at") {
		t.Fatalf("summary = %q", got)
	}
}

func TestArmAnalogRejectsBadDescriptor(t *testing.T) {
	sim := link.NewSim()
	s := newSession(t, sim)
	d := frame.DefaultAnalogDescriptor()
	d.TriggerChannel = 9
	if _, err := s.ArmAnalog(context.Background(), d); err == nil {
		t.Fatalf("ArmAnalog accepted trigger channel 9")
	}
	if n := len(sim.AnalogCaptures()); n != 0 {
		t.Fatalf("analog captures sent = %d, want 0", n)
	}
}

func TestAnalogSummary(t *testing.T) {
	tests := []struct {
		name string
		c    frame.AnalogCompletion
		want string
	}{
		{
			name: "two channels",
			c:    frame.AnalogCompletion{Halt: frame.HaltSampleCount, Channels: 2, Indexes: 0x21, Hold: sample.Hold1_5, Words: 10, Triggered: frame.TriggerAnalog},
			want: "10 samples, 2 channels (PA1,PA2) at 1.5+12.5@12MHz->857kHz in 0.25 seconds. Triggered on analog level/slope/hysteresis. Stopped by number of samples.",
		},
		{
			name: "unknown hold",
			c:    frame.AnalogCompletion{Halt: frame.HaltUserInterrupt, Channels: 1, Indexes: 0xf3, Hold: 9, Words: 10, Triggered: frame.TriggerAnalog | frame.TriggerExternal},
			want: "20 samples, 1 channel (PA3) at ??? in 0.25 seconds. Triggered via external sync while waiting for analog slope/level/hysteresis. Stopped by user interrupt.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := AnalogResult{Completion: tt.c, Elapsed: 250 * time.Millisecond}
			if got := r.Summary(); got != tt.want {
				t.Fatalf("Summary = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUploadFailureHalts(t *testing.T) {
	sim := link.NewSim(0, 1, 0, 1, 0)
	sim.DropUpload = 2
	s := newSession(t, sim)

	if _, err := s.Capture(context.Background(), table(t, "0=xxxxxxx1-0-0"), frame.CaptureDescriptor{MaxEvents: 4}); err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	up, err := s.Upload(context.Background(), 0, 4)
	if !errors.Is(err, link.ErrTimeout) {
		t.Fatalf("Upload error = %v, want ErrTimeout", err)
	}
	if len(up.Words) != 2 {
		t.Fatalf("words before failure = %d, want 2", len(up.Words))
	}
	if sim.Halts() != 1 {
		t.Fatalf("halts = %d, want 1", sim.Halts())
	}
}

func TestUploadEmpty(t *testing.T) {
	sim := link.NewSim()
	s := newSession(t, sim)

	up, err := s.Upload(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if !up.Header.Empty() || len(up.Words) != 0 {
		t.Fatalf("upload = %+v", up)
	}
	if got := export.Summary(up.Header); got != "Zero samples uploaded (of max memory capacity 4842 samples)" {
		t.Fatalf("summary = %q", got)
	}
}

func TestConnectToleratesVersionMismatch(t *testing.T) {
	sim := link.NewSim()
	sim.Version = frame.Version{Major: 1}
	p := frame.NewProtocol(frame.DefaultMTU)
	s := NewSession(link.NewDevice(sim, p), p, nil)
	v, err := s.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if v != sim.Version {
		t.Fatalf("version = %s, want %s", v, sim.Version)
	}
}
