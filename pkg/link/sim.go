package link

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/frame"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/sample"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/trigger"
)

const (
	// DefaultSimPeriod is the simulated input rate, one pattern every 10µs.
	DefaultSimPeriod = 720
	// DefaultSimMemory is the simulated sample capacity.
	DefaultSimMemory = 4842
)

// minCaptureEvents is the firmware floor on the event limit: the triggering
// sample plus two more.
const minCaptureEvents = 3

var errSimClosed = errors.New("simulator closed")

// SimCapture records one capture command received by the simulator.
type SimCapture struct {
	Graph      trigger.Graph
	Descriptor frame.CaptureDescriptor
}

// Sim is an in-memory device for tests and for running without hardware.
// It answers the connect handshake, runs received trigger tables against
// Inputs, triggers analog captures on AnalogInputs, and serves uploads of
// what it recorded.
type Sim struct {
	// Inputs is the line pattern sequence the sampler sees, one pattern every
	// Period ticks.
	Inputs []uint8
	// AnalogInputs is the ADC reading sequence, one per conversion: the
	// trigger channel first, the second channel after it.
	AnalogInputs [][2]uint16
	Period    uint32
	MaxMemory uint16
	// StartTick is the counter value at Inputs[0].
	StartTick uint32
	// DropUpload, when positive, ends each upload after that many words.
	DropUpload int
	// Version is reported in reply to a version request.
	Version frame.Version

	protocol *frame.Protocol

	mu        sync.Mutex
	in        []byte
	out       []byte
	ready     chan struct{}
	closed    bool
	connected bool

	armed    bool
	analog   bool
	pending  frame.Completion
	scope    frame.AnalogCompletion
	upload   frame.UploadHeader
	samples  []sample.Raw
	captures []SimCapture
	scopes   []frame.AnalogCommand
	halts    int
}

// NewSim creates a simulator presenting inputs to its sampler.
func NewSim(inputs ...uint8) *Sim {
	return &Sim{
		Inputs:    inputs,
		Period:    DefaultSimPeriod,
		MaxMemory: DefaultSimMemory,
		StartTick: sample.TickModulus - 1,
		Version:   frame.FirmwareVersion,
		protocol:  frame.NewProtocol(frame.DefaultMTU),
		ready:     make(chan struct{}, 1),
	}
}

// Captures returns the capture commands received so far.
func (s *Sim) Captures() []SimCapture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SimCapture(nil), s.captures...)
}

// AnalogCaptures returns the analog capture commands received so far.
func (s *Sim) AnalogCaptures() []frame.AnalogCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame.AnalogCommand(nil), s.scopes...)
}

// Halts reports how many halt commands were received.
func (s *Sim) Halts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halts
}

// Samples returns the words recorded by the last capture.
func (s *Sim) Samples() []sample.Raw {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sample.Raw(nil), s.samples...)
}

// Armed reports whether a capture is waiting to be halted.
func (s *Sim) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// LoadAnalog replaces the sample memory with an analog capture. words holds
// two readings each: one from each channel when chans is 2, consecutive
// readings of one channel otherwise.
func (s *Sim) LoadAnalog(words []sample.Raw, chans uint8, hold sample.ADCHold) {
	s.mu.Lock()
	defer s.mu.Unlock()
	indexes := uint8(0xf0)
	if chans == 2 {
		indexes = 0x10
	}
	s.samples = append([]sample.Raw(nil), words...)
	s.upload = frame.UploadHeader{
		Mode:       frame.ModeAnalog,
		ADCChans:   chans,
		ADCIndexes: indexes,
		ADCHold:    uint8(hold),
		ADCSamples: uint16(len(words)),
	}
}

func (s *Sim) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSimClosed
	}
	s.in = append(s.in, p...)
	s.process()
	return len(p), nil
}

func (s *Sim) ReadContext(ctx context.Context, p []byte) (int, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return 0, errSimClosed
		}
		if len(s.out) > 0 {
			n := copy(p, s.out)
			s.out = s.out[n:]
			s.mu.Unlock()
			return n, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.ready:
		}
	}
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ready)
	}
	return nil
}

func (s *Sim) send(b []byte) {
	s.out = append(s.out, b...)
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// process consumes every complete command in the input buffer.
func (s *Sim) process() {
	for len(s.in) > 0 {
		if !s.connected {
			if !s.awaitSignature() {
				return
			}
			continue
		}
		if s.armed {
			// Any traffic interrupts a running capture.
			if len(s.in) < frame.CommandSize {
				return
			}
			if s.in[0] == frame.CmdHalt {
				s.halts++
			}
			s.in = s.in[frame.CommandSize:]
			s.finish(frame.HaltUserInterrupt)
			continue
		}

		need := frame.CommandSize
		switch s.in[0] {
		case frame.CmdSign:
			need = frame.SignatureSize
		case frame.CmdDigital:
			need = max(s.protocol.CaptureLength(s.in), frame.CaptureHeaderSize)
		case frame.CmdAnalog:
			need = frame.AnalogCommandSize
		case frame.CmdUpload:
			need = frame.UploadRequestSize
		case frame.CmdIdentity, frame.CmdVersion, frame.CmdHalt,
			frame.CmdReset, frame.CmdSerial, frame.CmdBlink:
		default:
			s.in = s.in[1:]
			continue
		}
		if len(s.in) < need {
			return
		}
		cmd := s.in[:need]
		s.in = s.in[need:]
		s.handle(cmd)
	}
}

// awaitSignature discards bytes until the connect signature arrives.
func (s *Sim) awaitSignature() bool {
	sig := s.protocol.Signature()
	if i := bytes.Index(s.in, sig); i >= 0 {
		s.in = s.in[i+len(sig):]
		s.connected = true
		s.sendIdentity()
		return true
	}
	if keep := len(sig) - 1; len(s.in) > keep {
		s.in = s.in[len(s.in)-keep:]
	}
	return false
}

func (s *Sim) sendIdentity() {
	b := make([]byte, frame.IdentitySize)
	id := uint32(frame.Identity)
	b[0], b[1], b[2], b[3] = byte(id), byte(id>>8), byte(id>>16), byte(id>>24)
	s.send(b)
}

func (s *Sim) handle(cmd []byte) {
	switch cmd[0] {
	case frame.CmdSign:
		if s.protocol.IsSignature(cmd) {
			s.sendIdentity()
		}
	case frame.CmdIdentity:
		s.sendIdentity()
	case frame.CmdVersion:
		s.send([]byte{s.Version.Major, s.Version.Minor, s.Version.Patch})
	case frame.CmdHalt:
		s.halts++
	case frame.CmdDigital:
		s.capture(cmd)
	case frame.CmdAnalog:
		s.captureAnalog(cmd)
	case frame.CmdUpload:
		s.serveUpload(cmd)
	}
}

// capture runs the trigger table over Inputs and records samples from the
// triggering input on. Sampling ends at the event limit, at the end of the
// inputs if a duration was set, and otherwise stays armed until halted.
func (s *Sim) capture(cmd []byte) {
	g, d, err := s.protocol.DecodeCapture(cmd)
	if err != nil {
		return
	}
	s.captures = append(s.captures, SimCapture{Graph: g, Descriptor: d})
	s.analog = false
	s.samples = s.samples[:0]
	s.upload = frame.UploadHeader{Mode: d.Mode}
	s.pending = frame.Completion{Mode: d.Mode}

	m := trigger.NewMachine(g)
	pos, err := m.Run(s.Inputs)
	if err != nil || pos < 0 {
		s.pending.Triggered = frame.TriggerNot | frame.TriggerLocation(m.State())
		s.armed = true
		return
	}
	_, at := m.Triggered()
	s.pending.Triggered = frame.TriggerNormal | frame.TriggerLocation(at)

	limit := int(s.MaxMemory)
	if d.MaxEvents != frame.UnlimitedEvents {
		limit = min(limit, max(int(d.MaxEvents), minCaptureEvents))
	}

	var last uint64
	for i := pos; i < len(s.Inputs); i++ {
		elapsed := uint64(i) * uint64(s.Period)
		changed := i == pos || s.Inputs[i] != s.Inputs[i-1]
		// A sample per counter period keeps the wrap count recoverable.
		wrapping := elapsed-last >= sample.TickModulus-uint64(s.Period)
		if !changed && !wrapping {
			continue
		}
		tick := uint32((uint64(s.StartTick) + sample.TickModulus - elapsed%sample.TickModulus) % sample.TickModulus)
		s.samples = append(s.samples, sample.Digital(tick, s.Inputs[i]))
		last = elapsed
		if len(s.samples) >= limit {
			s.finish(frame.HaltSampleCount)
			return
		}
	}
	if d.Duration > 0 {
		s.finish(frame.HaltTimeElapsed)
		return
	}
	s.armed = true
}

// captureAnalog waits for the slope and level of the trigger channel in
// AnalogInputs, then records readings from there on. Sampling ends once the
// word limit is reached and otherwise stays armed until halted.
func (s *Sim) captureAnalog(cmd []byte) {
	c, err := s.protocol.DecodeAnalog(cmd)
	if err != nil {
		return
	}
	s.scopes = append(s.scopes, c)
	s.analog = true
	s.samples = s.samples[:0]

	chans := uint8(2)
	if c.SecondChannel == frame.NoSecondChannel {
		chans = 1
	}
	indexes := c.TriggerChannel&0x0f | c.SecondChannel<<4
	s.upload = frame.UploadHeader{
		Mode:       frame.ModeAnalog,
		ADCChans:   chans,
		ADCIndexes: indexes,
		ADCHold:    uint8(c.Hold),
	}
	s.scope = frame.AnalogCompletion{
		Channels:  chans,
		Indexes:   indexes,
		Hold:      c.Hold,
		Triggered: frame.TriggerAnalog,
	}

	pos := analogTrigger(s.AnalogInputs, c)
	if pos < 0 {
		s.scope.Triggered |= frame.TriggerNot
		s.armed = true
		return
	}

	limit := int(s.MaxMemory)
	if c.Words != frame.UnlimitedAnalogSamples {
		limit = min(limit, int(c.Words))
	}
	in := s.AnalogInputs[pos:]
	for len(s.samples) < limit {
		if chans == 2 && len(in) >= 1 {
			s.samples = append(s.samples, sample.Analog(in[0][0], in[0][1]))
			in = in[1:]
		} else if chans == 1 && len(in) >= 2 {
			s.samples = append(s.samples, sample.Analog(in[0][0], in[1][0]))
			in = in[2:]
		} else {
			break
		}
	}
	if len(s.samples) >= limit {
		s.finish(frame.HaltSampleCount)
		return
	}
	s.armed = true
}

// analogTrigger returns the index of the reading that fires c, or -1. A
// positive slope fires at LevelHigh after a reading below LevelLow, a
// negative one at LevelLow after a reading above LevelHigh.
func analogTrigger(inputs [][2]uint16, c frame.AnalogCommand) int {
	if c.Slope == frame.SlopeNone {
		return 0
	}
	primed := false
	for i, in := range inputs {
		v := in[0]
		switch c.Slope {
		case frame.SlopePositive:
			if primed && v >= c.LevelHigh {
				return i
			}
			primed = primed || v < c.LevelLow
		case frame.SlopeNegative:
			if primed && v <= c.LevelLow {
				return i
			}
			primed = primed || v > c.LevelHigh
		}
	}
	return -1
}

func (s *Sim) finish(halt frame.HaltReason) {
	s.armed = false
	if s.analog {
		s.scope.Halt = halt
		s.scope.Words = uint16(len(s.samples))
		s.upload.ADCSamples = uint16(len(s.samples))
		s.send(s.protocol.EncodeAnalogCompletion(s.scope))
		return
	}
	s.pending.Halt = halt
	s.pending.SampleCount = uint16(len(s.samples))
	s.send(s.protocol.EncodeCompletion(s.pending))
}

func (s *Sim) serveUpload(cmd []byte) {
	first, count, err := s.protocol.DecodeUpload(cmd)
	if err != nil {
		return
	}
	h := s.upload
	if h.Mode == frame.ModeAnalog && h.ADCChans != 2 {
		// Two readings per word.
		first >>= 1
		count >>= 1
	}
	total := len(s.samples)
	lo := min(int(first), total)
	hi := min(lo+int(count), total)

	h.First = uint16(lo)
	h.Count = uint16(hi - lo)
	h.Total = uint16(total)
	h.MaxMemory = s.MaxMemory
	s.send(s.protocol.EncodeUploadHeader(h))

	words := s.samples[lo:hi]
	if s.DropUpload > 0 && len(words) > s.DropUpload {
		words = words[:s.DropUpload]
	}
	for _, w := range words {
		s.send(s.protocol.EncodeSampleWord(w))
	}
}
