package sample

// Event is one decoded sample. Elapsed is in device ticks since the first
// sample of the upload and never decreases.
type Event struct {
	Elapsed uint64
	Delta   uint64
	Bits    uint8
	Values  [2]uint16
	Analog  bool
}

// Stream accumulates digital words into events, undoing wraps of the
// down-counting 24-bit tick counter. Words must be pushed in the order the
// device sent them.
type Stream struct {
	previous    uint32
	started     bool
	accumulated uint64
}

// Push decodes the next digital word. The first word sets the baseline and
// yields an event at 0.
func (s *Stream) Push(r Raw) Event {
	tick := r.Tick()
	if !s.started {
		s.previous = tick
		s.started = true
	}

	// the counter counts down, so a larger value means it wrapped
	delta := uint64(s.previous) - uint64(tick)
	if tick > s.previous {
		delta = uint64(s.previous) + TickModulus - uint64(tick)
	}
	s.accumulated += delta
	s.previous = tick

	return Event{
		Elapsed: s.accumulated,
		Delta:   delta,
		Bits:    r.Bits(),
	}
}

// Elapsed returns the ticks accumulated so far.
func (s *Stream) Elapsed() uint64 {
	return s.accumulated
}

// Reset forgets the baseline so the next Push starts a new capture.
func (s *Stream) Reset() {
	*s = Stream{}
}

// DecodeDigital runs words through a fresh Stream.
func DecodeDigital(words []Raw) []Event {
	var s Stream
	events := make([]Event, len(words))
	for i, w := range words {
		events[i] = s.Push(w)
	}
	return events
}

// AnalogLayout describes how analog words map onto time. Analog words carry
// no tick counter; samples are evenly spaced by the ADC conversion time.
type AnalogLayout struct {
	Channels     int    // 1 or 2
	First        uint16 // index of the first uploaded word
	TicksPerSlot uint64
}

// DecodeAnalog expands analog words into events. With one channel each word
// holds two consecutive readings and yields two events; with two channels a
// word is one reading of each channel.
func DecodeAnalog(words []Raw, layout AnalogLayout) []Event {
	if layout.Channels == 1 {
		events := make([]Event, 0, 2*len(words))
		for i, w := range words {
			v1, v2 := w.Values()
			n := (int(layout.First) + i) * 2
			events = append(events,
				Event{Elapsed: slotTicks(n, layout.TicksPerSlot), Values: [2]uint16{v1}, Analog: true},
				Event{Elapsed: slotTicks(n+1, layout.TicksPerSlot), Values: [2]uint16{v2}, Analog: true},
			)
		}
		return events
	}

	events := make([]Event, len(words))
	for i, w := range words {
		v1, v2 := w.Values()
		n := int(layout.First) + i
		events[i] = Event{Elapsed: slotTicks(n, layout.TicksPerSlot), Values: [2]uint16{v1, v2}, Analog: true}
	}
	return events
}

func slotTicks(n int, perSlot uint64) uint64 {
	return uint64(n) * perSlot
}
