package sequencer

// Sequencer selects the events audible in a requested sample window across
// all registered instruments and routes them into their channels. Channels
// are re-used between passes; events flagged deletable are reclaimed during
// collection.
type Sequencer struct {
	instruments []*Instrument

	// grid values mirrored from the engine on tempo changes; used for
	// pattern normalization and event repositioning
	SamplesPerBar int
	StepsPerBar   int
}

func New() *Sequencer {
	return &Sequencer{StepsPerBar: 16}
}

// Instruments returns the registration-ordered instrument list.
func (s *Sequencer) Instruments() []*Instrument {
	out := make([]*Instrument, len(s.instruments))
	copy(out, s.instruments)
	return out
}

func (s *Sequencer) registerInstrument(in *Instrument) {
	s.instruments = append(s.instruments, in)
}

func (s *Sequencer) unregisterInstrument(in *Instrument) {
	for i, existing := range s.instruments {
		if existing == in {
			s.instruments = append(s.instruments[:i], s.instruments[i+1:]...)
			return
		}
	}
}

// Collect gathers the events overlapping [bufferPosition, bufferEnd]
// (inclusive bounds) into each instrument's channel. When flush is set the
// channels are reset and appended to dst; a second pass with flush=false
// merges loop-start events into the same channels. addLive appends the
// instruments' live events. Returns the channel list.
//
// An event overlaps the window iff its start lies inside it, or its start
// precedes the window while its end reaches into it. Deletable events are
// dequeued from their instrument instead of collected.
func (s *Sequencer) Collect(dst []*Channel, bufferPosition, bufferEnd int, addLive, flush bool) []*Channel {
	for _, inst := range s.instruments {
		ch := inst.channel
		if flush {
			ch.Reset()
		}
		if ch.Muted {
			continue
		}

		inst.mu.Lock()
		ch.MixVolume = inst.volume

		if inst.patternBased {
			ch.MaxBufferPosition = s.SamplesPerBar
			s.collectPatternEvents(inst, ch, bufferPosition, bufferEnd)
		} else {
			s.collectSequencedEvents(inst, ch, bufferPosition, bufferEnd)
		}

		if addLive {
			s.collectLiveEvents(inst, ch)
		}
		inst.mu.Unlock()

		if flush {
			dst = append(dst, ch)
		}
	}
	return dst
}

func (s *Sequencer) collectSequencedEvents(inst *Instrument, ch *Channel, bufferPosition, bufferEnd int) {
	var removes []*Event
	for _, e := range inst.events {
		if !e.Enabled() {
			continue
		}
		if eventInWindow(e, bufferPosition, bufferEnd) {
			if !e.Deletable() {
				if e.synth != nil {
					e.synth.prepare(e)
				}
				ch.AddEvent(e)
			} else {
				removes = append(removes, e)
			}
		}
	}
	// process the removal queue after the sweep to preserve index stability
	for _, e := range removes {
		inst.events = removeFromList(inst.events, e)
		e.added = false
	}
}

func (s *Sequencer) collectPatternEvents(inst *Instrument, ch *Channel, bufferPosition, bufferEnd int) {
	if len(inst.patterns) == 0 || s.SamplesPerBar <= 0 {
		return
	}
	// patterns loop by the bar: normalize the window into the first measure
	for bufferPosition >= s.SamplesPerBar {
		bufferPosition -= s.SamplesPerBar
		bufferEnd -= s.SamplesPerBar
	}
	pattern := inst.patterns[inst.activePattern]
	var removes []*Event
	for _, e := range pattern.events {
		if !e.Enabled() {
			continue
		}
		if eventInWindow(e, bufferPosition, bufferEnd) {
			if !e.Deletable() {
				ch.AddEvent(e)
			} else {
				removes = append(removes, e)
			}
		}
	}
	for _, e := range removes {
		pattern.RemoveEvent(e)
		e.added = false
	}
}

func (s *Sequencer) collectLiveEvents(inst *Instrument, ch *Channel) {
	var removes []*Event
	for _, e := range inst.liveEvents {
		if !e.Deletable() {
			ch.AddLiveEvent(e)
		} else {
			removes = append(removes, e)
		}
	}
	for _, e := range removes {
		inst.liveEvents = removeFromList(inst.liveEvents, e)
		e.livePlayback = false
	}
}

func eventInWindow(e *Event, bufferPosition, bufferEnd int) bool {
	start := e.Start()
	return (start >= bufferPosition && start <= bufferEnd) ||
		(start < bufferPosition && e.End() >= bufferPosition)
}

// ClearEvents drops all events from all instruments.
func (s *Sequencer) ClearEvents() {
	for _, inst := range s.instruments {
		inst.ClearEvents()
	}
}

// UpdateEvents recomputes event positions after a tempo or signature change.
// Pattern-based instruments reposition by step index against the new grid;
// other events scale start and length by oldTempo/newTempo.
func (s *Sequencer) UpdateEvents(tempoRatio float64) {
	for _, inst := range s.instruments {
		inst.mu.Lock()
		if inst.patternBased {
			for _, p := range inst.patterns {
				p.Reposition(s.SamplesPerBar, s.StepsPerBar)
			}
		} else {
			for _, e := range inst.events {
				scaleEvent(e, tempoRatio)
			}
		}
		inst.mu.Unlock()
	}
}

func scaleEvent(e *Event, ratio float64) {
	start := int(float64(e.start)*ratio + 0.5)
	length := int(float64(e.length)*ratio + 0.5)
	if e.loopeable {
		e.end = int(float64(e.end)*ratio + 0.5)
	}
	e.length = length
	e.SetStart(start)
	e.invalidateRender()
}
