package sequencer

// DrumTimbre selects a pre-rendered sample from the drum kit.
type DrumTimbre int

const (
	TimbreKick DrumTimbre = iota
	TimbreSnare
	TimbreHiHat
	TimbreStick
)

// drumState positions an event by step index within the pattern bar; the
// sample comes from the instrument's kit.
type drumState struct {
	position int
	timbre   DrumTimbre
}

// NewDrumEvent creates a drum event at the given step position. The sample
// buffer is shared with the instrument's kit and is not owned by the event.
func NewDrumEvent(instrument *Instrument, position int, timbre DrumTimbre) *Event {
	e := newEvent(KindDrum, instrument)
	e.drum = &drumState{position: position, timbre: timbre}
	if instrument != nil {
		if sample := instrument.KitSample(timbre); sample != nil {
			e.SetBuffer(sample, false)
			e.SetLength(sample.Size)
		}
	}
	return e
}

func (e *Event) DrumPosition() int {
	if e.drum == nil {
		return 0
	}
	return e.drum.position
}

func (e *Event) DrumTimbre() DrumTimbre {
	if e.drum == nil {
		return TimbreKick
	}
	return e.drum.timbre
}

// SetDrumPosition moves the event to another step and recomputes its start
// from the given grid.
func (e *Event) SetDrumPosition(position, samplesPerBar, stepsPerBar int) {
	if e.drum == nil {
		return
	}
	e.drum.position = position
	e.repositionDrum(samplesPerBar, stepsPerBar)
}

func (e *Event) repositionDrum(samplesPerBar, stepsPerBar int) {
	if e.drum == nil || stepsPerBar <= 0 {
		return
	}
	e.SetStart(e.drum.position * samplesPerBar / stepsPerBar)
}

// Pattern groups drum events into one switchable bar.
type Pattern struct {
	events []*Event
}

func NewPattern() *Pattern {
	return &Pattern{}
}

func (p *Pattern) AddEvent(e *Event) {
	p.events = append(p.events, e)
}

func (p *Pattern) RemoveEvent(e *Event) {
	for i, ev := range p.events {
		if ev == e {
			p.events = append(p.events[:i], p.events[i+1:]...)
			return
		}
	}
}

func (p *Pattern) Events() []*Event {
	return p.events
}

// Reposition recomputes all event starts for a new grid, e.g. after a tempo
// change.
func (p *Pattern) Reposition(samplesPerBar, stepsPerBar int) {
	for _, e := range p.events {
		e.repositionDrum(samplesPerBar, stepsPerBar)
	}
}
