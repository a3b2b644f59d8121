package sequencer

import (
	"sync"

	"github.com/cbegin/mwengine-go/internal/audio"
)

// Instrument owns its event lists and its audio channel. Events hold a back
// reference to their instrument but never own it. Instruments register with
// the sequencer on construction and are removed from passes by Unregister.
type Instrument struct {
	mu sync.Mutex

	seq     *Sequencer
	volume  float32
	channel *Channel

	events     []*Event
	liveEvents []*Event

	// pattern-based instruments (the drum machine) loop a single bar and
	// collect events from the active pattern instead of the timeline
	patternBased  bool
	patterns      []*Pattern
	activePattern int
	kit           map[DrumTimbre]*audio.Buffer
}

// NewInstrument creates an instrument and registers it with the sequencer.
func NewInstrument(seq *Sequencer, volume float32) *Instrument {
	inst := &Instrument{
		seq:     seq,
		volume:  volume,
		channel: NewChannel(volume),
	}
	if seq != nil {
		seq.registerInstrument(inst)
	}
	return inst
}

// NewDrumInstrument creates a pattern-based instrument whose events play
// pre-rendered kit samples. The channel loops one bar independently of the
// sequencer loop.
func NewDrumInstrument(seq *Sequencer, volume float32, kit map[DrumTimbre]*audio.Buffer) *Instrument {
	inst := NewInstrument(seq, volume)
	inst.patternBased = true
	inst.kit = kit
	inst.patterns = []*Pattern{NewPattern()}
	return inst
}

// Unregister removes the instrument (and thus its channel) from sequencer
// passes. Its events remain intact.
func (in *Instrument) Unregister() {
	if in.seq != nil {
		in.seq.unregisterInstrument(in)
	}
}

func (in *Instrument) Channel() *Channel { return in.channel }

func (in *Instrument) Volume() float32 { return in.volume }

func (in *Instrument) SetVolume(v float32) {
	in.mu.Lock()
	in.volume = v
	in.mu.Unlock()
}

// Events returns a snapshot of the sequenced event list.
func (in *Instrument) Events() []*Event {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]*Event, len(in.events))
	copy(out, in.events)
	return out
}

// LiveEvents returns a snapshot of the live event list.
func (in *Instrument) LiveEvents() []*Event {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]*Event, len(in.liveEvents))
	copy(out, in.liveEvents)
	return out
}

func (in *Instrument) PatternBased() bool { return in.patternBased }

// Patterns returns the instrument's pattern list (pattern-based instruments
// only).
func (in *Instrument) Patterns() []*Pattern { return in.patterns }

func (in *Instrument) AddPattern(p *Pattern) {
	in.mu.Lock()
	in.patterns = append(in.patterns, p)
	in.mu.Unlock()
}

// SetActivePattern switches which pattern is collected. Out-of-range values
// are ignored.
func (in *Instrument) SetActivePattern(index int) {
	in.mu.Lock()
	if index >= 0 && index < len(in.patterns) {
		in.activePattern = index
	}
	in.mu.Unlock()
}

func (in *Instrument) ActivePattern() int { return in.activePattern }

// KitSample returns the shared sample for a drum timbre, or nil.
func (in *Instrument) KitSample(timbre DrumTimbre) *audio.Buffer {
	if in.kit == nil {
		return nil
	}
	return in.kit[timbre]
}

// ClearEvents drops all sequenced and live events.
func (in *Instrument) ClearEvents() {
	in.mu.Lock()
	in.events = in.events[:0]
	in.liveEvents = in.liveEvents[:0]
	for _, p := range in.patterns {
		p.events = p.events[:0]
	}
	in.mu.Unlock()
}

func (in *Instrument) addEvent(e *Event) {
	in.mu.Lock()
	if in.patternBased && e.drum != nil {
		in.patterns[in.activePattern].AddEvent(e)
	} else {
		in.events = append(in.events, e)
	}
	in.mu.Unlock()
}

func (in *Instrument) removeEvent(e *Event) {
	in.mu.Lock()
	in.events = removeFromList(in.events, e)
	for _, p := range in.patterns {
		p.RemoveEvent(e)
	}
	in.mu.Unlock()
}

func (in *Instrument) addLiveEvent(e *Event) {
	in.mu.Lock()
	in.liveEvents = append(in.liveEvents, e)
	in.mu.Unlock()
}

func (in *Instrument) removeLiveEvent(e *Event) {
	in.mu.Lock()
	in.liveEvents = removeFromList(in.liveEvents, e)
	in.mu.Unlock()
}

func removeFromList(list []*Event, e *Event) []*Event {
	for i, ev := range list {
		if ev == e {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
