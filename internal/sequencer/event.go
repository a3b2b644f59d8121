package sequencer

import (
	"sync/atomic"

	"github.com/cbegin/mwengine-go/internal/audio"
)

// Kind discriminates the event variants. All kinds share the positioning and
// volume header and the MixBuffer contract; the variant only changes where
// the source samples come from.
type Kind int

const (
	KindSample Kind = iota
	KindSynth
	KindDrum
)

// Event is a positioned, enableable, optionally loopeable source of samples
// on the sequencer timeline. Start, end and length are in sample frames.
//
// For non-loopeable events the invariant end == start+length-1 is re-derived
// on every setter. For loopeable events the end may exceed start+length: the
// read pointer wraps through the source buffer.
type Event struct {
	kind Kind

	start  int
	end    int
	length int

	volume    float32 // logarithmic scale; converted to linear at mix time
	enabled   bool
	loopeable bool
	sequenced bool // sequenced (grid) vs live event

	deletable atomic.Bool
	locked    atomic.Bool

	// set when a writer hit a held lock; the deferred reconfiguration is
	// applied on Unlock
	updateAfterUnlock atomic.Bool

	added        bool
	livePlayback bool
	readPointer  int

	buffer     *audio.Buffer
	ownsBuffer bool

	// playback sub-region within buffer (sample events); covers the whole
	// buffer for other kinds
	rangeStart int
	rangeEnd   int

	instrument *Instrument

	synth *synthState
	drum  *drumState
}

func newEvent(kind Kind, instrument *Instrument) *Event {
	return &Event{
		kind:       kind,
		enabled:    true,
		sequenced:  true,
		volume:     audio.ToLog(1.0),
		instrument: instrument,
	}
}

func (e *Event) Kind() Kind { return e.kind }

func (e *Event) Instrument() *Instrument { return e.instrument }

// SetInstrument re-assigns the owning instrument. When the event is part of
// the sequencer it is atomically removed from the old instrument's list and
// added to the new one.
func (e *Event) SetInstrument(instrument *Instrument) {
	if instrument == nil || instrument == e.instrument {
		return
	}
	wasAdded := e.added
	if wasAdded {
		e.RemoveFromSequencer()
	}
	e.instrument = instrument
	if wasAdded {
		e.AddToSequencer()
	}
}

func (e *Event) Start() int  { return e.start }
func (e *Event) End() int    { return e.end }
func (e *Event) Length() int { return e.length }

func (e *Event) SetStart(value int) {
	e.start = value
	e.deriveEnd()
	e.invalidateChannelCache()
}

func (e *Event) SetLength(value int) {
	e.length = value
	e.deriveEnd()
	e.invalidateChannelCache()
}

// SetEnd sets the event end. For non-loopeable events the end is clamped so
// it never exceeds start+length-1 (it may be smaller, for a cut-off
// playback).
func (e *Event) SetEnd(value int) {
	if !e.loopeable && value >= e.start+e.length {
		e.end = e.start + e.length - 1
	} else {
		e.end = value
	}
	e.invalidateChannelCache()
}

func (e *Event) deriveEnd() {
	if !e.loopeable && e.length > 0 {
		e.end = e.start + e.length - 1
	} else if e.end < e.start {
		e.end = e.start
	}
}

// Position places the event on the grid: startBar selects the measure,
// offset/subdivisions the position within it.
func (e *Event) Position(startBar, subdivisions, offset, samplesPerBar int) {
	startOffset := samplesPerBar * startBar
	if subdivisions > 0 {
		startOffset += offset * samplesPerBar / subdivisions
	}
	e.SetStart(startOffset)
}

func (e *Event) Volume() float32 { return audio.ToLinear(e.volume) }

func (e *Event) SetVolume(value float32) {
	e.volume = audio.ToLog(value)
	e.invalidateChannelCache()
}

func (e *Event) Enabled() bool { return e.enabled }

func (e *Event) SetEnabled(v bool) {
	e.enabled = v
	e.invalidateChannelCache()
}

func (e *Event) Loopeable() bool      { return e.loopeable }
func (e *Event) Deletable() bool      { return e.deletable.Load() }
func (e *Event) SetDeletable(v bool)  { e.deletable.Store(v) }
func (e *Event) IsSequenced() bool    { return e.sequenced }
func (e *Event) SetSequenced(v bool)  { e.sequenced = v }
func (e *Event) ReadPointer() int     { return e.readPointer }

func (e *Event) SetLoopeable(v bool) {
	e.loopeable = v
	if e.buffer != nil {
		e.buffer.Loopeable = v
	}
	e.invalidateChannelCache()
}

// invalidateChannelCache drops the owning channel's cached output when a
// sequenced event mutates: the cache captured the previous signal.
func (e *Event) invalidateChannelCache() {
	if e.added && e.sequenced && e.instrument != nil {
		e.instrument.channel.InvalidateCache()
	}
}

// Lock marks the event as being read by the render thread. Writers seeing a
// held lock must defer their reconfiguration via the update-after-unlock
// flag rather than wait.
func (e *Event) Lock()          { e.locked.Store(true) }
func (e *Event) IsLocked() bool { return e.locked.Load() }

func (e *Event) Unlock() {
	e.locked.Store(false)
	if e.updateAfterUnlock.CompareAndSwap(true, false) {
		e.applyDeferredUpdate()
	}
}

func (e *Event) applyDeferredUpdate() {
	if e.synth != nil {
		e.synth.applyPending()
	}
}

func (e *Event) Buffer() *audio.Buffer { return e.buffer }

// SetBuffer assigns the source buffer. owned indicates exclusive ownership;
// shared buffers (sample events referencing instrument samples) pass false.
func (e *Event) SetBuffer(b *audio.Buffer, owned bool) {
	e.buffer = b
	e.ownsBuffer = owned
	if b != nil {
		b.Loopeable = e.loopeable
		e.rangeStart = 0
		e.rangeEnd = b.Size - 1
	}
	e.invalidateChannelCache()
}

func (e *Event) HasBuffer() bool { return e.buffer != nil }

// AddToSequencer inserts the event into the owning instrument's sequenced or
// live list, depending on IsSequenced.
func (e *Event) AddToSequencer() {
	if e.added || e.instrument == nil {
		return
	}
	if e.sequenced {
		e.instrument.addEvent(e)
	} else {
		e.Play()
	}
	e.added = true
}

// RemoveFromSequencer detaches the event from its instrument's lists.
func (e *Event) RemoveFromSequencer() {
	if !e.added || e.instrument == nil {
		return
	}
	if !e.sequenced {
		e.Stop()
	} else {
		e.instrument.removeEvent(e)
	}
	e.added = false
}

// Play moves the event onto the instrument's live list, keeping any
// sequenced entry as is. Live events sound until Stop.
func (e *Event) Play() {
	if e.livePlayback || e.instrument == nil {
		return
	}
	e.SetDeletable(false)
	e.instrument.addLiveEvent(e)
	e.livePlayback = true
}

// Stop removes the event from the instrument's live list.
func (e *Event) Stop() {
	if !e.livePlayback {
		return
	}
	e.instrument.removeLiveEvent(e)
	e.livePlayback = false
}
