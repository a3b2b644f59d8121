package sequencer

import (
	"github.com/cbegin/mwengine-go/internal/audio"
	"github.com/cbegin/mwengine-go/internal/synth"
)

// synthState carries the oscillator bank and envelope for synth events. The
// owned buffer holds the rendered event; it is rebuilt when frequency or
// length change. Live playback renders per cycle at the requested buffer
// size instead, keeping the phase accumulators continuous.
type synthState struct {
	sampleRate    int
	channels      int
	oscillators   []*synth.Oscillator
	envelope      synth.ADSR
	frequency     float64
	baseFrequency float64

	pendingFrequency float64
	rendered         bool

	liveBuf *audio.Buffer
}

// NewSynthEvent creates a synth event at the given frequency. The event owns
// its buffer and renders it from the oscillator bank.
func NewSynthEvent(instrument *Instrument, sampleRate int, waveform synth.Waveform, frequency float64, channels int) *Event {
	if channels < 1 {
		channels = 1
	}
	e := newEvent(KindSynth, instrument)
	e.synth = &synthState{
		sampleRate:    sampleRate,
		channels:      channels,
		oscillators:   []*synth.Oscillator{synth.NewOscillator(sampleRate, waveform, frequency)},
		envelope:      synth.DefaultADSR(sampleRate),
		frequency:     frequency,
		baseFrequency: frequency,
	}
	return e
}

// AddOscillator stacks an extra oscillator (e.g. a detuned voice).
func (e *Event) AddOscillator(waveform synth.Waveform, frequency float64) {
	if e.synth == nil {
		return
	}
	e.synth.oscillators = append(e.synth.oscillators, synth.NewOscillator(e.synth.sampleRate, waveform, frequency))
	e.invalidateRender()
}

func (e *Event) Frequency() float64 {
	if e.synth == nil {
		return 0
	}
	return e.synth.frequency
}

// SetFrequency retunes the event. When the render thread holds the lock, the
// update is deferred until Unlock.
func (e *Event) SetFrequency(frequency float64) {
	if e.synth == nil {
		return
	}
	if e.IsLocked() {
		e.synth.pendingFrequency = frequency
		e.updateAfterUnlock.Store(true)
		return
	}
	e.synth.setFrequency(frequency)
	e.invalidateChannelCache()
}

func (e *Event) SetEnvelope(envelope synth.ADSR) {
	if e.synth == nil {
		return
	}
	e.synth.envelope = envelope
	e.invalidateRender()
	e.invalidateChannelCache()
}

func (e *Event) invalidateRender() {
	if e.synth != nil {
		e.synth.rendered = false
	}
}

func (s *synthState) setFrequency(frequency float64) {
	ratio := 1.0
	if s.frequency > 0 {
		ratio = frequency / s.frequency
	}
	s.frequency = frequency
	for _, osc := range s.oscillators {
		osc.Frequency *= ratio
	}
	s.rendered = false
}

func (s *synthState) applyPending() {
	if s.pendingFrequency > 0 {
		s.setFrequency(s.pendingFrequency)
		s.pendingFrequency = 0
	}
}

// prepare renders the event-length buffer when needed. Called by the
// collection pass before the render thread mixes, so MixBuffer itself never
// allocates.
func (s *synthState) prepare(e *Event) {
	if s.rendered && e.buffer != nil && e.buffer.Size == e.length {
		return
	}
	if e.length < 1 {
		return
	}
	buf := audio.NewBuffer(s.channels, e.length)
	for _, osc := range s.oscillators {
		osc.ResetPhase()
	}
	amp := float32(1.0 / float64(len(s.oscillators)))
	for i := 0; i < e.length; i++ {
		env := s.envelope.Gain(i, e.length)
		for _, osc := range s.oscillators {
			osc.Render(buf.Channel(0), i, 1, amp*env)
		}
	}
	for c := 1; c < buf.Channels; c++ {
		copy(buf.Channel(c), buf.Channel(0))
	}
	e.SetBuffer(buf, true)
	s.rendered = true
}

// render produces one live buffer of the given length, phase-continuous
// across cycles. The returned buffer is reused between calls.
func (s *synthState) render(e *Event, bufferLength int) *audio.Buffer {
	if s.liveBuf == nil || s.liveBuf.Size != bufferLength {
		s.liveBuf = audio.NewBuffer(s.channels, bufferLength)
	}
	s.liveBuf.Silence()
	amp := float32(1.0 / float64(len(s.oscillators)))
	for _, osc := range s.oscillators {
		osc.Render(s.liveBuf.Channel(0), 0, bufferLength, amp)
	}
	for c := 1; c < s.liveBuf.Channels; c++ {
		copy(s.liveBuf.Channel(c), s.liveBuf.Channel(0))
	}
	return s.liveBuf
}
