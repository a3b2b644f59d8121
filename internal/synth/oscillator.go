package synth

import "math"

// Waveform selects the oscillator shape.
type Waveform int

const (
	WaveSine Waveform = iota
	WaveSaw
	WaveSquare
	WaveTriangle
	WaveNoise
)

// Oscillator renders a single waveform with a persistent phase accumulator,
// so consecutive render cycles stay phase-continuous.
type Oscillator struct {
	Waveform  Waveform
	Frequency float64

	sampleRate float64
	phase      float64 // [0, 1)
	noiseSeed  uint32
}

func NewOscillator(sampleRate int, waveform Waveform, frequency float64) *Oscillator {
	return &Oscillator{
		Waveform:   waveform,
		Frequency:  frequency,
		sampleRate: float64(sampleRate),
		noiseSeed:  22222,
	}
}

// Render adds frames samples of the waveform into dst starting at offset,
// scaled by amp. dst must hold at least offset+frames samples.
func (o *Oscillator) Render(dst []float32, offset, frames int, amp float32) {
	inc := o.Frequency / o.sampleRate
	for i := 0; i < frames; i++ {
		var v float64
		switch o.Waveform {
		case WaveSine:
			v = math.Sin(2 * math.Pi * o.phase)
		case WaveSaw:
			v = 1.0 - 2.0*o.phase
		case WaveSquare:
			if o.phase < 0.5 {
				v = 1.0
			} else {
				v = -1.0
			}
		case WaveTriangle:
			if o.phase < 0.5 {
				v = 4.0*o.phase - 1.0
			} else {
				v = 3.0 - 4.0*o.phase
			}
		case WaveNoise:
			o.noiseSeed = o.noiseSeed*1664525 + 1013904223
			v = float64(int32(o.noiseSeed))/float64(math.MaxInt32)*2 - 1
			if v < -1 {
				v = -1
			}
		}
		dst[offset+i] += float32(v) * amp
		o.phase += inc
		for o.phase >= 1.0 {
			o.phase -= 1.0
		}
	}
}

// ResetPhase rewinds the accumulator, e.g. when an event is retriggered.
func (o *Oscillator) ResetPhase() {
	o.phase = 0
}
