package fx

import (
	"github.com/cbegin/mwengine-go/internal/audio"
	"github.com/cbegin/mwengine-go/internal/lfo"
)

// Tremolo modulates the buffer amplitude with an LFO.
type Tremolo struct {
	sampleRate int
	depth      float64
	osc        lfo.LFO
}

// NewTremolo creates a tremolo stage.
// rateHz: modulation rate
// depth: 0..1 amplitude swing
func NewTremolo(sampleRate int, rateHz, depth float64, waveform int) *Tremolo {
	t := &Tremolo{sampleRate: sampleRate, depth: clampF64(depth, 0, 1)}
	t.osc.Set(t.depth, rateHz, waveform)
	return t
}

func (t *Tremolo) Process(b *audio.Buffer, isMono bool) {
	if !t.osc.Active() {
		return
	}
	for i := 0; i < b.Size; i++ {
		mod := float32(1.0 - t.depth + t.osc.Sample(float64(t.sampleRate)))
		if mod < 0 {
			mod = 0
		}
		for c := 0; c < b.Channels; c++ {
			b.Channel(c)[i] *= mod
		}
	}
	if isMono {
		b.ApplyMonoSource()
	}
}

// Cacheable is false: the modulation phase advances with absolute time, so a
// cached bar would replay a frozen sweep.
func (t *Tremolo) Cacheable() bool { return false }

func (t *Tremolo) Reset() {
	t.osc.Reset()
}

func clampF64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
