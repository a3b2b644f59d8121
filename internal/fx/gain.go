package fx

import "github.com/cbegin/mwengine-go/internal/audio"

// Gain scales the buffer by a fixed amount.
type Gain struct {
	amount float32
}

func NewGain(amount float32) *Gain {
	return &Gain{amount: clamp(amount, 0, 4)}
}

func (g *Gain) SetAmount(amount float32) {
	g.amount = clamp(amount, 0, 4)
}

func (g *Gain) Amount() float32 {
	return g.amount
}

func (g *Gain) Process(b *audio.Buffer, isMono bool) {
	channels := b.Channels
	if isMono {
		channels = 1
	}
	for c := 0; c < channels; c++ {
		buf := b.Channel(c)
		for i := range buf {
			buf[i] *= g.amount
		}
	}
	if isMono {
		b.ApplyMonoSource()
	}
}

func (g *Gain) Cacheable() bool { return true }

func (g *Gain) Reset() {}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
