package fx

import "github.com/cbegin/mwengine-go/internal/audio"

// Delay is a feedback delay with per-channel delay lines and optional
// cross-channel feedback.
type Delay struct {
	lines    [][]float32
	pos      int
	feedback float32
	cross    float32
	wet      float32
}

// NewDelay creates a delay effect.
// delayMs: delay time in milliseconds
// feedback: feedback amount 0..1
// cross: cross-channel feedback 0..1 (stereo only)
// wet: wet/dry mix 0..1
func NewDelay(sampleRate, channels int, delayMs float64, feedback, cross, wet float32) *Delay {
	samples := int(delayMs * float64(sampleRate) / 1000.0)
	if samples < 1 {
		samples = 1
	}
	if channels < 1 {
		channels = 1
	}
	lines := make([][]float32, channels)
	for i := range lines {
		lines[i] = make([]float32, samples)
	}
	return &Delay{
		lines:    lines,
		feedback: clamp(feedback, 0, 0.95),
		cross:    clamp(cross, 0, 1),
		wet:      clamp(wet, 0, 1),
	}
}

func (d *Delay) Process(b *audio.Buffer, isMono bool) {
	channels := b.Channels
	if channels > len(d.lines) {
		channels = len(d.lines)
	}
	stereoCross := channels == 2 && d.cross > 0
	for i := 0; i < b.Size; i++ {
		if stereoCross {
			delL := d.lines[0][d.pos]
			delR := d.lines[1][d.pos]
			l := b.Channel(0)[i]
			r := b.Channel(1)[i]
			d.lines[0][d.pos] = l + delL*d.feedback*(1-d.cross) + delR*d.feedback*d.cross
			d.lines[1][d.pos] = r + delR*d.feedback*(1-d.cross) + delL*d.feedback*d.cross
			b.Channel(0)[i] = l*(1-d.wet) + delL*d.wet
			b.Channel(1)[i] = r*(1-d.wet) + delR*d.wet
		} else {
			for c := 0; c < channels; c++ {
				del := d.lines[c][d.pos]
				in := b.Channel(c)[i]
				d.lines[c][d.pos] = in + del*d.feedback
				b.Channel(c)[i] = in*(1-d.wet) + del*d.wet
			}
		}
		d.pos++
		if d.pos >= len(d.lines[0]) {
			d.pos = 0
		}
	}
	if isMono {
		b.ApplyMonoSource()
	}
}

// Cacheable is false: the delay line carries state across render cycles, so
// replaying a cached output would freeze the echo tail.
func (d *Delay) Cacheable() bool { return false }

func (d *Delay) Reset() {
	for _, line := range d.lines {
		for i := range line {
			line[i] = 0
		}
	}
	d.pos = 0
}
