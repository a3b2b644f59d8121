package fx

import (
	"math"

	"github.com/cbegin/mwengine-go/internal/audio"
)

// Limiter is a hard-knee lookahead-free limiter with an envelope follower
// per channel. It rides gain down when the envelope exceeds the threshold
// and releases back to unity.
type Limiter struct {
	threshold float32
	attack    float32
	release   float32
	env       []float32
}

// NewLimiter creates a limiter.
// thresholdDB: ceiling in dB (e.g. -0.5)
// attackMs / releaseMs: envelope times
func NewLimiter(sampleRate, channels int, thresholdDB, attackMs, releaseMs float32) *Limiter {
	if channels < 1 {
		channels = 1
	}
	sr := float64(sampleRate)
	return &Limiter{
		threshold: float32(math.Pow(10, float64(thresholdDB)/20)),
		attack:    float32(1.0 - math.Exp(-1.0/(float64(attackMs)*sr/1000.0))),
		release:   float32(1.0 - math.Exp(-1.0/(float64(releaseMs)*sr/1000.0))),
		env:       make([]float32, channels),
	}
}

func (l *Limiter) Process(b *audio.Buffer, isMono bool) {
	channels := b.Channels
	if channels > len(l.env) {
		channels = len(l.env)
	}
	for c := 0; c < channels; c++ {
		buf := b.Channel(c)
		for i := range buf {
			abs := buf[i]
			if abs < 0 {
				abs = -abs
			}
			if abs > l.env[c] {
				l.env[c] += l.attack * (abs - l.env[c])
			} else {
				l.env[c] += l.release * (abs - l.env[c])
			}
			if l.env[c] > l.threshold && l.env[c] > 0 {
				buf[i] *= l.threshold / l.env[c]
			}
		}
	}
	if isMono {
		b.ApplyMonoSource()
	}
}

// Cacheable is false: the envelope follower carries state across render
// cycles, so a cached bar would replay gain riding that no longer matches
// the incoming signal.
func (l *Limiter) Cacheable() bool { return false }

func (l *Limiter) Reset() {
	for i := range l.env {
		l.env[i] = 0
	}
}
