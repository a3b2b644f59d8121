package fx

import (
	"math"

	"github.com/cbegin/mwengine-go/internal/audio"
)

// Filter is a one-pole low-pass / high-pass filter pair. Setting either
// cutoff to 0 disables that stage.
type Filter struct {
	sampleRate int
	lpCutoff   float64
	hpCutoff   float64
	lpCoeff    float32
	hpCoeff    float32
	lpState    []float32
	hpState    []float32
	hpPrevIn   []float32
}

func NewFilter(sampleRate, channels int, lpCutoff, hpCutoff float64) *Filter {
	if channels < 1 {
		channels = 1
	}
	f := &Filter{
		sampleRate: sampleRate,
		lpState:    make([]float32, channels),
		hpState:    make([]float32, channels),
		hpPrevIn:   make([]float32, channels),
	}
	f.SetCutoffs(lpCutoff, hpCutoff)
	return f
}

func (f *Filter) SetCutoffs(lpCutoff, hpCutoff float64) {
	f.lpCutoff = lpCutoff
	f.hpCutoff = hpCutoff
	if lpCutoff > 0 {
		f.lpCoeff = float32(1.0 - math.Exp(-2.0*math.Pi*lpCutoff/float64(f.sampleRate)))
	}
	if hpCutoff > 0 {
		f.hpCoeff = float32(math.Exp(-2.0 * math.Pi * hpCutoff / float64(f.sampleRate)))
	}
}

func (f *Filter) Process(b *audio.Buffer, isMono bool) {
	channels := b.Channels
	if channels > len(f.lpState) {
		channels = len(f.lpState)
	}
	for c := 0; c < channels; c++ {
		buf := b.Channel(c)
		for i := range buf {
			s := buf[i]
			if f.lpCutoff > 0 {
				f.lpState[c] += f.lpCoeff * (s - f.lpState[c])
				s = f.lpState[c]
			}
			if f.hpCutoff > 0 {
				f.hpState[c] = f.hpCoeff * (f.hpState[c] + s - f.hpPrevIn[c])
				f.hpPrevIn[c] = s
				s = f.hpState[c]
			}
			buf[i] = s
		}
	}
	if isMono {
		b.ApplyMonoSource()
	}
}

func (f *Filter) Cacheable() bool { return true }

func (f *Filter) Reset() {
	for i := range f.lpState {
		f.lpState[i] = 0
		f.hpState[i] = 0
		f.hpPrevIn[i] = 0
	}
}
