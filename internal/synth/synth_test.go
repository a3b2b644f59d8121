package synth

import (
	"math"
	"testing"
)

func TestOscillatorStaysNormalized(t *testing.T) {
	for _, wf := range []Waveform{WaveSine, WaveSaw, WaveSquare, WaveTriangle, WaveNoise} {
		osc := NewOscillator(44100, wf, 440)
		out := make([]float32, 4410)
		osc.Render(out, 0, len(out), 1.0)
		for i, s := range out {
			if s < -1.0001 || s > 1.0001 {
				t.Fatalf("waveform %d sample %d out of range: %f", wf, i, s)
			}
		}
	}
}

func TestOscillatorPhaseContinuity(t *testing.T) {
	whole := make([]float32, 2048)
	osc := NewOscillator(44100, WaveSine, 440)
	osc.Render(whole, 0, len(whole), 1.0)

	split := make([]float32, 2048)
	osc2 := NewOscillator(44100, WaveSine, 440)
	osc2.Render(split, 0, 1024, 1.0)
	osc2.Render(split, 1024, 1024, 1.0)

	for i := range whole {
		if math.Abs(float64(whole[i]-split[i])) > 1e-6 {
			t.Fatalf("sample %d differs between whole and split renders", i)
		}
	}
}

func TestOscillatorProducesSignal(t *testing.T) {
	osc := NewOscillator(44100, WaveSaw, 220)
	out := make([]float32, 1024)
	osc.Render(out, 0, len(out), 1.0)
	var sum float64
	for _, s := range out {
		sum += math.Abs(float64(s))
	}
	if sum == 0 {
		t.Error("oscillator rendered silence")
	}
}

func TestADSRGainEnvelopeShape(t *testing.T) {
	env := ADSR{AttackFrames: 100, SustainLevel: 1.0, ReleaseFrames: 100}
	length := 1000
	if g := env.Gain(0, length); g != 0 {
		t.Errorf("attack should start at 0, got %f", g)
	}
	if g := env.Gain(50, length); g <= 0 || g >= 1 {
		t.Errorf("mid-attack gain should be between 0 and 1, got %f", g)
	}
	if g := env.Gain(500, length); g != 1.0 {
		t.Errorf("sustain should be 1.0, got %f", g)
	}
	if g := env.Gain(999, length); g >= 0.1 {
		t.Errorf("release tail should approach 0, got %f", g)
	}
	if g := env.Gain(1000, length); g != 0 {
		t.Errorf("past the event the envelope is 0, got %f", g)
	}
}

func TestADSRIsDeterministic(t *testing.T) {
	env := DefaultADSR(44100)
	for offset := 0; offset < 2000; offset += 13 {
		if env.Gain(offset, 2000) != env.Gain(offset, 2000) {
			t.Fatal("envelope must be a pure function of offset")
		}
	}
}
