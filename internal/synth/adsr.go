package synth

// ADSR is a linear attack/decay/sustain/release envelope, expressed in
// sample frames. The envelope is evaluated by absolute frame offset within
// the event so re-rendering a cycle yields identical gain values.
type ADSR struct {
	AttackFrames  int
	DecayFrames   int
	SustainLevel  float32
	ReleaseFrames int
}

// DefaultADSR returns a click-free envelope for the given sample rate.
func DefaultADSR(sampleRate int) ADSR {
	ms := sampleRate / 1000
	return ADSR{
		AttackFrames:  5 * ms,
		DecayFrames:   0,
		SustainLevel:  1.0,
		ReleaseFrames: 10 * ms,
	}
}

// Gain returns the envelope value at frame offset within an event of
// eventLength frames.
func (e ADSR) Gain(offset, eventLength int) float32 {
	if offset < 0 || offset >= eventLength {
		return 0
	}
	releaseStart := eventLength - e.ReleaseFrames
	if releaseStart < 0 {
		releaseStart = 0
	}
	var g float32 = e.SustainLevel
	switch {
	case e.AttackFrames > 0 && offset < e.AttackFrames:
		g = float32(offset) / float32(e.AttackFrames)
	case e.DecayFrames > 0 && offset < e.AttackFrames+e.DecayFrames:
		pos := float32(offset-e.AttackFrames) / float32(e.DecayFrames)
		g = 1.0 + pos*(e.SustainLevel-1.0)
	}
	if e.ReleaseFrames > 0 && offset >= releaseStart {
		rel := 1.0 - float32(offset-releaseStart)/float32(e.ReleaseFrames)
		if rel < 0 {
			rel = 0
		}
		g *= rel
	}
	return g
}
