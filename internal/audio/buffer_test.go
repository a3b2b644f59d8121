package audio

import (
	"math"
	"testing"
)

func maxAbs(b *Buffer) float32 {
	var max float32
	for c := 0; c < b.Channels; c++ {
		for _, s := range b.Channel(c) {
			if s < 0 {
				s = -s
			}
			if s > max {
				max = s
			}
		}
	}
	return max
}

func fill(b *Buffer, value float32) {
	for c := 0; c < b.Channels; c++ {
		buf := b.Channel(c)
		for i := range buf {
			buf[i] = value
		}
	}
}

func TestNewBufferIsSilent(t *testing.T) {
	b := NewBuffer(2, 64)
	if b.Channels != 2 || b.Size != 64 {
		t.Fatalf("unexpected geometry %dx%d", b.Channels, b.Size)
	}
	if maxAbs(b) != 0 {
		t.Error("new buffer should be silent")
	}
}

func TestNewBufferClampsInvalidGeometry(t *testing.T) {
	b := NewBuffer(0, 0)
	if b.Channels != 1 || b.Size != 1 {
		t.Errorf("expected 1x1, got %dx%d", b.Channels, b.Size)
	}
}

func TestSilenceClearsContents(t *testing.T) {
	b := NewBuffer(2, 32)
	fill(b, 0.5)
	b.Silence()
	if maxAbs(b) != 0 {
		t.Error("expected silence after Silence()")
	}
}

func TestAdjustVolumesScalesEverySample(t *testing.T) {
	b := NewBuffer(2, 32)
	fill(b, 0.5)
	b.AdjustVolumes(0.5)
	if got := maxAbs(b); math.Abs(float64(got)-0.25) > 1e-6 {
		t.Errorf("expected 0.25, got %f", got)
	}
}

func TestApplyMonoSourceCopiesChannelZero(t *testing.T) {
	b := NewBuffer(3, 16)
	for i := range b.Channel(0) {
		b.Channel(0)[i] = float32(i) / 16
	}
	fill2 := b.Channel(1)
	fill2[0] = 0.9 // will be overwritten
	b.ApplyMonoSource()
	for c := 1; c < b.Channels; c++ {
		for i := range b.Channel(c) {
			if b.Channel(c)[i] != b.Channel(0)[i] {
				t.Fatalf("channel %d sample %d differs from mono source", c, i)
			}
		}
	}
}

func TestCloneIsDeepAndEqual(t *testing.T) {
	b := NewBuffer(2, 16)
	b.Loopeable = true
	fill(b, 0.3)
	clone := b.Clone()
	if clone.Channels != b.Channels || clone.Size != b.Size || !clone.Loopeable {
		t.Fatal("clone geometry or flags differ")
	}
	for c := 0; c < b.Channels; c++ {
		for i := range b.Channel(c) {
			if clone.Channel(c)[i] != b.Channel(c)[i] {
				t.Fatal("clone samples differ")
			}
		}
	}
	clone.Channel(0)[0] = 0.99
	if b.Channel(0)[0] == 0.99 {
		t.Error("clone shares storage with original")
	}
}

func TestMergeAddsScaledSource(t *testing.T) {
	target := NewBuffer(2, 16)
	src := NewBuffer(2, 16)
	fill(src, 1.0)
	written := target.Merge(src, 0, 0, 0.5)
	if written != 32 {
		t.Errorf("expected 32 written samples, got %d", written)
	}
	if got := maxAbs(target); math.Abs(float64(got)-0.5) > 1e-6 {
		t.Errorf("expected 0.5, got %f", got)
	}
}

func TestMergeWithZeroVolumeIsNoOp(t *testing.T) {
	target := NewBuffer(2, 16)
	src := NewBuffer(2, 16)
	fill(src, 1.0)
	target.Merge(src, 0, 0, 0)
	if maxAbs(target) != 0 {
		t.Error("merge at zero volume should leave target silent")
	}
}

func TestMergeStopsAtSourceEndWhenNotLoopeable(t *testing.T) {
	target := NewBuffer(1, 16)
	src := NewBuffer(1, 4)
	fill(src, 1.0)
	target.Merge(src, 0, 0, 1.0)
	for i := 0; i < 4; i++ {
		if target.Channel(0)[i] != 1.0 {
			t.Fatalf("sample %d should be 1.0", i)
		}
	}
	for i := 4; i < 16; i++ {
		if target.Channel(0)[i] != 0 {
			t.Fatalf("sample %d should be untouched", i)
		}
	}
}

func TestMergeWrapsSourceWhenTargetLoopeable(t *testing.T) {
	target := NewBuffer(1, 8)
	target.Loopeable = true
	src := NewBuffer(1, 4)
	for i := 0; i < 4; i++ {
		src.Channel(0)[i] = float32(i + 1)
	}
	// read offset 2: expect 3, 4, then wrap to 1, 2, 3, 4, 1, 2
	target.Merge(src, 2, 0, 1.0)
	expected := []float32{3, 4, 1, 2, 3, 4, 1, 2}
	for i, want := range expected {
		if target.Channel(0)[i] != want {
			t.Fatalf("sample %d: expected %f, got %f", i, want, target.Channel(0)[i])
		}
	}
}

func TestMergeRespectsWriteOffset(t *testing.T) {
	target := NewBuffer(1, 8)
	src := NewBuffer(1, 8)
	fill(src, 1.0)
	written := target.Merge(src, 0, 6, 1.0)
	if written != 2 {
		t.Errorf("expected 2 written samples, got %d", written)
	}
	if target.Channel(0)[5] != 0 || target.Channel(0)[6] != 1 || target.Channel(0)[7] != 1 {
		t.Error("write offset not respected")
	}
}

func TestMergeMixesMinimumChannelCount(t *testing.T) {
	target := NewBuffer(2, 8)
	src := NewBuffer(1, 8)
	fill(src, 1.0)
	target.Merge(src, 0, 0, 1.0)
	if target.Channel(0)[0] != 1.0 {
		t.Error("channel 0 should receive source")
	}
	if target.Channel(1)[0] != 0 {
		t.Error("channel 1 has no source counterpart and should stay silent")
	}
}

func TestVolumeCurveRoundTrip(t *testing.T) {
	for _, v := range []float32{0, 0.25, 0.5, 1.0} {
		if got := ToLinear(ToLog(v)); math.Abs(float64(got-v)) > 1e-6 {
			t.Errorf("round trip of %f yields %f", v, got)
		}
	}
}
