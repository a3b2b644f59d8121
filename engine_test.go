package mwengine

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"github.com/cbegin/mwengine-go/internal/audio"
	"github.com/cbegin/mwengine-go/internal/fx"
	"github.com/cbegin/mwengine-go/internal/notify"
	"github.com/cbegin/mwengine-go/internal/sequencer"
)

func newTestEngine(t *testing.T, bufferSize int) *Engine {
	t.Helper()
	e, err := New(Config{
		SampleRate:     44100,
		BufferSize:     bufferSize,
		OutputChannels: 1,
		ChannelCaching: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetVolume(1.0); err != nil {
		t.Fatal(err)
	}
	return e
}

func constantBuffer(channels, size int, value float32) *audio.Buffer {
	b := audio.NewBuffer(channels, size)
	for c := 0; c < channels; c++ {
		buf := b.Channel(c)
		for i := range buf {
			buf[i] = value
		}
	}
	return b
}

func addEvent(inst *sequencer.Instrument, start, length int, value float32) *sequencer.Event {
	e := sequencer.NewSampleEvent(inst)
	e.SetBuffer(constantBuffer(1, length, value), true)
	e.SetLength(length)
	e.SetStart(start)
	e.AddToSequencer()
	return e
}

func drain(e *Engine) []notify.Message {
	var out []notify.Message
	for {
		select {
		case m := <-e.Watch():
			out = append(out, m)
		default:
			return out
		}
	}
}

func countKind(msgs []notify.Message, kind notify.Kind) int {
	n := 0
	for _, m := range msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// Scenario: single sequenced event, no loop, within range.
func TestRenderSingleSequencedEvent(t *testing.T) {
	e := newTestEngine(t, 50)
	inst := sequencer.NewInstrument(e.Sequencer(), 1.0)
	addEvent(inst, 100, 50, 1.0)

	e.SetPlaying(true)
	e.SetBufferPosition(100)

	dst := make([]float32, 50)
	e.Render(dst)
	for i, s := range dst {
		if s != MaxPhase {
			t.Fatalf("sample %d: expected full scale, got %f", i, s)
		}
	}
}

func TestRenderSilentWhenPaused(t *testing.T) {
	e := newTestEngine(t, 50)
	inst := sequencer.NewInstrument(e.Sequencer(), 1.0)
	addEvent(inst, 0, 50, 1.0)

	dst := make([]float32, 50)
	e.Render(dst)
	for i, s := range dst {
		if s != 0 {
			t.Fatalf("paused engine should render silence, sample %d = %f", i, s)
		}
	}
}

// Scenario: loop wrap. Loop [0, 199], event of ten 1.0 samples at the loop
// start, rendering at position 180.
func TestRenderLoopWrap(t *testing.T) {
	e := newTestEngine(t, 50)
	if err := e.SetLoopRange(0, 199, 16); err != nil {
		t.Fatal(err)
	}
	inst := sequencer.NewInstrument(e.Sequencer(), 1.0)
	addEvent(inst, 0, 10, 1.0)

	e.SetPlaying(true)
	e.SetBufferPosition(180)

	dst := make([]float32, 50)
	e.Render(dst)

	for i := 0; i < 20; i++ {
		if dst[i] != 0 {
			t.Fatalf("sample %d before wrap should be silent, got %f", i, dst[i])
		}
	}
	for i := 20; i < 30; i++ {
		if dst[i] != 1.0 {
			t.Fatalf("sample %d at loop start should be 1.0, got %f", i, dst[i])
		}
	}
	for i := 30; i < 50; i++ {
		if dst[i] != 0 {
			t.Fatalf("sample %d after event should be silent, got %f", i, dst[i])
		}
	}
	if pos := e.BufferPosition(); pos != 30 {
		t.Errorf("playhead should wrap to 30, got %d", pos)
	}
}

// Scenario: channel cache serves stale content until cleared.
func TestChannelCacheServesUntilCleared(t *testing.T) {
	e := newTestEngine(t, 50)
	if err := e.SetLoopRange(0, 99, 16); err != nil {
		t.Fatal(err)
	}
	inst := sequencer.NewInstrument(e.Sequencer(), 1.0)
	ev := addEvent(inst, 0, 100, 0.5)
	inst.Channel().SetCanCache(true, 100, 0, 99)

	e.SetPlaying(true)
	dst := make([]float32, 50)

	// one full loop renders and fills the cache
	e.Render(dst)
	e.Render(dst)
	if !inst.Channel().HasCache() {
		t.Fatal("cache should be filled after one loop")
	}

	// mutate the source; the cache must keep serving the old signal
	buf := ev.Buffer()
	for i := 0; i < buf.Size; i++ {
		buf.Channel(0)[i] = 0.9
	}
	e.Render(dst)
	if got := dst[0]; math.Abs(float64(got)-0.5) > 1e-5 {
		t.Errorf("cached signal expected 0.5, got %f", got)
	}

	// clearing the cache lets the mutated contents sound
	inst.Channel().ClearCachedBuffer()
	e.Render(dst)
	if got := dst[0]; math.Abs(float64(got)-0.9) > 1e-5 {
		t.Errorf("after clear expected 0.9, got %f", got)
	}
}

// Scenario: live events retain unity amplitude regardless of channel fader.
func TestLiveEventAmplitudeCompensation(t *testing.T) {
	e := newTestEngine(t, 50)
	inst := sequencer.NewInstrument(e.Sequencer(), 0.25)
	live := sequencer.NewSampleEvent(inst)
	live.SetBuffer(constantBuffer(1, 50, 1.0), true)
	live.SetSequenced(false)
	live.Play()

	dst := make([]float32, 50)
	e.Render(dst)
	for i, s := range dst {
		if math.Abs(float64(s)-float64(MaxPhase)) > 1e-5 {
			t.Fatalf("live event should reach full scale, sample %d = %f", i, s)
		}
	}
}

func TestLiveEventAudibleOnZeroVolumeChannel(t *testing.T) {
	e := newTestEngine(t, 50)
	inst := sequencer.NewInstrument(e.Sequencer(), 0)
	live := sequencer.NewSampleEvent(inst)
	live.SetBuffer(constantBuffer(1, 50, 1.0), true)
	live.SetSequenced(false)
	live.Play()

	dst := make([]float32, 50)
	e.Render(dst)
	if dst[0] != MaxPhase {
		t.Errorf("live events substitute full scale on muted faders, got %f", dst[0])
	}
}

func TestMasterVolumeAndClipping(t *testing.T) {
	e := newTestEngine(t, 50)
	inst := sequencer.NewInstrument(e.Sequencer(), 1.0)
	addEvent(inst, 0, 50, 1.0)
	// two overlapping full-scale events sum to 2.0 pre-clip
	addEvent(inst, 0, 50, 1.0)

	e.SetPlaying(true)
	dst := make([]float32, 50)
	e.Render(dst)
	for i, s := range dst {
		if s > MaxPhase || s < -MaxPhase {
			t.Fatalf("sample %d exceeds the clip ceiling: %f", i, s)
		}
	}

	e2 := newTestEngine(t, 50)
	if err := e2.SetVolume(0.5); err != nil {
		t.Fatal(err)
	}
	inst2 := sequencer.NewInstrument(e2.Sequencer(), 1.0)
	addEvent(inst2, 0, 50, 1.0)
	e2.SetPlaying(true)
	dst2 := make([]float32, 50)
	e2.Render(dst2)
	if math.Abs(float64(dst2[0])-0.5) > 1e-5 {
		t.Errorf("master volume should scale output, got %f", dst2[0])
	}
}

func TestMasterChainProcessesSum(t *testing.T) {
	e := newTestEngine(t, 50)
	e.MasterBus().Add(fx.NewGain(0.5))
	inst := sequencer.NewInstrument(e.Sequencer(), 1.0)
	addEvent(inst, 0, 50, 1.0)

	e.SetPlaying(true)
	dst := make([]float32, 50)
	e.Render(dst)
	if math.Abs(float64(dst[0])-0.5) > 1e-5 {
		t.Errorf("master gain should halve the output, got %f", dst[0])
	}
}

// Tempo round-trip: returning to the initial tempo and signature restores
// the derived grid values exactly.
func TestTempoRoundTrip(t *testing.T) {
	e := newTestEngine(t, 512)
	initialBar := e.SamplesPerBar()
	initialStep := e.SamplesPerStep()
	initialMax := e.MaxBufferPosition()

	if err := e.SetTempoNow(140, 3, 4); err != nil {
		t.Fatal(err)
	}
	if err := e.SetTempoNow(93.5, 7, 8); err != nil {
		t.Fatal(err)
	}
	if err := e.SetTempoNow(120, 4, 4); err != nil {
		t.Fatal(err)
	}

	if e.SamplesPerBar() != initialBar {
		t.Errorf("samplesPerBar: expected %d, got %d", initialBar, e.SamplesPerBar())
	}
	if e.SamplesPerStep() != initialStep {
		t.Errorf("samplesPerStep: expected %f, got %f", initialStep, e.SamplesPerStep())
	}
	if e.MaxBufferPosition() != initialMax {
		t.Errorf("maxBufferPosition: expected %d, got %d", initialMax, e.MaxBufferPosition())
	}
}

func TestQueuedTempoLatchesAfterRenderIteration(t *testing.T) {
	e := newTestEngine(t, 256)
	if err := e.SetTempo(140, 4, 4); err != nil {
		t.Fatal(err)
	}
	if e.Tempo() != 120 {
		t.Fatal("queued tempo must not apply before the render iteration ends")
	}
	e.Render(make([]float32, 256))
	if e.Tempo() != 140 {
		t.Errorf("tempo should latch at iteration end, got %f", e.Tempo())
	}
	msgs := drain(e)
	if countKind(msgs, notify.SequencerTempoUpdated) != 1 {
		t.Error("expected one SEQUENCER_TEMPO_UPDATED broadcast")
	}
}

func TestInvalidControlCallsFailWithoutStateChange(t *testing.T) {
	e := newTestEngine(t, 256)
	before := e.Tempo()
	if err := e.SetTempo(-10, 4, 4); err == nil {
		t.Error("negative tempo should fail")
	}
	if err := e.SetTempoNow(120, 0, 4); err == nil {
		t.Error("zero beat amount should fail")
	}
	if e.Tempo() != before {
		t.Error("failed calls must not change state")
	}
	if err := e.SetLoopRange(50, 10, 16); err == nil {
		t.Error("inverted loop range should fail")
	}
	if err := e.SetVolume(1.5); err == nil {
		t.Error("out-of-range volume should fail")
	}
	if err := e.UpdateMeasures(0, 16); err == nil {
		t.Error("zero bars should fail")
	}
	if _, err := New(Config{SampleRate: 0, BufferSize: 512, OutputChannels: 2}); err == nil {
		t.Error("zero sample rate should fail")
	}
}

func TestStepsPerBarRederivesSubdivision(t *testing.T) {
	e := newTestEngine(t, 512)

	// 8 steps per bar in 4/4: a step is an eighth of the bar
	if err := e.UpdateMeasures(1, 8); err != nil {
		t.Fatal(err)
	}
	want := float64(e.SamplesPerBar()) / 8
	if got := e.SamplesPerStep(); math.Abs(got-want) > 1e-9 {
		t.Errorf("8 steps per bar: expected step of %f frames, got %f", want, got)
	}

	// 32 steps per bar via the loop range call
	if err := e.SetLoopRange(0, e.SamplesPerBar()-1, 32); err != nil {
		t.Fatal(err)
	}
	want = float64(e.SamplesPerBar()) / 32
	if got := e.SamplesPerStep(); math.Abs(got-want) > 1e-9 {
		t.Errorf("32 steps per bar: expected step of %f frames, got %f", want, got)
	}
}

func TestUpdateMeasuresInvalidatesChannelCaches(t *testing.T) {
	e := newTestEngine(t, 50)
	inst := sequencer.NewInstrument(e.Sequencer(), 1.0)
	ch := inst.Channel()
	ch.CreateOutputBuffer(50, 1)
	ch.SetCanCache(true, 50, 0, 49)
	ch.WriteCache(constantBuffer(1, 50, 0.5), 0)
	if !ch.HasCache() {
		t.Fatal("cache should be filled")
	}

	if err := e.UpdateMeasures(2, 16); err != nil {
		t.Fatal(err)
	}
	if ch.HasCache() {
		t.Error("changing the loop length should drop channel caches")
	}
}

func TestMarkerNotification(t *testing.T) {
	e := newTestEngine(t, 50)
	inst := sequencer.NewInstrument(e.Sequencer(), 1.0)
	addEvent(inst, 0, 10, 0.5)

	e.SetNotificationMarker(25)
	e.SetPlaying(true)
	e.Render(make([]float32, 50))

	msgs := drain(e)
	if countKind(msgs, notify.MarkerPositionReached) != 1 {
		t.Error("expected MARKER_POSITION_REACHED exactly once")
	}

	// unset marker stays silent
	e.SetNotificationMarker(-1)
	e.SetBufferPosition(0)
	e.Render(make([]float32, 50))
	msgs = drain(e)
	if countKind(msgs, notify.MarkerPositionReached) != 0 {
		t.Error("unset marker must not fire")
	}
}

func TestStepPositionNotifications(t *testing.T) {
	e := newTestEngine(t, 512)
	e.SetPlaying(true)
	// one bar at 120 BPM is 88200 frames over 16 steps: a step every
	// 5512.5 frames
	frames := 0
	for frames < 12000 {
		e.Render(make([]float32, 512))
		frames += 512
	}
	msgs := drain(e)
	steps := countKind(msgs, notify.SequencerPositionUpdated)
	if steps < 2 || steps > 4 {
		t.Errorf("expected 2-4 step notifications over 12000 frames, got %d", steps)
	}
}

// Scenario: deletable event removal between passes.
func TestDeletableEventRemovedBetweenPasses(t *testing.T) {
	e := newTestEngine(t, 50)
	inst := sequencer.NewInstrument(e.Sequencer(), 1.0)
	doomed := addEvent(inst, 0, 50, 0.25)
	addEvent(inst, 0, 50, 0.5)

	e.SetPlaying(true)
	dst := make([]float32, 50)
	e.Render(dst)
	if math.Abs(float64(dst[0])-0.75) > 1e-5 {
		t.Fatalf("both events should sound initially, got %f", dst[0])
	}

	doomed.SetDeletable(true)
	e.SetBufferPosition(0)
	e.Render(dst)
	if math.Abs(float64(dst[0])-0.5) > 1e-5 {
		t.Errorf("surviving event should render correctly, got %f", dst[0])
	}
	if len(inst.Events()) != 1 {
		t.Errorf("deletable event should be gone from the instrument, have %d", len(inst.Events()))
	}
}

// Scenario: bounce one bar at 120 BPM / 44100 Hz into a single 88200 frame
// WAV with exactly one BOUNCE_COMPLETE.
func TestBounceOneBar(t *testing.T) {
	bufferSize := 1024
	e := newTestEngine(t, bufferSize)
	inst := sequencer.NewInstrument(e.Sequencer(), 1.0)
	addEvent(inst, 0, 1000, 0.5)

	barFrames := e.SamplesPerBar()
	if barFrames != 88200 {
		t.Fatalf("one bar at 120 BPM 4/4 should be 88200 frames, got %d", barFrames)
	}

	dir := t.TempDir()
	maxBuffers := (barFrames + bufferSize - 1) / bufferSize
	if err := e.SetBounceState(true, maxBuffers, dir); err != nil {
		t.Fatal(err)
	}
	e.SetPlaying(true)

	scratch := make([]float32, bufferSize)
	for i := 0; i < maxBuffers+8; i++ {
		e.Render(scratch)
	}

	msgs := drain(e)
	if countKind(msgs, notify.BounceComplete) != 1 {
		t.Fatalf("expected exactly one BOUNCE_COMPLETE, messages: %v", msgs)
	}

	outPath := filepath.Join(dir, "output.wav")
	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("bounced file missing: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if frames := len(pcm.Data) / pcm.Format.NumChannels; frames != barFrames {
		t.Errorf("expected %d bounced frames, got %d", barFrames, frames)
	}
}

func TestRenderSamplesOffline(t *testing.T) {
	e := newTestEngine(t, 100)
	inst := sequencer.NewInstrument(e.Sequencer(), 1.0)
	addEvent(inst, 0, 300, 0.5)
	e.SetPlaying(true)

	out := RenderSamples(e, 300)
	if len(out) != 300 {
		t.Fatalf("expected 300 samples, got %d", len(out))
	}
	if math.Abs(float64(out[0])-0.5) > 1e-5 {
		t.Errorf("expected 0.5, got %f", out[0])
	}
}

func TestResetRewindsTransportAndClearsEvents(t *testing.T) {
	e := newTestEngine(t, 50)
	inst := sequencer.NewInstrument(e.Sequencer(), 1.0)
	addEvent(inst, 0, 100, 1.0)
	e.SetPlaying(true)
	e.Render(make([]float32, 50))

	e.Reset()
	if e.BufferPosition() != 0 {
		t.Error("reset should rewind the playhead")
	}
	if len(inst.Events()) != 0 {
		t.Error("reset should clear sequenced events")
	}
}
