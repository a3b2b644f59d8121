// Package mwengine is an embedded audio engine for music production: it
// renders instruments through per-channel effect chains and a master bus,
// driven by a step sequencer with bar/beat/time-signature awareness, while
// optionally recording the output (or a live device input) to disk as WAV.
package mwengine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cbegin/mwengine-go/internal/audio"
	"github.com/cbegin/mwengine-go/internal/driver"
	"github.com/cbegin/mwengine-go/internal/fx"
	"github.com/cbegin/mwengine-go/internal/notify"
	"github.com/cbegin/mwengine-go/internal/record"
	"github.com/cbegin/mwengine-go/internal/sequencer"
)

// MaxPhase is the engine's full-scale sample magnitude.
const MaxPhase float32 = 1.0

// Config holds the constants latched at engine construction.
type Config struct {
	SampleRate     int
	BufferSize     int
	OutputChannels int
	InputChannels  int
	ChannelCaching bool
}

// Option mutates engine construction.
type Option func(*Engine)

// WithSink installs an additional notification sink next to the Watch
// channel. Sinks run on the render thread and must not block or call back
// into the engine.
func WithSink(s notify.Sink) Option {
	return func(e *Engine) {
		e.extraSinks = append(e.extraSinks, s)
	}
}

// Engine owns the render loop and all sequencer/transport state. One Engine
// corresponds to one audio device; create it once at startup and reuse it.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	seq       *sequencer.Sequencer
	masterBus *fx.Chain

	watch      *notify.ChannelSink
	extraSinks []notify.Sink
	sink       notify.Sink

	// transport / grid
	playing              bool
	tempo                float64
	queuedTempo          float64
	beatAmount           int
	beatUnit             int
	queuedBeatAmount     int
	queuedBeatUnit       int
	amountOfBars         int
	beatSubdivision      int
	stepsPerBar          int
	samplesPerBeat       int
	samplesPerStep       float64
	samplesPerBar        int
	minBufferPosition    int
	maxBufferPosition    int
	minStepPosition      int
	maxStepPosition      int
	stepPosition         int
	bufferPosition       int
	markedBufferPosition int
	nextStepAt           float64
	volume               float32

	// recording
	recordOutput     bool
	recordFromDevice bool
	monitorRecording bool
	bouncing         bool
	haltRecording    bool
	recordingFileID  int
	writer           *record.DiskWriter
	writerCh         chan int

	// scratch buffers owned by the render loop
	inBuffer   *audio.Buffer
	recBuffer  *audio.Buffer
	recScratch []float32
	channels   []*sequencer.Channel

	output  *driver.Output
	capture *driver.Capture

	running atomic.Bool
}

// New creates an engine with the given configuration. The transport defaults
// to 120 BPM in 4/4 over one bar; use Prepare or the setters to change it.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.SampleRate <= 0 || cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("invalid engine config (sampleRate %d, bufferSize %d)", cfg.SampleRate, cfg.BufferSize)
	}
	if cfg.OutputChannels < 1 {
		return nil, fmt.Errorf("output channels must be >= 1, got %d", cfg.OutputChannels)
	}
	e := &Engine{
		cfg:                  cfg,
		seq:                  sequencer.New(),
		masterBus:            fx.NewChain(),
		watch:                notify.NewChannelSink(64),
		tempo:                120,
		queuedTempo:          120,
		beatAmount:           4,
		beatUnit:             4,
		queuedBeatAmount:     4,
		queuedBeatUnit:       4,
		amountOfBars:         1,
		beatSubdivision:      4,
		stepsPerBar:          16,
		maxStepPosition:      15,
		markedBufferPosition: -1,
		volume:               0.85,
		inBuffer:             audio.NewBuffer(cfg.OutputChannels, cfg.BufferSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	sinks := notify.Multi{e.watch}
	sinks = append(sinks, e.extraSinks...)
	e.sink = sinks
	e.writer = record.NewDiskWriter(cfg.SampleRate, notify.SinkFunc(e.onWriterNotification))
	e.recalculateGrid()
	return e, nil
}

// Prepare reconfigures buffer size, sample rate, tempo and time signature in
// one call, the way a host sets up the engine before starting the render
// loop.
func (e *Engine) Prepare(bufferSize, sampleRate int, tempo float64, beatAmount, beatUnit int) error {
	if bufferSize <= 0 || sampleRate <= 0 {
		return fmt.Errorf("invalid prepare config (bufferSize %d, sampleRate %d)", bufferSize, sampleRate)
	}
	if err := validateTempo(tempo, beatAmount, beatUnit); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.BufferSize = bufferSize
	e.cfg.SampleRate = sampleRate
	e.tempo = tempo
	e.queuedTempo = tempo
	e.beatAmount = beatAmount
	e.beatUnit = beatUnit
	e.queuedBeatAmount = beatAmount
	e.queuedBeatUnit = beatUnit
	e.inBuffer = audio.NewBuffer(e.cfg.OutputChannels, bufferSize)
	e.writer = record.NewDiskWriter(sampleRate, notify.SinkFunc(e.onWriterNotification))
	e.recalculateGrid()
	return nil
}

func validateTempo(tempo float64, beatAmount, beatUnit int) error {
	if tempo <= 0 {
		return fmt.Errorf("tempo must be positive, got %f", tempo)
	}
	if beatAmount < 1 || beatUnit < 1 {
		return fmt.Errorf("invalid time signature %d/%d", beatAmount, beatUnit)
	}
	return nil
}

// Sequencer exposes the instrument registry for building arrangements.
func (e *Engine) Sequencer() *sequencer.Sequencer { return e.seq }

// MasterBus is the master processing chain applied after channel summing.
func (e *Engine) MasterBus() *fx.Chain { return e.masterBus }

// Watch returns the notification channel. Messages are dropped when the
// receiver lags; drain it from a dedicated goroutine.
func (e *Engine) Watch() <-chan notify.Message { return e.watch.C }

// SetTempo queues a tempo / time-signature change; it is latched at the end
// of the current render iteration.
func (e *Engine) SetTempo(bpm float64, beatAmount, beatUnit int) error {
	if err := validateTempo(bpm, beatAmount, beatUnit); err != nil {
		return err
	}
	e.mu.Lock()
	e.queuedTempo = bpm
	e.queuedBeatAmount = beatAmount
	e.queuedBeatUnit = beatUnit
	e.mu.Unlock()
	return nil
}

// SetTempoNow applies a tempo / time-signature change immediately instead of
// queuing it for the next render iteration.
func (e *Engine) SetTempoNow(bpm float64, beatAmount, beatUnit int) error {
	if err := validateTempo(bpm, beatAmount, beatUnit); err != nil {
		return err
	}
	e.mu.Lock()
	e.queuedTempo = bpm
	e.queuedBeatAmount = beatAmount
	e.queuedBeatUnit = beatUnit
	e.handleTempoUpdate(bpm, true)
	e.mu.Unlock()
	return nil
}

// SetLoopRange restricts playback to [startFrame, endFrame] and adjusts the
// step bounds. Channel caches are invalidated as the cached ranges no longer
// match the loop.
func (e *Engine) SetLoopRange(startFrame, endFrame, stepsPerBar int) error {
	if startFrame < 0 || endFrame <= startFrame {
		return fmt.Errorf("invalid loop range [%d, %d]", startFrame, endFrame)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.minBufferPosition = startFrame
	e.maxBufferPosition = endFrame
	e.applyStepsPerBar(stepsPerBar)
	if e.bufferPosition < e.minBufferPosition || e.bufferPosition > e.maxBufferPosition {
		e.bufferPosition = e.minBufferPosition
	}
	if e.samplesPerStep > 0 {
		e.minStepPosition = int(float64(startFrame) / e.samplesPerStep)
		e.maxStepPosition = int(float64(endFrame) / e.samplesPerStep)
	}
	for _, inst := range e.seq.Instruments() {
		inst.Channel().InvalidateCache()
	}
	e.resyncStepGrid()
	return nil
}

// UpdateMeasures changes the loop length in bars and the step resolution.
func (e *Engine) UpdateMeasures(amountOfBars, stepsPerBar int) error {
	if amountOfBars < 1 || stepsPerBar < 1 {
		return fmt.Errorf("invalid measures config (bars %d, steps %d)", amountOfBars, stepsPerBar)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.amountOfBars = amountOfBars
	e.applyStepsPerBar(stepsPerBar)
	e.recalculateGrid()
	// the loop range just changed, so cached channel ranges no longer match
	for _, inst := range e.seq.Instruments() {
		inst.Channel().InvalidateCache()
	}
	return nil
}

// SetBufferPosition moves the playhead, clamped to the loop range.
func (e *Engine) SetBufferPosition(frame int) {
	e.mu.Lock()
	if frame < e.minBufferPosition {
		frame = e.minBufferPosition
	}
	if frame > e.maxBufferPosition {
		frame = e.maxBufferPosition
	}
	e.bufferPosition = frame
	e.resyncStepGrid()
	e.mu.Unlock()
}

func (e *Engine) SetPlaying(playing bool) {
	e.mu.Lock()
	e.playing = playing
	if playing {
		e.resyncStepGrid()
	}
	e.mu.Unlock()
}

// SetVolume sets the master volume (0..1).
func (e *Engine) SetVolume(v float32) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("volume out of range: %f", v)
	}
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
	return nil
}

// SetNotificationMarker arms MARKER_POSITION_REACHED for the given frame;
// -1 unsets the marker.
func (e *Engine) SetNotificationMarker(frame int) {
	e.mu.Lock()
	e.markedBufferPosition = frame
	e.mu.Unlock()
}

func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *Engine) Tempo() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tempo
}

func (e *Engine) BufferPosition() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bufferPosition
}

func (e *Engine) StepPosition() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepPosition
}

// SamplesPerBar returns the current bar length in frames.
func (e *Engine) SamplesPerBar() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samplesPerBar
}

// SamplesPerStep returns the (fractional) step length in frames.
func (e *Engine) SamplesPerStep() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samplesPerStep
}

// MaxBufferPosition returns the inclusive loop end.
func (e *Engine) MaxBufferPosition() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxBufferPosition
}

// Start opens the output device and begins pulling buffers through the
// render loop. When the hardware is unavailable the failure is broadcast and
// the engine stays safe to re-initialize. While bouncing no device is
// opened: rendering runs offline until the loop point is reached.
func (e *Engine) Start() error {
	e.mu.Lock()
	bouncing := e.bouncing
	e.mu.Unlock()

	if e.running.Load() {
		return errors.New("engine already running")
	}
	e.running.Store(true)

	if bouncing {
		go e.bounceLoop()
		return nil
	}

	out, err := driver.NewOutput(e.cfg.SampleRate, e.cfg.OutputChannels, e)
	if err != nil {
		e.running.Store(false)
		e.sink.Notify(notify.Message{Kind: notify.ErrorHardwareUnavailable})
		return fmt.Errorf("audio hardware unavailable: %w", err)
	}
	e.mu.Lock()
	e.output = out
	e.mu.Unlock()
	out.Play()
	return nil
}

// Stop halts rendering after the current iteration and releases the device.
func (e *Engine) Stop() {
	e.running.Store(false)
	e.mu.Lock()
	out := e.output
	e.output = nil
	capt := e.capture
	e.capture = nil
	e.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if capt != nil {
		capt.Close()
	}
}

// Stopped implements driver.StoppingRenderer.
func (e *Engine) Stopped() bool { return !e.running.Load() }

// Reset clears all sequenced material and rewinds the transport.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq.ClearEvents()
	e.bufferPosition = 0
	e.stepPosition = 0
	e.recordOutput = false
	e.recordFromDevice = false
	e.bouncing = false
	e.resyncStepGrid()
}

/* grid bookkeeping */

// applyStepsPerBar adopts a new step resolution and re-derives the beat
// subdivision from it, keeping a step equal to bar / stepsPerBar. Caller
// holds e.mu.
func (e *Engine) applyStepsPerBar(stepsPerBar int) {
	if stepsPerBar < 1 {
		return
	}
	e.stepsPerBar = stepsPerBar
	e.seq.StepsPerBar = stepsPerBar
	if e.beatAmount > 0 {
		if subdivision := stepsPerBar / e.beatAmount; subdivision > 0 {
			e.beatSubdivision = subdivision
		}
	}
	e.samplesPerStep = float64(e.samplesPerBeat) / float64(e.beatSubdivision)
}

// recalculateGrid derives the sample grid from tempo and time signature.
// Caller holds e.mu.
func (e *Engine) recalculateGrid() {
	tempSamplesPerBar := (float64(e.cfg.SampleRate) * 60 / e.tempo) * float64(e.beatAmount)
	e.samplesPerBeat = int(tempSamplesPerBar / float64(e.beatAmount))
	e.samplesPerStep = float64(e.samplesPerBeat) / float64(e.beatSubdivision)
	e.samplesPerBar = int(e.samplesPerStep * float64(e.beatSubdivision) * float64(e.beatAmount))
	e.minBufferPosition = 0
	e.maxBufferPosition = e.samplesPerBar*e.amountOfBars - 1
	e.minStepPosition = 0
	e.maxStepPosition = e.stepsPerBar*e.amountOfBars - 1
	e.seq.SamplesPerBar = e.samplesPerBar
	e.seq.StepsPerBar = e.stepsPerBar
	e.resyncStepGrid()
}

// handleTempoUpdate applies a queued tempo / signature change while keeping
// the playhead at the same relative loop position. Caller holds e.mu.
func (e *Engine) handleTempoUpdate(newTempo float64, broadcast bool) {
	oldTempo := e.tempo
	oldPosition := 0.0
	if e.maxBufferPosition > 0 {
		oldPosition = float64(e.bufferPosition) / float64(e.maxBufferPosition)
	}
	e.tempo = newTempo
	e.beatAmount = e.queuedBeatAmount
	e.beatUnit = e.queuedBeatUnit

	tempSamplesPerBar := (float64(e.cfg.SampleRate) * 60 / e.tempo) * float64(e.beatAmount)
	e.samplesPerBeat = int(tempSamplesPerBar / float64(e.beatAmount))
	e.samplesPerStep = float64(e.samplesPerBeat) / float64(e.beatSubdivision)
	e.samplesPerBar = int(e.samplesPerStep * float64(e.beatSubdivision) * float64(e.beatAmount))
	e.maxBufferPosition = e.samplesPerBar*e.amountOfBars - 1

	e.bufferPosition = int(math.Round(float64(e.maxBufferPosition) * oldPosition))

	e.seq.SamplesPerBar = e.samplesPerBar
	e.seq.StepsPerBar = e.stepsPerBar
	ratio := 1.0
	if newTempo > 0 {
		ratio = oldTempo / newTempo
	}
	e.seq.UpdateEvents(ratio)
	e.resyncStepGrid()

	if broadcast {
		e.sink.Notify(notify.Message{Kind: notify.SequencerTempoUpdated})
	}
}

// resyncStepGrid realigns the fractional step accumulator with the playhead.
// Caller holds e.mu.
func (e *Engine) resyncStepGrid() {
	if e.samplesPerStep <= 0 {
		return
	}
	steps := math.Ceil(float64(e.bufferPosition) / e.samplesPerStep)
	e.nextStepAt = steps * e.samplesPerStep
}
