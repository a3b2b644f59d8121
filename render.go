package mwengine

import (
	"github.com/cbegin/mwengine-go/internal/audio"
	"github.com/cbegin/mwengine-go/internal/notify"
	"github.com/cbegin/mwengine-go/internal/sequencer"
)

// Render produces one iteration of the render loop into dst, which holds
// interleaved output frames (len(dst) / OutputChannels frames). The driver
// invokes this on every hardware callback; the bounce loop invokes it
// directly.
func (e *Engine) Render(dst []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	outputChannels := e.cfg.OutputChannels
	frames := len(dst) / outputChannels
	if frames == 0 {
		return
	}
	e.ensureScratch(frames)
	isMono := outputChannels == 1

	// 1. silence the master accumulator
	e.inBuffer.Silence()

	// 2. gather the audio events for the window being processed
	bufferEnd := e.bufferPosition + frames - 1
	loopStarted := bufferEnd > e.maxBufferPosition
	loopOffset := (e.maxBufferPosition - e.bufferPosition) + 1
	loopAmount := frames - loopOffset

	// a bounce renders exactly one pass over the loop range: truncate the
	// final window at the loop end, append it, then finish
	bounceEnding := false
	if e.bouncing && bufferEnd >= e.maxBufferPosition {
		bounceEnding = true
		loopStarted = false
		frames = loopOffset
		bufferEnd = e.maxBufferPosition
	}

	e.channels = e.seq.Collect(e.channels[:0], e.bufferPosition, bufferEnd, true, true)

	// 3. the window straddles the loop point: gather the extra events from
	// the loop start into the same channels
	if loopStarted {
		e.seq.Collect(nil, e.minBufferPosition, e.minBufferPosition+loopAmount-1, false, false)
	}

	// 4. device input for full-duplex recording
	if e.recordFromDevice && e.capture != nil {
		e.readCapture(frames)
	}

	// 5. per-channel mixing
	for _, channel := range e.channels {
		e.renderChannel(channel, frames, loopStarted, loopOffset)
	}

	// 6. master bus
	for _, p := range e.masterBus.ActiveProcessors() {
		p.Process(e.inBuffer, isMono)
	}

	// 7/8. interleave with master volume and hard clip; advance playhead
	for i := 0; i < frames; i++ {
		for ci := 0; ci < outputChannels; ci++ {
			sample := e.inBuffer.Channel(ci)[i] * e.volume
			if sample < -MaxPhase {
				sample = -MaxPhase
			} else if sample > MaxPhase {
				sample = MaxPhase
			}
			dst[i*outputChannels+ci] = sample
		}
		if e.playing {
			if float64(e.bufferPosition) >= e.nextStepAt {
				e.handleSequencerPositionUpdate(i)
				e.nextStepAt += e.samplesPerStep
			}
			if e.markedBufferPosition >= 0 && e.bufferPosition == e.markedBufferPosition {
				e.sink.Notify(notify.Message{Kind: notify.MarkerPositionReached})
			}
			e.bufferPosition++
			if e.bufferPosition > e.maxBufferPosition {
				e.bufferPosition = e.minBufferPosition
				e.resyncStepGrid()
			}
		}
	}

	// 10. feed the recorder; rotation and snippet notifications happen
	// inside the writer, persistence on the writer task
	if e.playing && (e.recordOutput || e.recordFromDevice) {
		if e.recordFromDevice {
			e.writer.AppendBuffer(e.recBuffer)
		} else {
			e.writer.AppendInterleaved(dst, frames, outputChannels)
		}
		if e.haltRecording {
			e.haltRecording = false
			e.writer.Flush()
		}
	}

	if bounceEnding {
		e.finishBounceLocked()
		for i := frames * outputChannels; i < len(dst); i++ {
			dst[i] = 0
		}
		return
	}

	// 11. latch a queued tempo change
	if e.queuedTempo != e.tempo ||
		e.queuedBeatAmount != e.beatAmount || e.queuedBeatUnit != e.beatUnit {
		e.handleTempoUpdate(e.queuedTempo, true)
	}
}

// renderChannel mixes one channel's events, runs its chain (interleaving
// cache writes before non-cacheable processors) and merges the result into
// the master accumulator. Caller holds e.mu.
func (e *Engine) renderChannel(channel *sequencer.Channel, frames int, loopStarted bool, loopOffset int) {
	channel.CreateOutputBuffer(frames, e.cfg.OutputChannels)
	channelBuffer := channel.OutputBuffer()
	channelBuffer.Silence()

	isCached := channel.HasCache()
	mustCache := e.cfg.ChannelCaching && channel.CanCache() && !isCached

	useChannelRange := channel.MaxBufferPosition != 0
	maxBufferPosition := e.maxBufferPosition
	if useChannelRange {
		maxBufferPosition = channel.MaxBufferPosition
	}

	// normalize the playhead into the channel's own range; channel ranges
	// are whole measures
	bufferPos := e.bufferPosition
	for bufferPos > maxBufferPosition && e.samplesPerBar > 0 {
		bufferPos -= e.samplesPerBar
	}

	events := channel.Events()
	channelVolume := channel.MixVolume

	if e.playing && len(events) > 0 && channelVolume > 0 {
		if !isCached {
			for _, ev := range events {
				if ev.IsLocked() {
					// a writer holds the event; skip it for this pass only
					continue
				}
				ev.MixBuffer(channelBuffer, bufferPos, e.minBufferPosition,
					maxBufferPosition, loopStarted, loopOffset, useChannelRange)
			}
		} else {
			channel.ReadCachedBuffer(channelBuffer, bufferPos)
		}
	}

	// live events play at unity regardless of the channel fader: their
	// amplitude is compensated against the mix volume applied later
	if channel.HasLiveEvents {
		liveAmp := MaxPhase
		if channelVolume > 0 {
			liveAmp = MaxPhase / channelVolume
		}
		for _, ev := range channel.LiveEvents() {
			channelBuffer.Merge(ev.Synthesize(frames), 0, 0, liveAmp)
		}
	}

	cacheReadPos := 0
	for _, p := range channel.ActiveProcessors() {
		cacheable := p.Cacheable()
		if isCached && cacheable {
			continue // served from cache
		}
		// flush the pre-processor signal into the cache before the first
		// non-cacheable processor runs
		if mustCache && !cacheable {
			mustCache = !writeChannelCache(channel, channelBuffer, cacheReadPos)
		}
		p.Process(channelBuffer, channel.IsMono)
	}
	if mustCache {
		writeChannelCache(channel, channelBuffer, cacheReadPos)
	}

	if channel.HasLiveEvents && channelVolume == 0 {
		channelVolume = MaxPhase
	}
	e.inBuffer.Merge(channelBuffer, 0, 0, channelVolume)
}

func writeChannelCache(channel *sequencer.Channel, channelBuffer *audio.Buffer, cacheReadPos int) bool {
	// only a capturing channel takes writes; capture is not aligned to the
	// cache start offset and appends from the first pass after arming
	if !channel.IsCaching() {
		return false
	}
	channel.WriteCache(channelBuffer, cacheReadPos)
	return true
}

// handleSequencerPositionUpdate recomputes the step index and broadcasts the
// position with the intra-buffer frame offset. Caller holds e.mu.
func (e *Engine) handleSequencerPositionUpdate(bufferOffset int) {
	if e.samplesPerStep > 0 {
		e.stepPosition = int(float64(e.bufferPosition) / e.samplesPerStep)
	}
	if e.stepPosition > e.maxStepPosition {
		e.stepPosition = e.minStepPosition
	}
	e.sink.Notify(notify.Message{Kind: notify.SequencerPositionUpdated, Value: bufferOffset})
}

// ensureScratch resizes render-loop buffers when the driver pulls a
// different frame count. Caller holds e.mu.
func (e *Engine) ensureScratch(frames int) {
	if e.inBuffer == nil || e.inBuffer.Size != frames || e.inBuffer.Channels != e.cfg.OutputChannels {
		e.inBuffer = audio.NewBuffer(e.cfg.OutputChannels, frames)
	}
	if e.recordFromDevice {
		inCh := e.cfg.InputChannels
		if inCh < 1 {
			inCh = 1
		}
		if e.recBuffer == nil || e.recBuffer.Size != frames || e.recBuffer.Channels != inCh {
			e.recBuffer = audio.NewBuffer(inCh, frames)
			e.recScratch = make([]float32, frames*inCh)
		}
	}
}

// readCapture drains the input device into the recording buffer and, when
// monitoring, into the master accumulator. Caller holds e.mu.
func (e *Engine) readCapture(frames int) {
	inCh := e.recBuffer.Channels
	scratch := e.recScratch[:frames*inCh]
	n := e.capture.ReadInto(scratch)
	got := n / inCh

	e.recBuffer.Silence()
	for i := 0; i < got; i++ {
		for c := 0; c < inCh; c++ {
			e.recBuffer.Channel(c)[i] = scratch[i*inCh+c]
		}
	}
	if e.monitorRecording {
		mono := e.recBuffer.Channel(0)
		for i := 0; i < got && i < e.inBuffer.Size; i++ {
			for k := 0; k < e.inBuffer.Channels; k++ {
				e.inBuffer.Channel(k)[i] = mono[i]
			}
		}
	}
}
