package sequencer

import "github.com/cbegin/mwengine-go/internal/audio"

// MixBuffer adds this event's samples into output for the window starting at
// bufferPosition. The wrap-around rules:
//
//  1. non-loopeable event, sequencer not looping: plain range check
//  2. non-loopeable event, sequencer loop straddles this buffer
//     (loopStarted): frames at i >= loopOffset re-check against
//     minBufferPosition + (i - loopOffset)
//  3. non-loopeable event on a channel with a local loop (useChannelRange):
//     positions past maxBufferPosition wrap by subtracting it; loopStarted
//     is ignored
//  4. loopeable event: an internal read pointer walks the source buffer and
//     wraps at its end, decoupling source traversal from sequencer position
//
// The lock is held for the duration of the call; external writers seeing it
// defer their updates until Unlock.
func (e *Event) MixBuffer(output *audio.Buffer, bufferPosition, minBufferPosition, maxBufferPosition int,
	loopStarted bool, loopOffset int, useChannelRange bool) {

	if !e.HasBuffer() {
		return
	}

	e.Lock()
	defer e.Unlock()

	bufferSize := output.Size
	channels := e.buffer.Channels
	if output.Channels < channels {
		channels = output.Channels
	}
	volume := audio.ToLinear(e.volume)

	if !e.loopeable {
		for i := 0; i < bufferSize; i++ {
			pointer := i + bufferPosition

			// past the loop range end? wrap for channel-local loops,
			// stop when the sequencer loop does not straddle this buffer
			if pointer > maxBufferPosition {
				if useChannelRange {
					pointer -= maxBufferPosition
				} else if !loopStarted {
					break
				}
			}

			if pointer >= e.start && pointer <= e.end {
				e.mixFrame(output, i, pointer-e.start, channels, volume)
			} else if loopStarted && i >= loopOffset {
				pointer = minBufferPosition + (i - loopOffset)
				if pointer >= e.start && pointer <= e.end {
					e.mixFrame(output, i, pointer-e.start, channels, volume)
				}
			}
		}
		return
	}

	// loopeable: the internal read pointer wraps through the source range
	for i := 0; i < bufferSize; i++ {
		pointer := i + bufferPosition

		if pointer >= e.start && pointer <= e.end {
			for c := 0; c < channels; c++ {
				output.Channel(c)[i] += e.buffer.Channel(c)[e.readPointer] * volume
			}
			e.readPointer++
			if e.readPointer > e.rangeEnd {
				e.readPointer = e.rangeStart
			}
		} else if loopStarted && pointer > maxBufferPosition {
			// sequencer loop restarted: rebase the window and retry this
			// frame; the read pointer keeps its own offset
			bufferPosition -= loopOffset
			i--
		}
	}
}

// mixFrame adds one source frame (at offset frames into the playback range)
// into output frame i across the mixed channels.
func (e *Event) mixFrame(output *audio.Buffer, i, offset, channels int, volume float32) {
	read := e.rangeStart + offset
	if read > e.rangeEnd || read >= e.buffer.Size {
		return
	}
	for c := 0; c < channels; c++ {
		output.Channel(c)[i] += e.buffer.Channel(c)[read] * volume
	}
}

// Synthesize returns a buffer of the given length for live playback. Sample
// and drum events return their source samples from the current read
// pointer; synth events render their oscillators. The returned buffer is
// only valid until the next call.
func (e *Event) Synthesize(bufferLength int) *audio.Buffer {
	if e.synth != nil {
		return e.synth.render(e, bufferLength)
	}
	out := audio.NewBuffer(outChannels(e), bufferLength)
	if e.buffer == nil {
		return out
	}
	for i := 0; i < bufferLength; i++ {
		for c := 0; c < out.Channels && c < e.buffer.Channels; c++ {
			out.Channel(c)[i] = e.buffer.Channel(c)[e.readPointer]
		}
		e.readPointer++
		if e.readPointer > e.rangeEnd {
			e.readPointer = e.rangeStart
		}
	}
	return out
}

func outChannels(e *Event) int {
	if e.buffer != nil {
		return e.buffer.Channels
	}
	return 1
}
