package sequencer

import (
	"github.com/cbegin/mwengine-go/internal/audio"
	"github.com/cbegin/mwengine-go/internal/fx"
)

// Channel is the per-instrument mix bus: an output buffer, a processing
// chain, an optional pre-rendered cache and the transient event lists for
// the current render pass.
type Channel struct {
	MixVolume float32
	Muted     bool
	IsMono    bool

	// MaxBufferPosition of 0 tracks the sequencer loop; a nonzero value
	// gives the channel a local loop of that length (e.g. the drum machine
	// looping a single bar).
	MaxBufferPosition int

	HasLiveEvents bool

	chain *fx.Chain

	outputBuffer   *audio.Buffer
	outputChannels int

	cachedBuffer      *audio.Buffer
	canCache          bool
	isCaching         bool
	hasCache          bool
	cacheReadPointer  int
	cacheWritePointer int
	cacheStartOffset  int
	cacheEndOffset    int

	events     []*Event
	liveEvents []*Event
}

func NewChannel(mixVolume float32) *Channel {
	return &Channel{
		MixVolume: mixVolume,
		chain:     fx.NewChain(),
	}
}

// AddProcessor appends a processor to the channel chain. Chain mutations
// drop any cached output, as the cache captured the previous chain.
func (ch *Channel) AddProcessor(p fx.Processor) {
	ch.chain.Add(p)
	ch.InvalidateCache()
}

// SetProcessorBypassed toggles a processor in or out of the active set.
func (ch *Channel) SetProcessorBypassed(index int, bypassed bool) {
	ch.chain.SetBypassed(index, bypassed)
	ch.InvalidateCache()
}

// ClearProcessors empties the chain.
func (ch *Channel) ClearProcessors() {
	ch.chain.Clear()
	ch.InvalidateCache()
}

// ActiveProcessors returns the enabled processors in declared order.
func (ch *Channel) ActiveProcessors() []fx.Processor {
	return ch.chain.ActiveProcessors()
}

// ProcessorCount reports the chain length including bypassed entries.
func (ch *Channel) ProcessorCount() int {
	return ch.chain.Len()
}

// Reset clears both event lists at the start of a collection pass.
func (ch *Channel) Reset() {
	ch.events = ch.events[:0]
	ch.liveEvents = ch.liveEvents[:0]
	ch.HasLiveEvents = false
}

func (ch *Channel) AddEvent(e *Event) {
	ch.events = append(ch.events, e)
}

func (ch *Channel) AddLiveEvent(e *Event) {
	ch.HasLiveEvents = true
	ch.liveEvents = append(ch.liveEvents, e)
}

func (ch *Channel) Events() []*Event     { return ch.events }
func (ch *Channel) LiveEvents() []*Event { return ch.liveEvents }

// CreateOutputBuffer (re)allocates the channel output buffer. It is
// idempotent: an existing buffer with matching size and channel count is
// kept.
func (ch *Channel) CreateOutputBuffer(bufferSize, channels int) {
	if ch.outputBuffer != nil &&
		ch.outputBuffer.Size == bufferSize &&
		ch.outputBuffer.Channels == channels {
		return
	}
	ch.outputBuffer = audio.NewBuffer(channels, bufferSize)
	ch.outputChannels = channels
}

func (ch *Channel) OutputBuffer() *audio.Buffer { return ch.outputBuffer }

func (ch *Channel) CanCache() bool  { return ch.canCache }
func (ch *Channel) IsCaching() bool { return ch.isCaching }
func (ch *Channel) HasCache() bool  { return ch.hasCache }

// SetCanCache arms or disarms the channel cache. Arming allocates (or
// reuses) a cache buffer of exactly bufferSize frames covering the read
// offsets [startOffset, endOffset]; a previous cache at a different size is
// freed. Disarming clears the cache.
func (ch *Channel) SetCanCache(value bool, bufferSize, startOffset, endOffset int) {
	if !ch.canCache {
		ch.cacheWritePointer = 0
	}
	ch.canCache = value
	ch.cacheStartOffset = startOffset
	ch.cacheEndOffset = endOffset

	if !value || (ch.cachedBuffer != nil && ch.cachedBuffer.Size != bufferSize) {
		ch.ClearCachedBuffer()
	}
	if value {
		if ch.cachedBuffer == nil {
			channels := ch.outputChannels
			if channels < 1 {
				channels = 1
			}
			ch.cachedBuffer = audio.NewBuffer(channels, bufferSize)
		}
		ch.isCaching = true
	} else {
		ch.isCaching = false
	}
}

// WriteCache appends the channel buffer contents (from readOffset) into the
// cache. When the cache fills, the channel flips to serving reads.
func (ch *Channel) WriteCache(channelBuffer *audio.Buffer, readOffset int) {
	if ch.cachedBuffer == nil {
		return
	}
	merged := ch.cachedBuffer.Merge(channelBuffer, readOffset, ch.cacheWritePointer, 1.0)
	perChannel := 0
	if channelBuffer.Channels > 0 {
		divisor := ch.cachedBuffer.Channels
		if channelBuffer.Channels < divisor {
			divisor = channelBuffer.Channels
		}
		if divisor > 0 {
			perChannel = merged / divisor
		}
	}
	ch.cacheWritePointer += perChannel

	if ch.cacheWritePointer >= ch.cachedBuffer.Size {
		ch.hasCache = true
		ch.isCaching = false
		ch.cacheReadPointer = 0
		ch.cacheWritePointer = 0
	}
}

// ReadCachedBuffer merges the cache into the output buffer when the
// requested read offset falls inside the cached range, advancing the read
// pointer by one output buffer size.
func (ch *Channel) ReadCachedBuffer(output *audio.Buffer, readOffset int) {
	if ch.cachedBuffer == nil {
		return
	}
	if readOffset >= ch.cacheStartOffset && readOffset <= ch.cacheEndOffset {
		output.Merge(ch.cachedBuffer, ch.cacheReadPointer, 0, 1.0)
		ch.cacheReadPointer += output.Size
		if ch.cacheReadPointer >= ch.cachedBuffer.Size {
			ch.cacheReadPointer = 0
		}
	}
}

// ClearCachedBuffer frees the cache. The channel then neither serves nor
// captures until SetCanCache arms it again; the CanCache and IsCaching flags
// keep their values.
func (ch *Channel) ClearCachedBuffer() {
	ch.cachedBuffer = nil
	ch.hasCache = false
}

// InvalidateCache drops any cached output and restarts capture on the next
// render pass. Called when the chain, the cached events or the loop range
// change.
func (ch *Channel) InvalidateCache() {
	ch.ClearCachedBuffer()
	ch.cacheWritePointer = 0
	ch.cacheReadPointer = 0
	if ch.canCache {
		ch.SetCanCache(true, ch.cacheEndOffset-ch.cacheStartOffset+1, ch.cacheStartOffset, ch.cacheEndOffset)
	}
}
