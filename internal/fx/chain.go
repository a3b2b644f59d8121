package fx

import "github.com/cbegin/mwengine-go/internal/audio"

// Processor transforms a channel or master buffer in-place.
type Processor interface {
	Process(b *audio.Buffer, isMono bool)
	// Cacheable reports whether the processor's output may be captured into
	// a channel cache. Time-variant processors (delays, dynamics, tremolo)
	// must return false so they keep running every render cycle.
	Cacheable() bool
	Reset()
}

type chainEntry struct {
	processor Processor
	bypassed  bool
}

// Chain applies an ordered sequence of processors.
type Chain struct {
	entries []chainEntry
}

func NewChain(processors ...Processor) *Chain {
	c := &Chain{}
	for _, p := range processors {
		c.Add(p)
	}
	return c
}

func (c *Chain) Add(p Processor) {
	c.entries = append(c.entries, chainEntry{processor: p})
}

// SetBypassed toggles a processor in or out of the active set without
// changing its position in the chain. Out-of-range indices are ignored.
func (c *Chain) SetBypassed(index int, bypassed bool) {
	if index < 0 || index >= len(c.entries) {
		return
	}
	c.entries[index].bypassed = bypassed
}

// ActiveProcessors returns the enabled, non-bypassed processors in declared
// order.
func (c *Chain) ActiveProcessors() []Processor {
	out := make([]Processor, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.bypassed {
			out = append(out, e.processor)
		}
	}
	return out
}

func (c *Chain) Len() int {
	return len(c.entries)
}

func (c *Chain) Reset() {
	for _, e := range c.entries {
		e.processor.Reset()
	}
}

func (c *Chain) Clear() {
	c.entries = c.entries[:0]
}
