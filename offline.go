package mwengine

// RenderSamples drives the render loop offline for the given number of
// frames and returns the interleaved output. The engine must not be running
// against a device; useful for tests and non-realtime processing.
func RenderSamples(e *Engine, frames int) []float32 {
	bufferSize := e.cfg.BufferSize
	out := make([]float32, 0, frames*e.cfg.OutputChannels)
	scratch := make([]float32, bufferSize*e.cfg.OutputChannels)
	for rendered := 0; rendered < frames; rendered += bufferSize {
		n := bufferSize
		if frames-rendered < n {
			n = frames - rendered
			scratch = scratch[:n*e.cfg.OutputChannels]
		}
		e.Render(scratch)
		out = append(out, scratch...)
	}
	return out
}
