package driver

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// Renderer produces interleaved float32 frames on demand. The audio backend
// pulls; one Render call corresponds to one render-loop iteration.
type Renderer interface {
	Render(dst []float32)
}

// StoppingRenderer additionally signals when rendering has ended (e.g. a
// completed bounce); the stream then returns io.EOF.
type StoppingRenderer interface {
	Renderer
	Stopped() bool
}

// streamReader adapts a Renderer to the io.Reader the backend consumes,
// converting float32 frames to little-endian bytes.
type streamReader struct {
	mu       sync.Mutex
	source   Renderer
	channels int
	buf      []float32
}

func newStreamReader(source Renderer, channels int) *streamReader {
	if channels < 1 {
		channels = 1
	}
	return &streamReader{source: source, channels: channels}
}

func (r *streamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// backend output is stereo f32: 8 bytes per frame
	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * r.channels
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Render(r.buf)

	for i := 0; i < frames; i++ {
		var l, rr float32
		if r.channels == 1 {
			l = r.buf[i]
			rr = l
		} else {
			l = r.buf[i*r.channels]
			rr = r.buf[i*r.channels+1]
		}
		binary.LittleEndian.PutUint32(p[i*8:], math.Float32bits(l))
		binary.LittleEndian.PutUint32(p[i*8+4:], math.Float32bits(rr))
	}
	n := frames * 8
	if sr, ok := r.source.(StoppingRenderer); ok && sr.Stopped() {
		return n, io.EOF
	}
	return n, nil
}

func (r *streamReader) Close() error { return nil }

// Output owns the hardware playback side of the engine.
type Output struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// NewOutput opens the output device for the given renderer. Failure to
// acquire the device is reported to the caller, which broadcasts the
// hardware-unavailable notification.
func NewOutput(sampleRate, channels int, source Renderer) (*Output, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := newStreamReader(source, channels)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &Output{player: pl, reader: reader}, nil
}

func (o *Output) Play()  { o.player.Play() }
func (o *Output) Pause() { o.player.Pause() }

func (o *Output) IsPlaying() bool { return o.player.IsPlaying() }

func (o *Output) Close() error {
	o.player.Pause()
	o.player.Close()
	return o.reader.Close()
}
