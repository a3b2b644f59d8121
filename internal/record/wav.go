package record

import (
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/cbegin/mwengine-go/internal/audio"
)

const pcmBitDepth = 16

// writeWAV encodes frames of buf (16-bit LE PCM, interleaved, canonical
// RIFF/WAVE) into path.
func writeWAV(path string, buf *audio.Buffer, frames, sampleRate int) error {
	if frames > buf.Size {
		frames = buf.Size
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	enc := wav.NewEncoder(f, sampleRate, pcmBitDepth, buf.Channels, 1)

	data := make([]int, frames*buf.Channels)
	for i := 0; i < frames; i++ {
		for c := 0; c < buf.Channels; c++ {
			data[i*buf.Channels+c] = sampleToPCM(buf.Channel(c)[i])
		}
	}
	ib := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: buf.Channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: pcmBitDepth,
	}
	if err := enc.Write(ib); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return f.Close()
}

// appendWAV decodes a snippet file and appends its PCM data to enc.
// Returns the appended frame count.
func appendWAV(enc *wav.Encoder, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open snippet %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	ib, err := dec.FullPCMBuffer()
	if err != nil {
		return 0, fmt.Errorf("decode snippet %s: %w", path, err)
	}
	if err := enc.Write(ib); err != nil {
		return 0, fmt.Errorf("append snippet %s: %w", path, err)
	}
	channels := ib.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	return len(ib.Data) / channels, nil
}

func sampleToPCM(s float32) int {
	if s > 1.0 {
		s = 1.0
	} else if s < -1.0 {
		s = -1.0
	}
	return int(math.Round(float64(s) * 32767))
}
