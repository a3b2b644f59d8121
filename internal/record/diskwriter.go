package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/wav"

	"github.com/cbegin/mwengine-go/internal/audio"
	"github.com/cbegin/mwengine-go/internal/notify"
)

// DiskWriter streams the engine output (or device input) to disk without
// blocking the render thread. Two fixed-size buffers rotate: the render
// thread appends into the current one while a writer task persists the
// previously filled one as a temp WAV snippet. Finish concatenates the
// snippets into a single output file, deleting each temp file once its
// samples have been appended.
type DiskWriter struct {
	sink notify.Sink

	sampleRate int
	chunkSize  int
	channels   int

	outputFile string
	tempDir    string

	mu            sync.Mutex
	buffers       [2]*snippet
	current       int
	savedSnippets int
	outputFiles   []writtenFile
	prepared      bool

	// Synchronous forces snippet persistence inline with the append (used
	// while bouncing, when there is no device output pressure).
	Synchronous bool
}

type snippet struct {
	buf     *audio.Buffer
	written int
}

type writtenFile struct {
	path   string
	frames int
}

func NewDiskWriter(sampleRate int, sink notify.Sink) *DiskWriter {
	if sink == nil {
		sink = notify.SinkFunc(func(notify.Message) {})
	}
	return &DiskWriter{sampleRate: sampleRate, sink: sink}
}

// Prepare clears previous state and arms the writer. The temp directory for
// snippets is the dirname of outputPath. Only the first snippet buffer is
// allocated here; the second is allocated by the first rotation, and a
// buffer detached by WriteBufferToFile is allocated again by the rotation
// that next needs it.
func (w *DiskWriter) Prepare(outputPath string, chunkSize, channels int) error {
	if chunkSize < 1 || channels < 1 {
		return fmt.Errorf("invalid recording config (chunkSize %d, channels %d)", chunkSize, channels)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.outputFile = outputPath
	w.tempDir = filepath.Dir(outputPath)
	w.chunkSize = chunkSize
	w.channels = channels
	w.savedSnippets = 0
	w.current = 0
	w.outputFiles = w.outputFiles[:0]
	w.buffers[0] = &snippet{buf: audio.NewBuffer(channels, chunkSize)}
	w.buffers[1] = nil
	w.prepared = true
	return nil
}

func (w *DiskWriter) Prepared() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prepared
}

// AppendBuffer appends a (non-interleaved) buffer from the render thread.
// A rotation notifies the writer task; in Synchronous mode it writes the
// full snippet to disk inline instead.
func (w *DiskWriter) AppendBuffer(b *audio.Buffer) {
	if b == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.prepared {
		return
	}
	for frame := 0; frame < b.Size; frame++ {
		cur := w.buffers[w.current]
		if cur.written == w.chunkSize {
			w.rotateLocked(true)
			cur = w.buffers[w.current]
		}
		for c := 0; c < w.channels && c < b.Channels; c++ {
			cur.buf.Channel(c)[cur.written] = b.Channel(c)[frame]
		}
		cur.written++
	}
}

// AppendInterleaved appends interleaved samples (the device output layout)
// from the render thread.
func (w *DiskWriter) AppendInterleaved(samples []float32, frames, channels int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.prepared {
		return
	}
	for frame := 0; frame < frames; frame++ {
		cur := w.buffers[w.current]
		if cur.written == w.chunkSize {
			w.rotateLocked(true)
			cur = w.buffers[w.current]
		}
		for c := 0; c < w.channels && c < channels; c++ {
			cur.buf.Channel(c)[cur.written] = samples[frame*channels+c]
		}
		cur.written++
	}
}

// SnippetFull reports whether the in-flight buffer has reached the chunk
// size.
func (w *DiskWriter) SnippetFull() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.prepared {
		return false
	}
	return w.buffers[w.current].written >= w.chunkSize
}

// Flush rotates the in-flight buffer out for persistence even when it is
// not full, e.g. when recording is halted.
func (w *DiskWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.prepared || w.buffers[w.current].written == 0 {
		return
	}
	w.rotateLocked(true)
}

// rotateLocked marks the current buffer ready and swaps in the other one.
// Synchronous mode persists inline; otherwise the host is notified via
// RECORDED_SNIPPET_READY and persists through WriteBufferToFile.
func (w *DiskWriter) rotateLocked(broadcast bool) {
	readyIndex := w.current
	w.current = 1 - w.current
	if w.buffers[w.current] == nil {
		w.buffers[w.current] = &snippet{buf: audio.NewBuffer(w.channels, w.chunkSize)}
	}
	w.buffers[w.current].written = 0

	if w.Synchronous {
		_ = w.writeSnippetLocked(readyIndex, false)
	} else if broadcast {
		w.sink.Notify(notify.Message{Kind: notify.RecordedSnippetReady, Value: readyIndex})
	}
}

// WriteBufferToFile persists the indexed snippet buffer as a temp WAV. With
// broadcast set, RECORDED_SNIPPET_SAVED is emitted with the snippet number.
// Called by the writer task in response to RECORDED_SNIPPET_READY; during
// bouncing persistence happens synchronously instead.
//
// The snippet is detached under the lock and encoded outside it, so the
// render thread's appends into the other buffer never wait on file I/O.
func (w *DiskWriter) WriteBufferToFile(index int, broadcast bool) error {
	w.mu.Lock()
	if !w.prepared || index < 0 || index > 1 {
		w.mu.Unlock()
		return errors.New("no snippet to write")
	}
	snip := w.buffers[index]
	if snip == nil || snip.written == 0 {
		w.mu.Unlock()
		return nil
	}
	w.buffers[index] = nil // rotation re-allocates on demand
	number := w.savedSnippets
	w.savedSnippets++
	path := filepath.Join(w.tempDir, fmt.Sprintf("rec_snippet_%d.wav", number))
	sampleRate := w.sampleRate
	w.mu.Unlock()

	if err := writeWAV(path, snip.buf, snip.written, sampleRate); err != nil {
		return err
	}

	w.mu.Lock()
	w.outputFiles = append(w.outputFiles, writtenFile{path: path, frames: snip.written})
	w.mu.Unlock()

	if broadcast {
		w.sink.Notify(notify.Message{Kind: notify.RecordedSnippetSaved, Value: number})
	}
	return nil
}

func (w *DiskWriter) writeSnippetLocked(index int, broadcast bool) error {
	if !w.prepared || index < 0 || index > 1 {
		return errors.New("no snippet to write")
	}
	snip := w.buffers[index]
	if snip == nil || snip.written == 0 {
		return nil
	}
	path := filepath.Join(w.tempDir, fmt.Sprintf("rec_snippet_%d.wav", w.savedSnippets))
	if err := writeWAV(path, snip.buf, snip.written, w.sampleRate); err != nil {
		return err
	}
	w.outputFiles = append(w.outputFiles, writtenFile{path: path, frames: snip.written})
	snip.written = 0

	if broadcast {
		w.sink.Notify(notify.Message{Kind: notify.RecordedSnippetSaved, Value: w.savedSnippets})
	}
	w.savedSnippets++
	return nil
}

// Finish flushes the active buffer, concatenates all temp snippets in order
// into the single output WAV and deletes each temp file after its samples
// have been appended, bounding peak disk use to the in-flight snippet plus
// the growing output. Errors abort and leave partial output in place.
func (w *DiskWriter) Finish() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.prepared {
		return errors.New("disk writer not prepared")
	}

	// persist whatever is still in flight
	for i := 0; i < 2; i++ {
		if w.buffers[i] != nil && w.buffers[i].written > 0 {
			if err := w.writeSnippetLocked(i, false); err != nil {
				return err
			}
		}
	}
	w.prepared = false
	w.buffers[0] = nil
	w.buffers[1] = nil

	if len(w.outputFiles) == 0 {
		return errors.New("nothing recorded")
	}

	f, err := os.Create(w.outputFile)
	if err != nil {
		return fmt.Errorf("create output %s: %w", w.outputFile, err)
	}
	enc := wav.NewEncoder(f, w.sampleRate, pcmBitDepth, w.channels, 1)

	for _, file := range w.outputFiles {
		if _, err := appendWAV(enc, file.path); err != nil {
			f.Close()
			return err
		}
		os.Remove(file.path)
	}
	w.outputFiles = w.outputFiles[:0]

	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize output %s: %w", w.outputFile, err)
	}
	return f.Close()
}
