package mwengine

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cbegin/mwengine-go/internal/driver"
	"github.com/cbegin/mwengine-go/internal/notify"
)

// outputFileName is the concatenated recording written into the requested
// output directory on finish.
const outputFileName = "output.wav"

// SetRecordingState toggles recording of the engine output. maxBuffers is
// the snippet size in render buffers; outputDirectory receives the temp
// snippets and the final concatenated WAV. Stopping flushes the in-flight
// snippet and concatenates off the render thread.
func (e *Engine) SetRecordingState(on bool, maxBuffers int, outputDirectory string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if on {
		if e.recordFromDevice {
			return errors.New("device recording active; stop it before recording output")
		}
		if err := e.prepareWriterLocked(maxBuffers, outputDirectory, e.cfg.OutputChannels); err != nil {
			return err
		}
		e.recordOutput = true
		return nil
	}
	if !e.recordOutput {
		return nil
	}
	e.recordOutput = false
	e.haltRecording = false
	e.finishWriterAsyncLocked()
	return nil
}

// SetRecordingFromDeviceState toggles recording of the device input,
// mutually exclusive with output recording. SetMonitorRecording routes the
// input to the master bus while recording.
func (e *Engine) SetRecordingFromDeviceState(on bool, maxBuffers int, outputDirectory string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if on {
		if e.recordOutput {
			return errors.New("output recording active; stop it before recording from device")
		}
		if e.cfg.InputChannels < 1 {
			return errors.New("engine configured without input channels")
		}
		capture, err := driver.NewCapture(e.cfg.SampleRate, e.cfg.InputChannels)
		if err != nil {
			e.sink.Notify(notify.Message{Kind: notify.ErrorHardwareUnavailable})
			return err
		}
		if err := e.prepareWriterLocked(maxBuffers, outputDirectory, e.cfg.InputChannels); err != nil {
			capture.Close()
			return err
		}
		e.capture = capture
		e.recordFromDevice = true
		return nil
	}
	if !e.recordFromDevice {
		return nil
	}
	e.recordFromDevice = false
	if e.capture != nil {
		e.capture.Close()
		e.capture = nil
	}
	e.finishWriterAsyncLocked()
	return nil
}

// SetMonitorRecording routes the device input straight to the output while
// recording from device. Mind acoustic feedback on built-in microphones.
func (e *Engine) SetMonitorRecording(monitor bool) {
	e.mu.Lock()
	e.monitorRecording = monitor
	e.mu.Unlock()
}

// SetBounceState arms offline rendering of the loop range to file. While
// bouncing no device output is written and snippet persistence is
// synchronous to the render loop. Rendering starts with Start and ends when
// the loop point is reached, broadcasting BOUNCE_COMPLETE.
func (e *Engine) SetBounceState(on bool, maxBuffers int, outputDirectory string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if on {
		if err := e.prepareWriterLocked(maxBuffers, outputDirectory, e.cfg.OutputChannels); err != nil {
			return err
		}
		e.writer.Synchronous = true
		e.bouncing = true
		e.recordOutput = true
		return nil
	}
	e.bouncing = false
	e.recordOutput = false
	e.writer.Synchronous = false
	return nil
}

// HaltRecording asks the render loop to flush the in-flight snippet at the
// end of the current iteration without dropping it.
func (e *Engine) HaltRecording() {
	e.mu.Lock()
	if e.recordOutput || e.recordFromDevice {
		e.haltRecording = true
	}
	e.mu.Unlock()
}

// RecordingFileID counts the snippets the writer task has saved since
// recording was armed. Snippets persisted synchronously during a bounce are
// not counted.
func (e *Engine) RecordingFileID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recordingFileID
}

// prepareWriterLocked arms the disk writer and spawns the writer task that
// persists snippets in response to RECORDED_SNIPPET_READY. Caller holds
// e.mu.
func (e *Engine) prepareWriterLocked(maxBuffers int, outputDirectory string, channels int) error {
	if maxBuffers < 1 {
		return fmt.Errorf("maxBuffers must be >= 1, got %d", maxBuffers)
	}
	if outputDirectory == "" {
		return errors.New("output directory required")
	}
	chunkSize := maxBuffers * e.cfg.BufferSize
	outputPath := filepath.Join(outputDirectory, outputFileName)
	if err := e.writer.Prepare(outputPath, chunkSize, channels); err != nil {
		return err
	}
	e.recordingFileID = 0
	if e.writerCh == nil {
		e.writerCh = make(chan int, 4)
		go e.writerTask(e.writerCh)
	}
	return nil
}

// writerTask persists ready snippets off the render thread.
func (e *Engine) writerTask(ch <-chan int) {
	for index := range ch {
		e.mu.Lock()
		writer := e.writer
		e.mu.Unlock()
		_ = writer.WriteBufferToFile(index, true)
	}
}

// onWriterNotification forwards disk-writer notifications to the host and
// hands ready snippets to the writer task.
func (e *Engine) onWriterNotification(m notify.Message) {
	e.sink.Notify(m)
	switch m.Kind {
	case notify.RecordedSnippetReady:
		if e.writerCh != nil {
			select {
			case e.writerCh <- m.Value:
			default:
				// writer task saturated; the snippet stays buffered and is
				// flushed by Finish
			}
		}
	case notify.RecordedSnippetSaved:
		e.mu.Lock()
		e.recordingFileID++
		e.mu.Unlock()
	}
}

// finishWriterAsyncLocked concatenates the recording off the render and
// control threads. Caller holds e.mu.
func (e *Engine) finishWriterAsyncLocked() {
	writer := e.writer
	go func() {
		_ = writer.Finish()
	}()
}

// finishBounceLocked completes an offline bounce: the writer flushes and
// concatenates synchronously (there is no device output pressure), the
// completion is broadcast once and the render loop stops. Caller holds e.mu.
func (e *Engine) finishBounceLocked() {
	_ = e.writer.Finish()
	e.sink.Notify(notify.Message{Kind: notify.BounceComplete, Value: e.recordingFileID})
	e.bouncing = false
	e.recordOutput = false
	e.writer.Synchronous = false
	e.running.Store(false)
}

// bounceLoop drives the render loop offline, faster than real time, until
// the loop point stops it.
func (e *Engine) bounceLoop() {
	scratch := make([]float32, e.cfg.BufferSize*e.cfg.OutputChannels)
	for e.running.Load() {
		e.Render(scratch)
	}
}
