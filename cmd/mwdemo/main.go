package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	mwengine "github.com/cbegin/mwengine-go"
	"github.com/cbegin/mwengine-go/internal/audio"
	"github.com/cbegin/mwengine-go/internal/fx"
	"github.com/cbegin/mwengine-go/internal/notify"
	"github.com/cbegin/mwengine-go/internal/sequencer"
	"github.com/cbegin/mwengine-go/internal/synth"
)

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 44100, "output sample rate")
		bufferSize = flag.Int("buffer-size", 1024, "render buffer size in frames")
		tempo      = flag.Float64("tempo", 120, "tempo in BPM")
		bars       = flag.Int("bars", 1, "loop length in bars")
		bounceDir  = flag.String("bounce", "", "bounce the loop to <dir>/output.wav instead of playing")
		seconds    = flag.Int("seconds", 8, "playback duration when not bouncing")
		withDelay  = flag.Bool("delay", false, "add a delay to the lead channel")
	)
	flag.Parse()

	engine, err := mwengine.New(mwengine.Config{
		SampleRate:     *sampleRate,
		BufferSize:     *bufferSize,
		OutputChannels: 2,
		ChannelCaching: true,
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := engine.Prepare(*bufferSize, *sampleRate, *tempo, 4, 4); err != nil {
		log.Fatal(err)
	}
	if err := engine.UpdateMeasures(*bars, 16); err != nil {
		log.Fatal(err)
	}

	buildArrangement(engine, *sampleRate, *withDelay)

	engine.SetPlaying(true)

	if *bounceDir != "" {
		bounce(engine, *bounceDir)
		return
	}
	play(engine, *seconds)
}

// buildArrangement registers a synth lead and a drum machine playing a basic
// house pattern.
func buildArrangement(engine *mwengine.Engine, sampleRate int, withDelay bool) {
	seq := engine.Sequencer()
	samplesPerBar := engine.SamplesPerBar()

	lead := sequencer.NewInstrument(seq, 0.8)
	if withDelay {
		lead.Channel().AddProcessor(fx.NewDelay(sampleRate, 2, 250, 0.4, 0.2, 0.3))
	}
	notes := []float64{220, 277.18, 329.63, 440}
	for i, freq := range notes {
		ev := sequencer.NewSynthEvent(lead, sampleRate, synth.WaveSaw, freq, 2)
		ev.SetLength(samplesPerBar / 8)
		ev.Position(0, 4, i, samplesPerBar)
		ev.SetVolume(0.7)
		ev.AddToSequencer()
	}

	drums := sequencer.NewDrumInstrument(seq, 0.9, demoKit(sampleRate))
	for step := 0; step < 16; step += 4 {
		kick := sequencer.NewDrumEvent(drums, step, sequencer.TimbreKick)
		kick.SetDrumPosition(step, samplesPerBar, 16)
		kick.AddToSequencer()
	}
	for step := 2; step < 16; step += 4 {
		hat := sequencer.NewDrumEvent(drums, step, sequencer.TimbreHiHat)
		hat.SetDrumPosition(step, samplesPerBar, 16)
		hat.AddToSequencer()
	}
}

// demoKit renders a minimal kick / hi-hat pair so the demo needs no sample
// files on disk.
func demoKit(sampleRate int) map[sequencer.DrumTimbre]*audio.Buffer {
	kick := audio.NewBuffer(2, sampleRate/8)
	for i := 0; i < kick.Size; i++ {
		t := float64(i) / float64(sampleRate)
		env := math.Exp(-18 * t)
		s := float32(math.Sin(2*math.Pi*55*t) * env)
		kick.Channel(0)[i] = s
		kick.Channel(1)[i] = s
	}
	hat := audio.NewBuffer(2, sampleRate/32)
	seed := uint32(7)
	for i := 0; i < hat.Size; i++ {
		seed = seed*1664525 + 1013904223
		env := math.Exp(-60 * float64(i) / float64(sampleRate))
		s := float32((float64(int32(seed))/math.MaxInt32)*0.5) * float32(env)
		hat.Channel(0)[i] = s
		hat.Channel(1)[i] = s
	}
	return map[sequencer.DrumTimbre]*audio.Buffer{
		sequencer.TimbreKick:  kick,
		sequencer.TimbreHiHat: hat,
	}
}

func bounce(engine *mwengine.Engine, dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatal(err)
	}
	maxBuffers := 16
	if err := engine.SetBounceState(true, maxBuffers, dir); err != nil {
		log.Fatal(err)
	}
	events := engine.Watch()
	if err := engine.Start(); err != nil {
		log.Fatal(err)
	}
	for msg := range events {
		if msg.Kind == notify.BounceComplete {
			fmt.Println("bounce complete:", filepath.Join(dir, "output.wav"))
			return
		}
	}
}

func play(engine *mwengine.Engine, seconds int) {
	go func() {
		for msg := range engine.Watch() {
			switch msg.Kind {
			case notify.MarkerPositionReached:
				fmt.Println("marker reached")
			case notify.SequencerTempoUpdated:
				fmt.Printf("tempo now %.1f BPM\n", engine.Tempo())
			}
		}
	}()
	if err := engine.Start(); err != nil {
		log.Fatal(err)
	}
	defer engine.Stop()
	fmt.Printf("playing loop for %ds...\n", seconds)
	time.Sleep(time.Duration(seconds) * time.Second)
}
