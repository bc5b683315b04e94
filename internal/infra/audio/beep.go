// Package audio implements the playback backend on top of beep.
package audio

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
	zlog "github.com/rs/zerolog/log"

	"github.com/tagtune/tagtune/internal/app/player"
)

const bufferLen = time.Second / 10

// Beep plays local audio files through the system output device. The
// speaker is initialized once at the sample rate of the first file;
// later files are resampled to it.
type Beep struct {
	mediaDir string

	mu          sync.Mutex
	initialized bool
	sampleRate  beep.SampleRate
	streamer    beep.StreamSeekCloser
	format      beep.Format
	ctrl        *beep.Ctrl
	volume      *effects.Volume
	file        *os.File
	percent     int

	// busy is written by the speaker's own goroutine when the stream
	// drains; it must not share b.mu with code that also takes the
	// speaker lock.
	busy atomic.Bool
}

// NewBeep creates a beep backend resolving relative paths under
// mediaDir.
func NewBeep(mediaDir string) *Beep {
	return &Beep{mediaDir: mediaDir, percent: 100}
}

// PlayFile starts playing the given file, replacing whatever was
// playing before.
func (b *Beep) PlayFile(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopLocked()

	if !filepath.IsAbs(path) {
		path = filepath.Join(b.mediaDir, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return player.NewBackendError(player.CodeFileMissing, err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".flac":
		streamer, format, err = flac.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		_ = f.Close()
		return player.BackendErrorf(player.CodeDecodeError, "unsupported format %s", ext)
	}
	if err != nil {
		_ = f.Close()
		return player.NewBackendError(player.CodeDecodeError, err)
	}

	if !b.initialized {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(bufferLen)); err != nil {
			_ = streamer.Close()
			_ = f.Close()
			return player.NewBackendError(player.CodeDeviceBusy, err)
		}
		b.initialized = true
		b.sampleRate = format.SampleRate
	}

	b.streamer = streamer
	b.format = format
	b.file = f
	b.ctrl = &beep.Ctrl{Streamer: b.outputStreamer(streamer, format)}
	b.volume = &effects.Volume{Streamer: b.ctrl, Base: 2, Volume: percentToVolume(b.percent), Silent: b.percent == 0}
	b.busy.Store(true)

	speaker.Play(beep.Seq(b.volume, beep.Callback(func() {
		b.busy.Store(false)
	})))

	zlog.Debug().Msgf("audio: playing %s (%d Hz)", filepath.Base(path), format.SampleRate)
	return nil
}

// outputStreamer resamples when the file's rate differs from the
// speaker's.
func (b *Beep) outputStreamer(streamer beep.Streamer, format beep.Format) beep.Streamer {
	if format.SampleRate == b.sampleRate {
		return streamer
	}
	return beep.Resample(4, format.SampleRate, b.sampleRate, streamer)
}

// Pause suspends output, keeping the stream position.
func (b *Beep) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctrl == nil {
		return nil
	}
	speaker.Lock()
	b.ctrl.Paused = true
	speaker.Unlock()
	return nil
}

// Resume continues suspended output.
func (b *Beep) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctrl == nil {
		return nil
	}
	speaker.Lock()
	b.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

// Stop ends playback and releases the open file.
func (b *Beep) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	return nil
}

func (b *Beep) stopLocked() {
	if b.streamer == nil {
		return
	}
	if b.initialized {
		speaker.Clear()
	}
	_ = b.streamer.Close()
	b.streamer = nil
	if b.file != nil {
		_ = b.file.Close()
		b.file = nil
	}
	b.ctrl = nil
	b.volume = nil
	b.busy.Store(false)
}

// Seek moves the current stream to the given absolute position.
func (b *Beep) Seek(pos time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamer == nil {
		return nil
	}
	target := b.format.SampleRate.N(pos)
	speaker.Lock()
	if target > b.streamer.Len() {
		target = b.streamer.Len()
	}
	err := b.streamer.Seek(target)
	speaker.Unlock()
	if err != nil {
		return player.NewBackendError(player.CodeDecodeError, err)
	}
	return nil
}

// SetVolume applies a 0-100 output level. The level persists across
// files.
func (b *Beep) SetVolume(percent int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.percent = percent
	if b.volume == nil {
		return nil
	}
	speaker.Lock()
	b.volume.Volume = percentToVolume(percent)
	b.volume.Silent = percent == 0
	speaker.Unlock()
	return nil
}

// IsBusy reports whether a file is loaded and not yet finished. A
// paused stream is still busy.
func (b *Beep) IsBusy() bool {
	return b.busy.Load()
}

// Position returns the elapsed time in the current file.
func (b *Beep) Position() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamer == nil {
		return 0
	}
	return b.format.SampleRate.D(b.streamer.Position())
}

// Duration returns the total length of the current file.
func (b *Beep) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamer == nil {
		return 0
	}
	return b.format.SampleRate.D(b.streamer.Len())
}

// Cleanup stops playback and closes the output device.
func (b *Beep) Cleanup() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	if b.initialized {
		speaker.Close()
		b.initialized = false
	}
	return nil
}

// percentToVolume converts a 0-100 level to beep's base-2 log scale:
// 100 maps to 0 (unchanged), 50 to -1 (half), 0 to silent.
func percentToVolume(percent int) float64 {
	if percent <= 0 {
		return -10
	}
	if percent >= 100 {
		return 0
	}
	return math.Log2(float64(percent) / 100)
}
