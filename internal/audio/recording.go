// SPDX-License-Identifier: MIT
package audio

import (
	"audioviz/internal/config"
	applog "audioviz/internal/log"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
	ErrBitDepth         = errors.New("unsupported recording bit depth")
)

// wavFormatPCM is the WAVE_FORMAT_PCM audio format tag.
const wavFormatPCM = 1

// Recorder writes the raw interleaved capture stream to a PCM WAV file.
// Write is called from the audio callback; Start and Stop from any other
// goroutine.
type Recorder struct {
	sampleRate int
	channels   int
	bitDepth   int
	fullScale  float64 // Largest positive sample value at bitDepth.

	isRecording atomic.Bool

	mu         sync.Mutex
	filename   string
	outputFile *os.File
	wavEncoder *wav.Encoder
	sampleBuf  *audio.IntBuffer // Reusable buffer for format conversion
	maxFrames  int              // 0 for unlimited.
	frames     int
	failures   int

	logger *applog.Logger
}

// NewRecorder prepares a recorder for a stream layout. bufferFrames sizes
// the conversion buffer so steady-state writes do not grow it.
func NewRecorder(sampleRate, channels, bitDepth, bufferFrames int) (*Recorder, error) {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d", ErrBitDepth, bitDepth)
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d, channels %d", ErrInvalidLayout, sampleRate, channels)
	}

	return &Recorder{
		sampleRate: sampleRate,
		channels:   channels,
		bitDepth:   bitDepth,
		fullScale:  float64(int64(1)<<(bitDepth-1) - 1),
		sampleBuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			Data:           make([]int, 0, max(bufferFrames, 1)*channels),
			SourceBitDepth: bitDepth,
		},
		logger: applog.New("recording"),
	}, nil
}

// RecordingFilename returns a timestamped file name inside dir.
func RecordingFilename(dir string, t time.Time) string {
	return filepath.Join(dir, "audioviz-"+t.Format("20060102-150405")+".wav")
}

// Start creates filename (and its directory) and begins accepting
// writes. maxDuration caps the recorded length; 0 means unlimited.
func (r *Recorder) Start(filename string, maxDuration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRecording.Load() {
		return ErrAlreadyRecording
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create recording directory: %w", err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	r.filename = filename
	r.outputFile = file
	r.wavEncoder = wav.NewEncoder(file, r.sampleRate, r.bitDepth, r.channels, wavFormatPCM)
	r.maxFrames = int(maxDuration.Seconds() * float64(r.sampleRate))
	r.frames = 0
	r.failures = 0

	r.isRecording.Store(true)
	r.logger.Infof("recording to %s (%dHz, %d ch, %d bit)", filename, r.sampleRate, r.channels, r.bitDepth)

	return nil
}

// Recording reports whether a file is open for writing.
func (r *Recorder) Recording() bool {
	return r.isRecording.Load()
}

// Filename returns the current or last recording path.
func (r *Recorder) Filename() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filename
}

// Frames returns the number of frames written to the current file.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Write converts interleaved float samples to integer PCM and appends
// them. It is a no-op when not recording or once the duration cap is hit.
// After DefaultMaxConsecutiveWriteFailures failed writes in a row the
// recorder gives up and stops accepting samples.
func (r *Recorder) Write(samples []float32) {
	if !r.isRecording.Load() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wavEncoder == nil || r.failures >= config.DefaultMaxConsecutiveWriteFailures {
		return
	}

	frames := len(samples) / r.channels
	if r.maxFrames > 0 {
		frames = min(frames, r.maxFrames-r.frames)
		if frames <= 0 {
			return
		}
	}
	n := frames * r.channels

	data := r.sampleBuf.Data[:0]
	for _, s := range samples[:n] {
		data = append(data, int(math.Round(clampSample(float64(s))*r.fullScale)))
	}
	r.sampleBuf.Data = data

	if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
		r.failures++
		r.logger.Errorf("error writing to WAV file (%d/%d): %v", r.failures, config.DefaultMaxConsecutiveWriteFailures, err)
		return
	}
	r.failures = 0
	r.frames += frames
}

// clampSample limits v to [-1, 1]; NaN becomes silence.
func clampSample(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}

// Stop finalises the WAV header and closes the file.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRecording.Load() {
		return ErrNotRecording
	}

	r.isRecording.Store(false)

	if r.wavEncoder != nil {
		if err := r.wavEncoder.Close(); err != nil {
			r.outputFile.Close()
			r.wavEncoder, r.outputFile = nil, nil
			return fmt.Errorf("failed to finalise %s: %w", r.filename, err)
		}
		r.wavEncoder = nil
	}

	if r.outputFile != nil {
		if err := r.outputFile.Close(); err != nil {
			r.outputFile = nil
			return err
		}
		r.outputFile = nil
	}

	r.logger.Infof("recording stopped, %d frames written to %s", r.frames, r.filename)
	return nil
}
