// SPDX-License-Identifier: MIT
/*
Package audio provides the signal sources behind the analysis engine:
- Live capture from a PortAudio input device
- WAV file playback for offline analysis
- Noise gate and WAV recording on the capture path

Thread Safety:
- The PortAudio callback only mixes, gates, records and appends to a ring
- Consumers take a consistent frame under a short mutex
- Buffers are allocated up front to avoid GC in the hot path
*/
package audio

import (
	"audioviz/internal/analysis"
	applog "audioviz/internal/log"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

var (
	ErrStreamOpen    = errors.New("input stream already open")
	ErrInvalidLayout = errors.New("invalid capture layout")
)

// CaptureConfig describes the input stream and the analysis frame it feeds.
type CaptureConfig struct {
	DeviceID        int // -1 selects the system default input.
	SampleRate      int
	FramesPerBuffer int
	Channels        int // Captured channels, mixed down to mono.
	LowLatency      bool
	GateThreshold   float64 // Peak level in [0,1]; 0 leaves the gate open.
	Spectrum        analysis.SpectrumConfig
}

// Capture is a live SignalSource fed by a PortAudio input stream. The
// stream callback mixes each buffer down to mono and appends it to a ring
// of the last FFT-size samples; the engine reads that ring once per tick.
type Capture struct {
	cfg CaptureConfig

	// Audio input handling.
	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream

	// Callback scratch, only touched on the audio thread.
	monoInput []float64

	gate     noiseGate
	recorder *Recorder

	// Ring of the most recent samples, guarded by mu.
	mu       sync.Mutex
	ring     []float64
	ringPos  int
	received atomic.Uint64 // Mono frames received since start.

	// Consumer side, owned by the goroutine calling the SignalSource methods.
	frame      []float64
	frameReady bool
	spectrum   *analysis.Spectrum
	bins       []float64

	logger *applog.Logger
}

var _ analysis.SignalSource = (*Capture)(nil)

// NewCapture resolves the input device and prepares buffers. The stream
// is not opened until Start. PortAudio must already be initialized.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	c, err := newCapture(cfg)
	if err != nil {
		return nil, err
	}

	inputDevice, err := InputDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	if inputDevice.MaxInputChannels < cfg.Channels {
		return nil, fmt.Errorf("%w: device '%s' has %d input channels, %d requested",
			ErrInvalidLayout, inputDevice.Name, inputDevice.MaxInputChannels, cfg.Channels)
	}
	c.inputDevice = inputDevice

	if cfg.LowLatency {
		c.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		c.inputLatency = inputDevice.DefaultHighInputLatency
	}

	return c, nil
}

// newCapture builds everything except the device binding.
func newCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.SampleRate <= 0 || cfg.FramesPerBuffer <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d, frames per buffer %d, channels %d",
			ErrInvalidLayout, cfg.SampleRate, cfg.FramesPerBuffer, cfg.Channels)
	}
	spectrum, err := analysis.NewSpectrum(cfg.Spectrum)
	if err != nil {
		return nil, err
	}

	c := &Capture{
		cfg:       cfg,
		monoInput: make([]float64, cfg.FramesPerBuffer),
		ring:      make([]float64, cfg.Spectrum.FFTSize),
		frame:     make([]float64, cfg.Spectrum.FFTSize),
		spectrum:  spectrum,
		bins:      make([]float64, spectrum.Bins()),
		logger:    applog.New("capture"),
	}
	c.SetGateThreshold(cfg.GateThreshold)
	if cfg.GateThreshold > 0 {
		c.EnableGate()
	}
	return c, nil
}

// SampleRate implements analysis.SignalSource.
func (c *Capture) SampleRate() int {
	return c.cfg.SampleRate
}

// Device returns the bound input device, or nil before NewCapture.
func (c *Capture) Device() *portaudio.DeviceInfo {
	return c.inputDevice
}

// Received returns the number of mono frames delivered by the stream.
func (c *Capture) Received() uint64 {
	return c.received.Load()
}

// StartInputStream opens and starts the PortAudio input stream.
func (c *Capture) StartInputStream() error {
	if c.inputStream != nil {
		return ErrStreamOpen
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: c.cfg.Channels,
			Device:   c.inputDevice,
			Latency:  c.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: c.cfg.FramesPerBuffer,
		SampleRate:      float64(c.cfg.SampleRate),
	}

	stream, err := portaudio.OpenStream(params, c.processInputStream)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	c.inputStream = stream

	if err := c.inputStream.Start(); err != nil {
		c.inputStream.Close()
		c.inputStream = nil
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	c.logger.Infof("stream started on '%s' (%dHz, %d ch, %d frames/buffer, latency %v)",
		c.inputDevice.Name, c.cfg.SampleRate, c.cfg.Channels, c.cfg.FramesPerBuffer, c.inputLatency)
	return nil
}

// StopInputStream stops and closes the stream if one is open.
func (c *Capture) StopInputStream() error {
	if c.inputStream != nil {
		if err := c.inputStream.Stop(); err != nil {
			return err
		}

		if err := c.inputStream.Close(); err != nil {
			return err
		}

		c.inputStream = nil
		c.logger.Infof("stream stopped after %d frames", c.Received())
	}

	return nil
}

// AttachRecorder routes every raw input buffer to r. Pass nil to detach.
// Call before StartInputStream.
func (c *Capture) AttachRecorder(r *Recorder) {
	c.recorder = r
}

// Close stops the input stream, then finalises any active recording so no
// callback writes after the file is closed.
func (c *Capture) Close() error {
	err := c.StopInputStream()
	if c.recorder != nil && c.recorder.Recording() {
		err = errors.Join(err, c.recorder.Stop())
	}
	return err
}

// processInputStream is the core audio processing callback.
// Performance Critical:
// - Runs on the PortAudio callback thread
// - Uses pre-allocated buffers only
// - Holds the ring mutex only for the copy
func (c *Capture) processInputStream(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if c.recorder != nil {
		c.recorder.Write(in)
	}

	mono := c.mixDown(in)
	c.gate.apply(mono)
	c.push(mono)
}

// mixDown averages interleaved channels into the mono scratch buffer.
func (c *Capture) mixDown(in []float32) []float64 {
	channels := c.cfg.Channels
	frames := len(in) / channels
	if frames > len(c.monoInput) {
		frames = len(c.monoInput)
	}
	mono := c.monoInput[:frames]

	if channels == 1 {
		for i := range mono {
			mono[i] = float64(in[i])
		}
		return mono
	}

	scale := 1 / float64(channels)
	for i := range mono {
		var sum float64
		for ch := range channels {
			sum += float64(in[i*channels+ch])
		}
		mono[i] = sum * scale
	}
	return mono
}

// push appends samples to the ring, overwriting the oldest.
func (c *Capture) push(samples []float64) {
	c.mu.Lock()
	n := len(c.ring)
	if len(samples) >= n {
		copy(c.ring, samples[len(samples)-n:])
		c.ringPos = 0
	} else {
		written := copy(c.ring[c.ringPos:], samples)
		if written < len(samples) {
			copy(c.ring, samples[written:])
		}
		c.ringPos = (c.ringPos + len(samples)) % n
	}
	c.mu.Unlock()
	c.received.Add(uint64(len(samples)))
}

// TimeDomainFrame implements analysis.SignalSource. It reports false until
// the stream has delivered its first buffer. Before the ring fills, the
// frame is zero-padded at the front.
func (c *Capture) TimeDomainFrame(dst []float64) bool {
	if c.received.Load() == 0 {
		return false
	}

	c.mu.Lock()
	// Oldest sample sits at ringPos.
	k := copy(c.frame, c.ring[c.ringPos:])
	copy(c.frame[k:], c.ring[:c.ringPos])
	c.mu.Unlock()

	c.frameReady = true
	copyRightAligned(dst, c.frame)
	return true
}

// FrequencyMagnitudes implements analysis.SignalSource for the frame most
// recently returned by TimeDomainFrame.
func (c *Capture) FrequencyMagnitudes(dst []float64) bool {
	if !c.frameReady {
		return false
	}
	c.spectrum.Process(c.frame, c.bins)
	n := copy(dst, c.bins)
	clear(dst[n:])
	return true
}

// copyRightAligned copies the newest min(len(dst), len(src)) samples of
// src to the end of dst and zeroes anything before them.
func copyRightAligned(dst, src []float64) {
	if len(src) >= len(dst) {
		copy(dst, src[len(src)-len(dst):])
		return
	}
	offset := len(dst) - len(src)
	clear(dst[:offset])
	copy(dst[offset:], src)
}
