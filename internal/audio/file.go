// SPDX-License-Identifier: MIT
package audio

import (
	"audioviz/internal/analysis"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/wav"
)

var ErrInvalidWAV = errors.New("not a valid WAV file")

// FileSource replays decoded audio as a SignalSource. Every call to
// TimeDomainFrame advances the read position by the hop size and returns
// the FFT-size window ending there, so a hop of sampleRate/tickRate
// replays the file at real-time pace for the driver.
type FileSource struct {
	samples    []float64 // Mono, [-1, 1].
	sampleRate int
	hop        int
	pos        int // End of the most recent window.

	frame      []float64
	frameReady bool
	spectrum   *analysis.Spectrum
	bins       []float64
}

var (
	_ analysis.SignalSource = (*FileSource)(nil)
	_ analysis.Exhaustible  = (*FileSource)(nil)
)

// OpenFile decodes a PCM WAV file for replay at tickRate windows per
// second of audio.
func OpenFile(path string, spectrum analysis.SpectrumConfig, tickRate float64) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, err := NewFileSource(f, spectrum, tickRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

// NewFileSource decodes WAV data from r, mixing all channels to mono. The
// hop is derived from the file's sample rate and tickRate.
func NewFileSource(r io.ReadSeeker, spectrum analysis.SpectrumConfig, tickRate float64) (*FileSource, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode PCM data: %w", err)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidWAV, channels)
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}

	// 8-bit WAV is unsigned, wider formats are signed.
	offset, scale := 0.0, 1/float64(int64(1)<<(bitDepth-1))
	if bitDepth == 8 {
		offset = 128
	}

	frames := len(buf.Data) / channels
	mono := make([]float64, frames)
	channelScale := scale / float64(channels)
	for i := range mono {
		var sum float64
		for ch := range channels {
			sum += float64(buf.Data[i*channels+ch]) - offset
		}
		mono[i] = sum * channelScale
	}

	sampleRate := buf.Format.SampleRate
	return NewSampleSource(mono, sampleRate, spectrum, HopForTickRate(sampleRate, tickRate))
}

// NewSampleSource replays in-memory mono samples.
func NewSampleSource(samples []float64, sampleRate int, spectrum analysis.SpectrumConfig, hop int) (*FileSource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidLayout, sampleRate)
	}
	if hop <= 0 {
		return nil, fmt.Errorf("%w: hop %d", ErrInvalidLayout, hop)
	}
	s, err := analysis.NewSpectrum(spectrum)
	if err != nil {
		return nil, err
	}

	return &FileSource{
		samples:    samples,
		sampleRate: sampleRate,
		hop:        hop,
		frame:      make([]float64, spectrum.FFTSize),
		spectrum:   s,
		bins:       make([]float64, s.Bins()),
	}, nil
}

// HopForTickRate returns the hop that replays audio in real time at the
// given tick rate. A non-positive tick rate yields one window per second.
func HopForTickRate(sampleRate int, tickRate float64) int {
	if tickRate <= 0 {
		return sampleRate
	}
	return max(1, int(float64(sampleRate)/tickRate+0.5))
}

// SampleRate implements analysis.SignalSource.
func (f *FileSource) SampleRate() int {
	return f.sampleRate
}

// Duration returns the length of the decoded audio.
func (f *FileSource) Duration() time.Duration {
	return time.Duration(float64(len(f.samples)) / float64(f.sampleRate) * float64(time.Second))
}

// Position returns the playback time of the current window's end.
func (f *FileSource) Position() time.Duration {
	return time.Duration(float64(f.pos) / float64(f.sampleRate) * float64(time.Second))
}

// Exhausted reports whether every sample has been delivered.
func (f *FileSource) Exhausted() bool {
	return f.pos >= len(f.samples)
}

// Rewind restarts playback and clears the analyser history.
func (f *FileSource) Rewind() {
	f.pos = 0
	f.frameReady = false
	f.spectrum.Reset()
}

// TimeDomainFrame implements analysis.SignalSource.
func (f *FileSource) TimeDomainFrame(dst []float64) bool {
	if f.Exhausted() {
		f.frameReady = false
		return false
	}
	f.pos = min(f.pos+f.hop, len(f.samples))

	start := max(0, f.pos-len(f.frame))
	copyRightAligned(f.frame, f.samples[start:f.pos])
	f.frameReady = true

	copyRightAligned(dst, f.frame)
	return true
}

// FrequencyMagnitudes implements analysis.SignalSource.
func (f *FileSource) FrequencyMagnitudes(dst []float64) bool {
	if !f.frameReady {
		return false
	}
	f.spectrum.Process(f.frame, f.bins)
	n := copy(dst, f.bins)
	clear(dst[n:])
	return true
}
