// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid analysis config")

// Engine defaults, tuned for a 44.1/48kHz microphone feeding a visualiser
// at display rate.
const (
	DefaultFFTSize         = 2048
	DefaultVolumeSmoothing = 0.08
	DefaultPitchSmoothing  = 0.15
	DefaultBeatThreshold   = 1.05
	DefaultBeatMinVolume   = 0.05
	DefaultPeakDecay       = 0.9
)

// Config is the immutable engine configuration. Build one with
// DefaultConfig and override fields before calling NewEngine.
type Config struct {
	FFTSize int

	Bass   BandConfig
	Mid    BandConfig
	Treble BandConfig

	VolumeSmoothing float64 // Rate in (0,1] for the loudness envelope.
	PitchSmoothing  float64 // Rate in (0,1] for the pitch estimate.

	BeatThreshold float64 // Ratio over the previous bass envelope, >= 1.
	BeatMinVolume float64 // Raw bass floor for a beat, >= 0.

	PeakDecay float64 // Per-tick multiplier of the held peak, in [0,1).

	Spectrum SpectrumConfig // Used by sources that compute their own spectrum.
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		FFTSize:         DefaultFFTSize,
		Bass:            BandConfig{MinHz: 20, MaxHz: 250, Attack: 0.9, Decay: 0.1},
		Mid:             BandConfig{MinHz: 250, MaxHz: 2000, Attack: 0.5, Decay: 0.1},
		Treble:          BandConfig{MinHz: 2000, MaxHz: 16000, Attack: 0.3, Decay: 0.1},
		VolumeSmoothing: DefaultVolumeSmoothing,
		PitchSmoothing:  DefaultPitchSmoothing,
		BeatThreshold:   DefaultBeatThreshold,
		BeatMinVolume:   DefaultBeatMinVolume,
		PeakDecay:       DefaultPeakDecay,
		Spectrum:        DefaultSpectrumConfig(DefaultFFTSize),
	}
}

// Validate checks c against a concrete sample rate; band limits can only
// be judged against Nyquist.
func (c Config) Validate(sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, sampleRate)
	}
	if !validFFTSize(c.FFTSize) {
		return fmt.Errorf("%w: %w, got %d", ErrInvalidConfig, ErrFFTSize, c.FFTSize)
	}

	nyquist := float64(sampleRate) / 2
	bands := []struct {
		name string
		band BandConfig
	}{
		{"bass", c.Bass},
		{"mid", c.Mid},
		{"treble", c.Treble},
	}
	for _, b := range bands {
		if err := validateBand(b.band, nyquist); err != nil {
			return fmt.Errorf("%w: %s band: %w", ErrInvalidConfig, b.name, err)
		}
	}

	if !validRate(c.VolumeSmoothing) {
		return fmt.Errorf("%w: volume smoothing must be within (0, 1], got %g", ErrInvalidConfig, c.VolumeSmoothing)
	}
	if !validRate(c.PitchSmoothing) {
		return fmt.Errorf("%w: pitch smoothing must be within (0, 1], got %g", ErrInvalidConfig, c.PitchSmoothing)
	}
	if !(c.BeatThreshold >= 1) || !isFinite(c.BeatThreshold) {
		return fmt.Errorf("%w: beat threshold ratio must be >= 1, got %g", ErrInvalidConfig, c.BeatThreshold)
	}
	if !(c.BeatMinVolume >= 0) || !isFinite(c.BeatMinVolume) {
		return fmt.Errorf("%w: beat floor must be >= 0, got %g", ErrInvalidConfig, c.BeatMinVolume)
	}
	if !(c.PeakDecay >= 0 && c.PeakDecay < 1) {
		return fmt.Errorf("%w: peak decay must be within [0, 1), got %g", ErrInvalidConfig, c.PeakDecay)
	}
	return nil
}

func validateBand(b BandConfig, nyquist float64) error {
	if !isFinite(b.MinHz) || !isFinite(b.MaxHz) || b.MinHz < 0 {
		return fmt.Errorf("range [%g, %g) is not a valid frequency range", b.MinHz, b.MaxHz)
	}
	if b.MinHz >= b.MaxHz {
		return fmt.Errorf("range [%g, %g) is empty or inverted", b.MinHz, b.MaxHz)
	}
	if b.MinHz >= nyquist {
		return fmt.Errorf("range starts at %gHz, at or above Nyquist %gHz", b.MinHz, nyquist)
	}
	if !validRate(b.Attack) {
		return fmt.Errorf("attack must be within (0, 1], got %g", b.Attack)
	}
	if !validRate(b.Decay) {
		return fmt.Errorf("decay must be within (0, 1], got %g", b.Decay)
	}
	return nil
}

func validRate(r float64) bool {
	return r > 0 && r <= 1
}

// SpectrumConfig returns the analyser settings sources should use to
// produce magnitudes for an engine built from c.
func (c Config) SpectrumConfig() SpectrumConfig {
	s := c.Spectrum
	if s == (SpectrumConfig{}) {
		s = DefaultSpectrumConfig(c.FFTSize)
	}
	s.FFTSize = c.FFTSize
	return s
}
