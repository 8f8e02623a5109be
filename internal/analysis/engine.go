// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"math"
	"sync/atomic"

	applog "audioviz/internal/log"

	"github.com/cwbudde/algo-vecmath"
)

// DefaultSensitivity is the gain applied before clamping when none is set.
const DefaultSensitivity = 1.0

var ErrNilSource = errors.New("signal source is nil")

// Engine turns SignalSource frames into smoothed features, one Advance
// per tick.
//
// Advance, Reset and Snapshot belong to a single owner goroutine (the
// driver). SetSensitivity and Sensitivity may be called from any
// goroutine; a new value applies from the next Advance.
type Engine struct {
	cfg        Config
	source     SignalSource
	sampleRate float64

	sensitivity atomic.Uint64 // math.Float64bits of the gain.

	frame    []float64 // Time domain, FFTSize samples.
	spectrum []float64 // Normalized magnitudes, FFTSize/2 bins.
	pitch    *PitchDetector
	beat     BeatDetector

	state state
	ticks uint64

	logger *applog.Logger
}

// NewEngine validates cfg against the source's sample rate and allocates
// every buffer the engine will use.
func NewEngine(cfg Config, source SignalSource) (*Engine, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	sampleRate := source.SampleRate()
	if err := cfg.Validate(sampleRate); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		source:     source,
		sampleRate: float64(sampleRate),
		frame:      make([]float64, cfg.FFTSize),
		spectrum:   make([]float64, cfg.FFTSize/2),
		pitch:      NewPitchDetector(cfg.FFTSize),
		beat:       BeatDetector{ThresholdRatio: cfg.BeatThreshold, MinEnergy: cfg.BeatMinVolume},
		state:      newState(),
		logger:     applog.New("analysis"),
	}
	e.SetSensitivity(DefaultSensitivity)

	e.logger.Infof("engine ready (fft=%d, bins=%d, sample rate=%dHz)", cfg.FFTSize, len(e.spectrum), sampleRate)
	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// SampleRate returns the source rate captured at construction.
func (e *Engine) SampleRate() float64 {
	return e.sampleRate
}

// Ticks returns the number of completed analysis steps.
func (e *Engine) Ticks() uint64 {
	return e.ticks
}

// SetSensitivity sets the input gain. Negative and non-finite values are
// stored as 0.
func (e *Engine) SetSensitivity(v float64) {
	if !isFinite(v) || v < 0 {
		v = 0
	}
	e.sensitivity.Store(math.Float64bits(v))
}

// Sensitivity returns the current input gain.
func (e *Engine) Sensitivity() float64 {
	return math.Float64frombits(e.sensitivity.Load())
}

// Snapshot returns a copy of the current features.
func (e *Engine) Snapshot() Snapshot {
	return e.state.snapshot(e.ticks)
}

// Reset zeroes the analysis state. Sensitivity and the tick counter are
// kept.
func (e *Engine) Reset() {
	e.state = newState()
}

// Advance runs one analysis step. It returns false, leaving the state
// untouched, when the source has no frame for this tick.
func (e *Engine) Advance() bool {
	if !e.source.TimeDomainFrame(e.frame) {
		return false
	}
	if !e.source.FrequencyMagnitudes(e.spectrum) {
		return false
	}
	if n := sanitizeFrame(e.frame, e.spectrum); n > 0 {
		e.logger.Debugf("coerced %d non-finite values in tick %d", n, e.ticks)
	}

	s := &e.state
	gain := e.Sensitivity()

	// 1. Gain stage.
	rawVolume := math.Min(1, RMS(e.frame)*gain)
	rawBass := e.rawBand(e.cfg.Bass, gain)
	rawMid := e.rawBand(e.cfg.Mid, gain)
	rawTreble := e.rawBand(e.cfg.Treble, gain)

	// 2. Beat, against the envelope from the previous tick.
	s.beat = e.beat.Detect(rawBass, s.bass)

	// 3. Smoothing.
	s.volume = clamp01(Smooth(s.volume, rawVolume, e.cfg.VolumeSmoothing))
	s.bass = clamp01(AsymmetricSmooth(s.bass, rawBass, e.cfg.Bass.Attack, e.cfg.Bass.Decay))
	s.mid = clamp01(AsymmetricSmooth(s.mid, rawMid, e.cfg.Mid.Attack, e.cfg.Mid.Decay))
	s.treble = clamp01(AsymmetricSmooth(s.treble, rawTreble, e.cfg.Treble.Attack, e.cfg.Treble.Decay))

	// 4. Whole-spectrum descriptors.
	bins := float64(len(e.spectrum))
	s.energy = clamp01(vecmath.Sum(e.spectrum) / bins)
	s.variability = clamp01(spectralVariation(e.spectrum) / bins)
	s.peak = clamp01(math.Max(vecmath.MaxAbs(e.spectrum), s.peak*e.cfg.PeakDecay))

	// 5. Pitch.
	if hz, ok := e.pitch.Detect(e.frame, e.sampleRate); ok {
		if s.pitch > 0 {
			hz = Smooth(s.pitch, hz, e.cfg.PitchSmoothing)
		}
		s.pitch = hz
		s.note = FrequencyToNote(hz)
	}

	e.ticks++
	return true
}

func (e *Engine) rawBand(b BandConfig, gain float64) float64 {
	return math.Min(1, BandEnergy(e.spectrum, b.MinHz, b.MaxHz, e.sampleRate)*gain)
}

// spectralVariation sums |x[i] - x[i-1]| over adjacent bins.
func spectralVariation(x []float64) float64 {
	var sum float64
	for i := 1; i < len(x); i++ {
		sum += math.Abs(x[i] - x[i-1])
	}
	return sum
}

// sanitizeFrame replaces non-finite samples with 0 and clamps spectrum
// bins to [0,1]. It returns how many non-finite values were replaced.
func sanitizeFrame(frame, spectrum []float64) int {
	replaced := 0
	for i, v := range frame {
		if !isFinite(v) {
			frame[i] = 0
			replaced++
		}
	}
	for i, v := range spectrum {
		if !isFinite(v) {
			replaced++
		}
		spectrum[i] = clamp01(v)
	}
	return replaced
}
